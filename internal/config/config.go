// Package config provides file and environment configuration for conversions.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	converrors "github.com/arkilian/nsys2chrome/internal/errors"
	"github.com/arkilian/nsys2chrome/internal/storage"
	"github.com/arkilian/nsys2chrome/internal/trace"
	"github.com/arkilian/nsys2chrome/pkg/types"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NSYS2CHROME_"

// Config holds the full configuration of a conversion run.
type Config struct {
	// Conversion selects and shapes the emitted events
	Conversion ConversionConfig `json:"conversion" yaml:"conversion"`

	// Output controls how the trace file is encoded
	Output OutputConfig `json:"output" yaml:"output"`

	// Workers bounds how many extractors run at once
	Workers int `json:"workers" yaml:"workers"`

	// SingleReader serializes reads through one export connection
	SingleReader bool `json:"single_reader" yaml:"single_reader"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`

	// Publish configuration
	Publish PublishConfig `json:"publish" yaml:"publish"`
}

// ConversionConfig mirrors types.ConversionOptions.
type ConversionConfig struct {
	// ActivityTypes lists the requested categories by wire name
	ActivityTypes []string `json:"activity_types" yaml:"activity_types"`

	IncludeMetadata bool `json:"include_metadata" yaml:"include_metadata"`
	IncludeFlows    bool `json:"include_flows" yaml:"include_flows"`
	BeginEndRanges  bool `json:"begin_end_ranges" yaml:"begin_end_ranges"`

	// Containment is strict or start
	Containment string `json:"containment" yaml:"containment"`

	// NVTXPrefixes keeps only annotations starting with one of these
	NVTXPrefixes []string `json:"nvtx_prefixes" yaml:"nvtx_prefixes"`

	// ColorScheme maps name or category patterns to color tokens, first match wins
	ColorScheme []types.ColorRule `json:"nvtx_color_scheme" yaml:"nvtx_color_scheme"`
}

// OutputConfig holds trace file settings.
type OutputConfig struct {
	// Envelope is object or array
	Envelope string `json:"envelope" yaml:"envelope"`

	// Compression is auto, none, gzip, zstd or snappy
	Compression string `json:"compression" yaml:"compression"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`
	Structured bool   `json:"structured" yaml:"structured"`
}

// PublishConfig controls uploading finished traces.
type PublishConfig struct {
	Enabled        bool `json:"enabled" yaml:"enabled"`
	storage.Config `json:",inline" yaml:",inline"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cats := types.AllCategories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.String()
	}
	return &Config{
		Conversion: ConversionConfig{
			ActivityTypes:   names,
			IncludeMetadata: true,
			Containment:     types.ContainStrict.String(),
		},
		Output: OutputConfig{
			Envelope:    trace.EnvelopeObject.String(),
			Compression: trace.CompressionAuto.String(),
		},
		Workers: 4,
		Log: LogConfig{
			Level: "info",
		},
		Publish: PublishConfig{
			Config: storage.Config{
				Type:   "local",
				Path:   "./published",
				Prefix: "traces/",
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := c.categories(); err != nil {
		return err
	}
	if _, err := types.ParseContainmentRule(c.Conversion.Containment); err != nil {
		return converrors.NewConfigError(err.Error())
	}
	if _, err := trace.ParseEnvelope(c.Output.Envelope); err != nil {
		return converrors.NewConfigError(err.Error())
	}
	if _, err := trace.ParseCompression(c.Output.Compression); err != nil {
		return converrors.NewConfigError(err.Error())
	}
	if c.Workers < 1 {
		return converrors.NewConfigError(fmt.Sprintf("workers must be at least 1, got %d", c.Workers))
	}
	if c.Publish.Enabled {
		switch c.Publish.Type {
		case "local":
			if c.Publish.Path == "" {
				return converrors.NewConfigError("publish.path is required when publish type is local")
			}
		case "s3":
			if c.Publish.S3.Bucket == "" {
				return converrors.NewConfigError("publish.s3.bucket is required when publish type is s3")
			}
		default:
			return converrors.NewConfigError(fmt.Sprintf("invalid publish type: %s (must be local or s3)", c.Publish.Type))
		}
	}
	return nil
}

func (c *Config) categories() ([]types.Category, error) {
	cats := make([]types.Category, 0, len(c.Conversion.ActivityTypes))
	for _, name := range c.Conversion.ActivityTypes {
		cat, err := types.ParseCategory(name)
		if err != nil {
			return nil, converrors.NewConfigError(err.Error())
		}
		cats = append(cats, cat)
	}
	return cats, nil
}

// Options converts the configuration into conversion options. The
// configuration must be valid.
func (c *Config) Options() (types.ConversionOptions, error) {
	cats, err := c.categories()
	if err != nil {
		return types.ConversionOptions{}, err
	}
	rule, err := types.ParseContainmentRule(c.Conversion.Containment)
	if err != nil {
		return types.ConversionOptions{}, converrors.NewConfigError(err.Error())
	}
	return types.DefaultOptions().
		WithCategories(cats...).
		WithMetadata(c.Conversion.IncludeMetadata).
		WithFlows(c.Conversion.IncludeFlows).
		WithBeginEndRanges(c.Conversion.BeginEndRanges).
		WithContainment(rule).
		WithNVTXPrefixes(c.Conversion.NVTXPrefixes).
		WithColorScheme(c.Conversion.ColorScheme), nil
}

// WriteOptions returns the trace file settings. The configuration must be valid.
func (c *Config) WriteOptions() (trace.WriteOptions, error) {
	env, err := trace.ParseEnvelope(c.Output.Envelope)
	if err != nil {
		return trace.WriteOptions{}, converrors.NewConfigError(err.Error())
	}
	comp, err := trace.ParseCompression(c.Output.Compression)
	if err != nil {
		return trace.WriteOptions{}, converrors.NewConfigError(err.Error())
	}
	return trace.WriteOptions{Envelope: env, Compression: comp}, nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overlays environment variables onto cfg.
// Environment variables use the NSYS2CHROME_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := getenv("ACTIVITY_TYPES"); v != "" {
		cfg.Conversion.ActivityTypes = splitList(v)
	}
	if v := getenv("INCLUDE_METADATA"); v != "" {
		cfg.Conversion.IncludeMetadata = parseBool(v)
	}
	if v := getenv("INCLUDE_FLOWS"); v != "" {
		cfg.Conversion.IncludeFlows = parseBool(v)
	}
	if v := getenv("CONTAINMENT"); v != "" {
		cfg.Conversion.Containment = v
	}
	if v := getenv("WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}

	// Logging
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("LOG_STRUCTURED"); v != "" {
		cfg.Log.Structured = parseBool(v)
	}

	// Output
	if v := getenv("OUTPUT_ENVELOPE"); v != "" {
		cfg.Output.Envelope = v
	}
	if v := getenv("OUTPUT_COMPRESSION"); v != "" {
		cfg.Output.Compression = v
	}

	// Publishing
	if v := getenv("PUBLISH"); v != "" {
		cfg.Publish.Enabled = parseBool(v)
	}
	if v := getenv("PUBLISH_TYPE"); v != "" {
		cfg.Publish.Type = v
	}
	if v := getenv("PUBLISH_PATH"); v != "" {
		cfg.Publish.Path = v
	}
	if v := getenv("PUBLISH_PREFIX"); v != "" {
		cfg.Publish.Prefix = v
	}
	if v := getenv("S3_BUCKET"); v != "" {
		cfg.Publish.S3.Bucket = v
	}
	if v := getenv("S3_REGION"); v != "" {
		cfg.Publish.S3.Region = v
	}
	if v := getenv("S3_ENDPOINT"); v != "" {
		cfg.Publish.S3.Endpoint = v
	}
}

func getenv(name string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + name))
}

func parseBool(v string) bool {
	return v == "true" || v == "1"
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
