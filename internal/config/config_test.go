package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	converrors "github.com/arkilian/nsys2chrome/internal/errors"
	"github.com/arkilian/nsys2chrome/internal/trace"
	"github.com/arkilian/nsys2chrome/pkg/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, types.FullCategorySet(), opts.Categories())
	assert.True(t, opts.IncludeMetadata())
	assert.False(t, opts.IncludeFlows())
	assert.Equal(t, types.ContainStrict, opts.Containment())

	wopts, err := cfg.WriteOptions()
	require.NoError(t, err)
	assert.Equal(t, trace.WriteOptions{Envelope: trace.EnvelopeObject, Compression: trace.CompressionAuto}, wopts)
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nsys2chrome.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
conversion:
  activity_types: [kernel, nvtx-kernel]
  include_flows: true
  containment: start
  nvtx_prefixes: ["step"]
  nvtx_color_scheme:
    - {pattern: "forward", color: "good"}
    - {pattern: "^back", color: "bad"}
output:
  envelope: array
  compression: zstd
workers: 2
publish:
  enabled: true
  type: s3
  prefix: runs/
  s3:
    bucket: traces
    region: us-east-1
`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"kernel", "nvtx-kernel"}, cfg.Conversion.ActivityTypes)
	assert.True(t, cfg.Conversion.IncludeMetadata, "defaults survive a partial file")
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "s3", cfg.Publish.Type)
	assert.Equal(t, "runs/", cfg.Publish.Prefix)
	assert.Equal(t, "traces", cfg.Publish.S3.Bucket)

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, types.NewCategorySet(types.CategoryKernel, types.CategoryNVTXKernel), opts.Categories())
	assert.True(t, opts.IncludeFlows())
	assert.Equal(t, types.ContainStart, opts.Containment())
	assert.Equal(t, []string{"step"}, opts.NVTXPrefixes())
	assert.Equal(t, "good", opts.ColorFor(types.CategoryNVTX, "forward"))
	assert.Equal(t, "bad", opts.ColorFor(types.CategoryNVTX, "backward"))

	wopts, err := cfg.WriteOptions()
	require.NoError(t, err)
	assert.Equal(t, trace.EnvelopeArray, wopts.Envelope)
	assert.Equal(t, trace.CompressionZstd, wopts.Compression)
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nsys2chrome.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"conversion": {"activity_types": ["sched"], "include_metadata": false},
		"publish": {"enabled": true, "type": "local", "path": "/tmp/out"}
	}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"sched"}, cfg.Conversion.ActivityTypes)
	assert.False(t, cfg.Conversion.IncludeMetadata)
	assert.Equal(t, "/tmp/out", cfg.Publish.Path)
}

func TestLoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	toml := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(toml, []byte("workers = 2"), 0644))
	_, err = LoadFromFile(toml)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("workers: [unterminated"), 0644))
	_, err = LoadFromFile(bad)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(EnvPrefix+"ACTIVITY_TYPES", "kernel, osrt")
	t.Setenv(EnvPrefix+"INCLUDE_FLOWS", "1")
	t.Setenv(EnvPrefix+"WORKERS", "8")
	t.Setenv(EnvPrefix+"LOG_LEVEL", "debug")
	t.Setenv(EnvPrefix+"OUTPUT_COMPRESSION", "gzip")
	t.Setenv(EnvPrefix+"PUBLISH_TYPE", "s3")
	t.Setenv(EnvPrefix+"S3_BUCKET", "bucket")
	t.Setenv(EnvPrefix+"PUBLISH_PREFIX", "nightly/")
	t.Setenv(EnvPrefix+"S3_ENDPOINT", "http://localhost:9000")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, []string{"kernel", "osrt"}, cfg.Conversion.ActivityTypes)
	assert.True(t, cfg.Conversion.IncludeFlows)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "gzip", cfg.Output.Compression)
	assert.Equal(t, "s3", cfg.Publish.Type)
	assert.Equal(t, "bucket", cfg.Publish.S3.Bucket)
	assert.Equal(t, "nightly/", cfg.Publish.Prefix)
	assert.Equal(t, "http://localhost:9000", cfg.Publish.S3.Endpoint)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown category", func(c *Config) { c.Conversion.ActivityTypes = []string{"kernel", "gpu-metrics"} }},
		{"flows by name", func(c *Config) { c.Conversion.ActivityTypes = []string{"cuda-flow"} }},
		{"containment", func(c *Config) { c.Conversion.Containment = "overlap" }},
		{"envelope", func(c *Config) { c.Output.Envelope = "ndjson" }},
		{"compression", func(c *Config) { c.Output.Compression = "brotli" }},
		{"workers", func(c *Config) { c.Workers = 0 }},
		{"s3 without bucket", func(c *Config) {
			c.Publish.Enabled = true
			c.Publish.Type = "s3"
		}},
		{"publish type", func(c *Config) {
			c.Publish.Enabled = true
			c.Publish.Type = "ftp"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, converrors.ErrCategoryConfig, converrors.GetCategory(err))
			assert.True(t, converrors.IsFatal(err))
		})
	}
}
