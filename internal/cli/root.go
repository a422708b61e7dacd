// Package cli implements the nsys2chrome commands.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arkilian/nsys2chrome/internal/config"
	converrors "github.com/arkilian/nsys2chrome/internal/errors"
	"github.com/arkilian/nsys2chrome/internal/log"
)

// Exit codes.
const (
	ExitFailure = 1
	// ExitPublishFailed means the trace was written but not published
	ExitPublishFailed = 2
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	configFile string
	logLevel   string
	jsonLogs   bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "nsys2chrome",
	Short: "Convert Nsight Systems SQLite exports to Chrome trace JSON",
	Long: "nsys2chrome reads the SQLite export of an Nsight Systems profile and writes a\n" +
		"Chrome Trace Event Format document for chrome://tracing or Perfetto.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration file (YAML or JSON)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	RootCmd.PersistentFlags().BoolVar(&jsonLogs, "log-json", false, "Emit structured JSON logs")
}

// SetVersion records the build version printed by the version command.
func SetVersion(v, c string) {
	version, commit = v, c
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	if converrors.GetCategory(err) == converrors.ErrCategoryStorage && converrors.IsRetryable(err) {
		return ExitPublishFailed
	}
	return ExitFailure
}

// loadConfig layers the config file, environment and logging flags, then
// installs the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if jsonLogs {
		cfg.Log.Structured = true
	}
	if err := log.Configure(log.Options{
		Level:      cfg.Log.Level,
		Structured: cfg.Log.Structured,
		Output:     cmd.ErrOrStderr(),
	}); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	return cfg, nil
}
