package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thruflo/ppgcam/internal/config"
	"github.com/thruflo/ppgcam/internal/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	rootDir      string
	rootLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "ppgcam",
	Short: "Camera PPG capture and streaming client",
	Long: `ppgcam captures fingertip-over-flash camera frames, streams them to a
remote PPG analyzer and reports heart rate and a blood-pressure estimate.

Settings are read from .ppgcam/config.yaml and .ppgcam/.env in the
working directory (or --dir). Readings are not medical advice.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("ppgcam version {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&rootDir, "dir", "", "directory holding .ppgcam/ (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads the config for the --dir base path and applies the log
// level.
func loadConfig() (*config.Config, error) {
	base := rootDir
	if base == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		base = cwd
	}

	cfg, err := config.LoadConfig(base)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if rootLogLevel != "" {
		cfg.Logging.Level = rootLogLevel
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logging.SetLevel(level)
	return cfg, nil
}
