// ABOUTME: Main entry point for the audio relay server and listening client
// ABOUTME: Defines the cobra command tree and shared config loading
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/harper/audiorelay/internal/application/config"
	"github.com/harper/audiorelay/internal/application/logging"
)

var (
	// Version is set at build time with -ldflags.
	Version = "dev"

	configFile string
	logLevel   string
	logJSON    bool
)

var rootCmd = &cobra.Command{
	Use:           "audiorelay",
	Short:         "Real-time audio fan-out relay and resilient listening client",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "audiorelay", Version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal("fatal", "error", err)
	}
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON")

	rootCmd.AddCommand(serveCmd, listenCmd, versionCmd)
}

// loadConfig layers flags over the config file and environment.
func loadConfig(cmd *cobra.Command) (*config.Config, *log.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Logging.JSON = logJSON
	}

	logger, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
