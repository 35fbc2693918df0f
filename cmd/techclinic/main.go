package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"techclinic/internal/config"
	"techclinic/internal/logging"
)

const defaultConfigFile = "techclinic.yaml"

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "techclinic",
	Short: "TechClinic repair desk backend and CLI",
	Long: `techclinic runs the repair desk dashboard backend against the TechClinic API
and offers a few scripted lookups.

Configuration is read from --config (default ./techclinic.yaml when present)
and TECHCLINIC_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			if _, err := os.Stat(defaultConfigFile); err == nil {
				path = defaultConfigFile
			}
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, err = logging.New(cfg.Logging.Level, cfg.Logging.Development)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd, loginCmd, jobsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
