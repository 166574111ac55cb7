package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/woxQAQ/nnbridge/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "nnbridge",
		Short:        "Run Wasm game engines against a host inference runtime",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "Path to configuration file")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(),
		newInspectCmd(),
		newListCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the configuration named by --config and applies --log-level.
func loadConfig(cmd *cobra.Command) (*config.HostConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadHostConfig(path)
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newLogger returns a development logger for debug and a production logger otherwise.
func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}

	zapConfig := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zapConfig.Level = lvl
	return zapConfig.Build()
}
