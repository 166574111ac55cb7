package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/woxQAQ/nnbridge/internal/guest"
	"github.com/woxQAQ/nnbridge/internal/host"
)

func newRunCmd() *cobra.Command {
	var launch guest.Launch

	cmd := &cobra.Command{
		Use:   "run [guest-dir]",
		Short: "Run a guest engine",
		Long: "Run the guest in guest-dir (default: guest_path from the configuration).\n" +
			"The guest's stdin and stdout are this process's console.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			logger.Info("Starting nnbridge",
				zap.String("version", version),
				zap.String("commit", commit),
				zap.String("date", date),
			)

			dir := cfg.GuestPath
			if len(args) == 1 {
				dir = args[0]
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			go func() {
				select {
				case sig := <-sigChan:
					logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
					cancel()
				case <-ctx.Done():
				}
			}()

			h, err := host.NewHost(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer h.Close(context.WithoutCancel(ctx))

			if err := h.Run(ctx, dir, launch); err != nil {
				logger.Error("Guest failed", zap.Error(err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&launch.Mode, "mode", "", "Guest sub-mode (default: mode from the configuration, then the guest's first)")
	cmd.Flags().StringVar(&launch.Config, "engine-config", "", "Guest config file (default: config_file from the configuration, then the guest's first)")
	cmd.Flags().StringVar(&launch.ModelLocation, "model", "", "Model location (default: model_location from the configuration)")
	return cmd
}
