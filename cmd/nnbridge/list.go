package main

import (
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/woxQAQ/nnbridge/internal/host"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list [dir...]",
		Aliases: []string{"ls"},
		Short:   "List the guests found in directories",
		Long:    "List every valid guest in the subdirectories of each dir (default: the parent of guest_path).",
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

			paths := args
			if len(paths) == 0 {
				paths = []string{filepath.Dir(cfg.GuestPath)}
			}

			h, err := host.NewHost(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer h.Close(cmd.Context())

			guests, err := h.Discover(cmd.Context(), paths)
			if err != nil {
				return err
			}

			var rows [][]string
			for _, g := range guests {
				modes := strings.Join(g.Manifest.Modes, ",")
				if modes == "" {
					modes = "-"
				}
				rows = append(rows, []string{
					g.Name(),
					g.Version(),
					modes,
					humanize.Bytes(uint64(g.Compiled.SizeBytes)),
					g.Manifest.Dir(),
				})
			}

			renderTable(cmd.OutOrStdout(), []string{"NAME", "VERSION", "MODES", "SIZE", "PATH"}, rows)
			return nil
		},
	}
}
