package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/woxQAQ/nnbridge/pkg/protocol"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nnbridge %s (commit %s, built %s)\n", version, commit, date)
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", protocol.SchemaVersion)
		},
	}
}
