// Package main provides the bcpathway command line: it characterizes breast-cancer care
// pathways from an SNDS-shaped warehouse and serves the engine over HTTP and MCP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
	lite       bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "bcpathway",
		Short:         "Breast-cancer care pathway characterization engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: config.yaml in ., ./config or /etc/bc-pathway)")
	root.PersistentFlags().BoolVar(&opts.lite, "lite", false, "use the BCP_* environment settings and the local data directory instead of a config file")

	root.AddCommand(
		newCharacterizeCmd(opts),
		newStatsCmd(),
		newServeCmd(opts),
		newMCPCmd(opts),
		newMigrateCmd(opts),
		newRunsCmd(opts),
		newSetupCmd(),
	)
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
