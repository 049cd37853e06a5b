package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bc-pathway-engine/internal/setup"
)

func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Register the MCP server with a desktop MCP client",
	}

	var opts setup.Options
	register := &cobra.Command{
		Use:   "register",
		Short: "Add or update the bc-pathway-engine entry in the client config",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := setup.Configure(opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s in %s\nrestart the client to pick it up\n", setup.ServerName, path)
			return nil
		},
	}
	register.Flags().StringVar(&opts.ConfigPath, "client-config", "", "client config file (default: detected per OS)")
	register.Flags().StringVar(&opts.BinaryPath, "binary", "", "path to the bcpathway binary (default: looked up)")
	register.Flags().StringVar(&opts.DataDir, "data-dir", "", "data directory exported as BCP_DATA_DIR")
	register.Flags().StringVar(&opts.RecordDSN, "record-store", "", "warehouse path exported as BCP_RECORD_STORE")

	var statusPath string
	status := &cobra.Command{
		Use:   "status",
		Short: "Show whether the server is registered",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := setup.GetStatus(statusPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "client config: %s\n", st.ConfigPath)
			fmt.Fprintf(out, "registered:    %t\n", st.Configured)
			if st.ServerPath != "" {
				fmt.Fprintf(out, "binary:        %s\n", st.ServerPath)
			}
			if st.DataDir != "" {
				fmt.Fprintf(out, "data dir:      %s\n", st.DataDir)
			}
			for _, issue := range st.Issues {
				fmt.Fprintf(out, "issue:         %s\n", issue)
			}
			return nil
		},
	}
	status.Flags().StringVar(&statusPath, "client-config", "", "client config file (default: detected per OS)")

	cmd.AddCommand(register, status)
	return cmd
}
