package main

import (
	"github.com/spf13/cobra"

	"github.com/bc-pathway-engine/internal/api"
	"github.com/bc-pathway-engine/internal/mcp"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{withEngine: true, withResults: true, withPublisher: true})
			if err != nil {
				return err
			}
			defer a.Close()

			a.logger.WithField("environment", cfg.Environment).Info("Starting bc-pathway HTTP API")
			server := api.NewServer(cfg, a.characterizer, a.results, a.publisher, a.logger)
			if err := server.Start(cmd.Context()); err != nil {
				return err
			}
			a.logger.Info("Server stopped")
			return nil
		},
	}
}

func newMCPCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server on stdio",
		Long: `Run the MCP server on stdio. Logs go to stderr when the lite settings are used, since
stdout carries the protocol; set logging.output to stderr or a file otherwise.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
				cfg.Logging.Output = "stderr"
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{withEngine: true, withResults: true})
			if err != nil {
				return err
			}
			defer a.Close()

			server := mcp.NewServer(cfg.MCP, a.characterizer, a.results, a.logger)
			if err := server.Run(cmd.Context()); err != nil {
				return err
			}
			a.logger.Info("MCP server stopped")
			return nil
		},
	}
}
