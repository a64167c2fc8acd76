package main

import (
	"github.com/spf13/cobra"

	"github.com/brunobiangulo/brdiagram"
	"github.com/brunobiangulo/brdiagram/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the diagram tools over MCP on stdio",
	Long: `Starts a Model Context Protocol server over stdin/stdout exposing ParseBRD,
GenDFD, GenLogic, GenDB and generate_diagrams. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p, err := brdiagram.New(cfg)
		if err != nil {
			return err
		}
		defer p.Close()

		return mcpserver.NewServer(p, version).Run(cmd.Context())
	},
}
