package main

import (
	"github.com/spf13/cobra"

	"github.com/chazu/dexasm/server"
)

// version is reported to language clients.
var version = "dev"

var lspCmd = &cobra.Command{
	Use:   "lsp",
	Short: "Run the language server on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.NewLSP(version).Run()
	},
}
