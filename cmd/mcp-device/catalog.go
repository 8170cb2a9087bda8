package main

import (
	"github.com/spf13/cobra"

	mcp "github.com/MegaGrindStone/go-mcp-device"
	"github.com/MegaGrindStone/go-mcp-device/internal/catalog"
)

func newCatalogCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Work with tool and resource catalogs",
	}

	check := &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a catalog and list its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			c, err := catalog.Load(args[0])
			if err != nil {
				return err
			}

			// Registering catches what Parse cannot, such as two URIs that normalize alike.
			registry := mcp.NewRegistry()
			if err := c.Register(registry); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, tool := range registry.Tools() {
				printf(out, "tool      %s\n", tool.Name)
			}
			for _, resource := range registry.Resources() {
				printf(out, "resource  %s\n", resource.URI)
			}
			a.logger.Debug("catalog valid", "path", args[0])
			return nil
		},
	}

	cmd.AddCommand(check)
	return cmd
}
