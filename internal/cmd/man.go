package cmd

import (
	"fmt"

	mcobra "github.com/muesli/mango-cobra"
	"github.com/muesli/roff"
	"github.com/spf13/cobra"
)

func newManCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:                   "man",
		Short:                 "Generates manpages",
		SilenceUsage:          true,
		DisableFlagsInUseLine: true,
		Hidden:                true,
		Args:                  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manPage, err := mcobra.NewManPage(1, root)
			if err != nil {
				return fmt.Errorf("build man page: %w", err)
			}
			manPage = manPage.WithSection("Configuration",
				"Settings live in ~/.config/groksearch/groksearch.yml and can be overridden "+
					"with GROKSEARCH_* environment variables, e.g. GROKSEARCH_MCP_MODEL.")
			if _, err := fmt.Fprint(cmd.OutOrStdout(), manPage.Build(roff.NewDocument())); err != nil {
				return fmt.Errorf("write man page: %w", err)
			}
			return nil
		},
	}
}
