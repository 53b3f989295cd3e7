package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/dotcommander/groksearch/internal/models"
	"github.com/dotcommander/groksearch/internal/present"
)

var modelHeaders = []string{"MODEL", "UPSTREAM", "MODE", "TIER", "ALIASES"}

func newModelsCmd(rt *runtime) *cobra.Command {
	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "List the models searches can use",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if rt.cfgErr != nil {
				return rt.cfgErr
			}
			list := models.New(rt.cfg.Models).List()
			if present.IsOutputTTY() && !rt.cfg.Raw {
				fmt.Println(modelsTable(present.StdoutRenderer(), list, rt.cfg.MCP.Model))
				return nil
			}
			return printModels(os.Stdout, list)
		},
	}
	modelsCmd.Flags().BoolVarP(&rt.cfg.Raw, "raw", "r", false, present.StdoutStyles().FlagDesc.Render(helpText["raw"]))
	return modelsCmd
}

func modelRow(m models.Model) []string {
	aliases := strings.Join(m.Aliases, ",")
	if aliases == "" {
		aliases = "-"
	}
	return []string{m.ID, m.UpstreamModel, m.Mode, m.Tier, aliases}
}

// printModels writes the registry as tab-aligned plain text.
func printModels(w io.Writer, list []models.Model) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0) //nolint:mnd
	fmt.Fprintln(tw, strings.Join(modelHeaders, "\t"))
	for _, m := range list {
		fmt.Fprintln(tw, strings.Join(modelRow(m), "\t"))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("print models: %w", err)
	}
	return nil
}

func modelsTable(r *lipgloss.Renderer, list []models.Model, defaultModel string) string {
	styles := present.MakeStyles(r)
	rows := make([][]string, 0, len(list))
	for _, m := range list {
		rows = append(rows, modelRow(m))
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.Comment).
		Headers(modelHeaders...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			base := r.NewStyle().Padding(0, 1)
			switch {
			case row == table.HeaderRow:
				return base.Inherit(styles.AppName)
			case col == 0 && rows[row][0] == defaultModel:
				return base.Inherit(styles.Flag)
			case col == 3 && rows[row][3] == models.TierSuper:
				return base.Inherit(styles.Pool)
			}
			return base
		}).
		String()
}
