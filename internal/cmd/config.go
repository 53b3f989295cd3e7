package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"

	"github.com/dotcommander/groksearch/internal/config"
	"github.com/dotcommander/groksearch/internal/errs"
	"github.com/dotcommander/groksearch/internal/present"
)

func newConfigCmd(rt *runtime) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage settings",
		RunE: func(_ *cobra.Command, _ []string) error {
			// Allow opening settings even when config parsing failed.
			return editSettings(&rt.cfg)
		},
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "edit",
		Short: "Open settings in $EDITOR",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return editSettings(&rt.cfg)
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Reset settings to defaults",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Allow reset even when config parsing failed.
			return resetSettings(os.Stderr, &rt.cfg)
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:       "dirs [config|tokens]",
		Short:     "Print the config and token store directories",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"config", "tokens"},
		RunE: func(_ *cobra.Command, args []string) error {
			printDirs(os.Stdout, &rt.cfg, args)
			return nil
		},
	})

	return configCmd
}

func editSettings(cfg *config.Config) error {
	if err := config.WriteConfigFile(cfg.SettingsPath); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	appName := filepath.Base(os.Args[0])
	c, err := editor.Cmd(appName, cfg.SettingsPath)
	if err != nil {
		return errs.Error{Err: err, Reason: "Could not edit your settings file."}
	}
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		return errs.Error{Err: err, Reason: fmt.Sprintf(
			"Missing %s.",
			present.StderrStyles().InlineCode.Render("$EDITOR"),
		)}
	}

	if !cfg.Quiet {
		fmt.Fprintln(os.Stderr, "Wrote config file to:", cfg.SettingsPath)
	}
	return nil
}

// resetSettings moves the settings file to a .bak copy and writes the
// defaults in its place.
func resetSettings(w io.Writer, cfg *config.Config) error {
	backup := cfg.SettingsPath + ".bak"
	if _, err := os.Stat(cfg.SettingsPath); err != nil {
		return errs.Error{Err: err, Reason: "Couldn't read config file."}
	}
	if err := os.Rename(cfg.SettingsPath, backup); err != nil {
		return errs.Error{Err: err, Reason: "Couldn't backup config file."}
	}
	if err := config.WriteConfigFile(cfg.SettingsPath); err != nil {
		return errs.Error{Err: err, Reason: "Couldn't write new config file."}
	}

	if !cfg.Quiet {
		fmt.Fprintln(w, "\nSettings restored to defaults!")
		fmt.Fprintf(
			w,
			"\n  %s %s\n\n",
			present.StderrStyles().Comment.Render("Your old settings have been saved to:"),
			present.StderrStyles().Link.Render(backup),
		)
	}
	return nil
}

func printDirs(w io.Writer, cfg *config.Config, args []string) {
	if len(args) > 0 {
		switch args[0] {
		case "config":
			fmt.Fprintln(w, filepath.Dir(cfg.SettingsPath))
			return
		case "tokens":
			fmt.Fprintln(w, cfg.Tokens.Path)
			return
		}
	}

	fmt.Fprintf(w, "Configuration: %s\n", filepath.Dir(cfg.SettingsPath))
	//nolint:mnd
	fmt.Fprintf(w, "%*sTokens: %s\n", 7, " ", cfg.Tokens.Path)
}
