package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	timeago "github.com/caarlos0/timea.go"
	"github.com/charmbracelet/huh"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/dotcommander/groksearch/internal/config"
	"github.com/dotcommander/groksearch/internal/errs"
	"github.com/dotcommander/groksearch/internal/present"
	"github.com/dotcommander/groksearch/internal/storage"
	"github.com/dotcommander/groksearch/internal/tokens"
)

func newTokensCmd(rt *runtime) *cobra.Command {
	tokensCmd := &cobra.Command{
		Use:   "tokens",
		Short: "Manage upstream session tokens",
	}

	tokensCmd.AddCommand(newTokensListCmd(rt))
	tokensCmd.AddCommand(newTokensAddCmd(rt))
	tokensCmd.AddCommand(newTokensImportCmd(rt))
	tokensCmd.AddCommand(newTokensRemoveCmd(rt))
	tokensCmd.AddCommand(newTokensPruneCmd(rt))

	return tokensCmd
}

func newTokensListCmd(rt *runtime) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tokens with their pool, status and quota",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, closeStore, err := rt.openManager(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			records := mgr.List()
			if len(records) == 0 {
				fmt.Fprintln(os.Stderr, "No tokens found.")
				return nil
			}
			if present.IsInputTTY() && present.IsOutputTTY() && !rt.cfg.Raw {
				selectFromList(records)
				return nil
			}
			printTokens(os.Stdout, records)
			return nil
		},
	}
	listCmd.Flags().BoolVarP(&rt.cfg.Raw, "raw", "r", false, present.StdoutStyles().FlagDesc.Render(helpText["raw"]))
	return listCmd
}

func newTokensAddCmd(rt *runtime) *cobra.Command {
	addCmd := &cobra.Command{
		Use:   "add <token> [more...]",
		Short: "Add tokens; reads them from STDIN when none are given",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !present.IsInputTTY() {
				bts, err := readPiped(os.Stdin)
				if err != nil {
					return err
				}
				args = config.SplitLines(string(bts))
			}
			if len(args) == 0 {
				return errs.Error{Err: errs.UserErrorf("pass tokens as arguments or pipe them in"), Reason: "No tokens to add."}
			}

			mgr, closeStore, err := rt.openManager(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()
			return addTokens(cmd.Context(), os.Stderr, mgr, args, rt.cfg.Pool, rt.cfg.Note, rt.cfg.Quiet)
		},
	}
	initPoolFlags(addCmd, rt)
	addCmd.Flags().StringVar(&rt.cfg.Note, "note", "", present.StdoutStyles().FlagDesc.Render(helpText["note"]))
	return addCmd
}

func newTokensImportCmd(rt *runtime) *cobra.Command {
	importCmd := &cobra.Command{
		Use:   "import <file://path | url | tokens>",
		Short: "Import tokens, one per line, from a file, a URL or the argument",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := config.LoadSource(cmd.Context(), args[0])
			if err != nil {
				return errs.Error{Err: err, Reason: "Could not read the token source."}
			}
			lines := config.SplitLines(content)
			if len(lines) == 0 {
				return errs.Error{Err: errs.UserErrorf("the source holds no tokens"), Reason: "Nothing to import."}
			}

			mgr, closeStore, err := rt.openManager(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()
			return addTokens(cmd.Context(), os.Stderr, mgr, lines, rt.cfg.Pool, "import", rt.cfg.Quiet)
		},
	}
	initPoolFlags(importCmd, rt)
	return importCmd
}

func newTokensRemoveCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id-or-note> [more...]",
		Short: "Remove tokens",
		Args:  cobra.MinimumNArgs(1),
		ValidArgsFunction: func(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if rt.cfgErr != nil || rt.cfg.Tokens.Store != config.StoreFile {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			db, err := storage.Open(rt.cfg.Tokens.Path)
			if err != nil {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			defer db.Close() //nolint:errcheck
			return db.Completions(toComplete), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, closeStore, err := rt.openManager(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()
			return removeTokens(cmd.Context(), os.Stderr, mgr, args, rt.cfg.Quiet)
		},
	}
}

func newTokensPruneCmd(rt *runtime) *cobra.Command {
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove tokens that have not been used for a while",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rt.cfg.UnusedFor <= 0 {
				return errs.Wrap(errs.UserErrorf("missing --unused-for"), "Could not prune tokens.")
			}
			mgr, closeStore, err := rt.openManager(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()
			interactive := present.IsInputTTY() && present.IsOutputTTY()
			return pruneTokens(cmd.Context(), os.Stdout, mgr, rt.cfg.UnusedFor, rt.cfg.Quiet, interactive)
		},
	}
	pruneCmd.Flags().Var(newDurationFlag(rt.cfg.UnusedFor, &rt.cfg.UnusedFor), "unused-for", present.StdoutStyles().FlagDesc.Render(helpText["unused-for"]))
	return pruneCmd
}

func initPoolFlags(cmd *cobra.Command, rt *runtime) {
	cmd.Flags().StringVarP(&rt.cfg.Pool, "pool", "p", tokens.PoolBasic, present.StdoutStyles().FlagDesc.Render(helpText["pool"]))
	_ = cmd.RegisterFlagCompletionFunc("pool", cobra.FixedCompletions(tokens.Pools(), cobra.ShellCompDirectiveNoFileComp))
}

func addTokens(ctx context.Context, w io.Writer, mgr *tokens.Manager, in []string, pool, note string, quiet bool) error {
	for _, token := range in {
		rec, err := mgr.Add(ctx, token, pool, note)
		if err != nil {
			return errs.Error{Err: err, Reason: "Couldn't add token."}
		}
		if !quiet {
			fmt.Fprintf(w, "Added %s to %s\n",
				present.StderrStyles().ID.Render(rec.ID[:storage.SHA1Short]),
				present.StderrStyles().Pool.Render(rec.Pool),
			)
		}
	}
	return nil
}

func removeTokens(ctx context.Context, w io.Writer, mgr *tokens.Manager, targets []string, quiet bool) error {
	for _, target := range targets {
		rec, err := mgr.Remove(ctx, target)
		switch {
		case errors.Is(err, storage.ErrNoMatches):
			return errs.Error{Err: err, Reason: fmt.Sprintf("No token matches %q.", target)}
		case errors.Is(err, storage.ErrManyMatches):
			return errs.Error{Err: err, Reason: fmt.Sprintf("More than one token matches %q; use a longer ID.", target)}
		case err != nil:
			return errs.Error{Err: err, Reason: "Couldn't remove token."}
		}
		if !quiet {
			fmt.Fprintf(w, "Removed %s\n", present.StderrStyles().ID.Render(rec.ID[:storage.SHA1Short]))
		}
	}
	return nil
}

func pruneTokens(ctx context.Context, w io.Writer, mgr *tokens.Manager, unusedFor time.Duration, quiet, interactive bool) error {
	stale := mgr.Stale(unusedFor)
	if len(stale) == 0 {
		if !quiet {
			fmt.Fprintln(w, "No tokens found.")
		}
		return nil
	}

	if !quiet {
		printTokens(w, stale)

		if !interactive {
			fmt.Fprintln(w)
			//nolint:wrapcheck // user-facing guidance error
			return errs.UserErrorf(
				"To prune the tokens above, run: %s",
				strings.Join(append(os.Args, "--quiet"), " "),
			)
		}
		var confirm bool
		if err := huh.Run(
			huh.NewConfirm().
				Title(fmt.Sprintf("Remove tokens unused for %s?", unusedFor)).
				Description(fmt.Sprintf("This will remove the %d tokens listed above.", len(stale))).
				Value(&confirm),
		); err != nil {
			return errs.Error{Err: err, Reason: "Couldn't prune tokens."}
		}
		if !confirm {
			//nolint:wrapcheck // user-facing abort
			return errs.UserErrorf("Aborted by user")
		}
	}

	pruned, err := mgr.Prune(ctx, unusedFor)
	if err != nil {
		return errs.Error{Err: err, Reason: "Couldn't prune tokens."}
	}
	if !quiet {
		fmt.Fprintf(w, "Pruned %d tokens.\n", len(pruned))
	}
	return nil
}

func makeOptions(records []storage.Record) []huh.Option[string] {
	opts := make([]huh.Option[string], 0, len(records))
	for _, rec := range records {
		left := present.StdoutStyles().ID.Render(rec.ID[:storage.SHA1Short])
		right := fmt.Sprintf("%s %s %s %s",
			present.StdoutStyles().Pool.Render(rec.Pool),
			statusText(present.StdoutStyles(), rec.Status),
			storage.Mask(rec.Token),
			present.StdoutStyles().Timeago.Render(lastUsed(rec)),
		)
		if rec.Note != "" {
			right += present.StdoutStyles().Comment.Render(" (" + rec.Note + ")")
		}
		opts = append(opts, huh.NewOption(left+" "+right, rec.ID))
	}
	return opts
}

func selectFromList(records []storage.Record) {
	var selected string
	if err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Tokens").
				Value(&selected).
				Options(makeOptions(records)...),
		),
	).Run(); err != nil {
		if !errors.Is(err, huh.ErrUserAborted) {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		return
	}

	_ = clipboard.WriteAll(selected)
	termenv.Copy(selected)
	present.PrintConfirmation(os.Stdout, "COPIED", selected)

	fmt.Println(present.StdoutStyles().Comment.Render("You can use this token ID with the following command:"))
	fmt.Printf("  %s\n", present.StdoutStyles().InlineCode.Render("groksearch tokens remove "+selected))
}

func printTokens(w io.Writer, records []storage.Record) {
	for _, rec := range records {
		_, _ = fmt.Fprintf(
			w,
			"%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			present.StdoutStyles().ID.Render(rec.ID[:storage.SHA1Short]),
			rec.Pool,
			rec.Status,
			rec.Quota,
			storage.Mask(rec.Token),
			rec.Note,
			present.StdoutStyles().Timeago.Render(lastUsed(rec)),
		)
	}
}

func lastUsed(rec storage.Record) string {
	if rec.UsedAt.IsZero() {
		return "never used"
	}
	return timeago.Of(rec.UsedAt)
}

// statusText renders a token status in its color.
func statusText(s present.Styles, status string) string {
	switch status {
	case tokens.StatusActive:
		return s.Active.Render(status)
	case tokens.StatusCooling:
		return s.Cooling.Render(status)
	default:
		return s.Disabled.Render(status)
	}
}
