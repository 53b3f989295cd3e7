package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/dotcommander/groksearch/internal/errs"
	"github.com/dotcommander/groksearch/internal/models"
	"github.com/dotcommander/groksearch/internal/present"
	"github.com/dotcommander/groksearch/internal/search"
	"github.com/dotcommander/groksearch/internal/tui"
)

const maxStdinBytes = 1 << 20

func newSearchCmd(rt *runtime) *cobra.Command {
	searchCmd := &cobra.Command{
		Use:   "search [query...]",
		Short: "Run one web search",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer withSignals(cmd)()
			return rt.runSearch(cmd, args)
		},
	}
	initSearchFlags(searchCmd, rt)
	return searchCmd
}

func initSearchFlags(cmd *cobra.Command, rt *runtime) {
	flags := cmd.Flags()
	flags.StringVarP(&rt.model, "model", "m", rt.model, present.StdoutStyles().FlagDesc.Render(helpText["model"]))
	flags.BoolVarP(&rt.cfg.Raw, "raw", "r", rt.cfg.Raw, present.StdoutStyles().FlagDesc.Render(helpText["raw"]))
	flags.BoolVarP(&rt.cfg.Copy, "copy", "c", rt.cfg.Copy, present.StdoutStyles().FlagDesc.Render(helpText["copy"]))
	flags.BoolVarP(&rt.editor, "editor", "e", rt.editor, present.StdoutStyles().FlagDesc.Render(helpText["editor"]))
	flags.SortFlags = false

	_ = cmd.RegisterFlagCompletionFunc("model", func(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		var names []string
		for _, m := range models.New(rt.cfg.Models).List() {
			if strings.HasPrefix(m.ID, toComplete) {
				names = append(names, m.ID)
			}
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	})
}

func (rt *runtime) runSearch(cmd *cobra.Command, args []string) error {
	if rt.cfgErr != nil {
		return rt.cfgErr
	}

	var stdin io.Reader
	if !present.IsInputTTY() {
		stdin = os.Stdin
	}
	query, err := readQuery(args, stdin)
	if err != nil {
		return err
	}
	if query == "" && rt.editor && present.IsInputTTY() {
		query, err = queryFromEditor(filepath.Base(os.Args[0]))
		if err != nil {
			return errs.Error{Err: err, Reason: "Could not read the query from your editor."}
		}
	}
	if query == "" {
		return errs.Error{
			Reason: "You haven't provided any query.",
			Err: errs.UserErrorf(
				"You can give your query as arguments and/or pipe it from STDIN.\nExample: %s",
				present.StdoutStyles().InlineCode.Render("groksearch [query]"),
			),
		}
	}

	ctx := cmd.Context()
	mgr, closeStore, err := rt.openManager(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := rt.newSearchService(mgr)
	if err != nil {
		return err
	}

	if present.IsOutputTTY() && !rt.cfg.Raw {
		res, rendered, err := rt.searchWithSpinner(ctx, svc, query)
		if err != nil {
			return err
		}
		return rt.printResult(os.Stdout, os.Stderr, res, rendered)
	}
	return rt.printResult(os.Stdout, os.Stderr, svc.Search(ctx, query, rt.model), "")
}

// searchWithSpinner runs the search under the TUI and returns the result
// along with its rendered form.
func (rt *runtime) searchWithSpinner(ctx context.Context, svc tui.Searcher, query string) (search.Result, string, error) {
	opts := []tea.ProgramOption{tea.WithOutput(os.Stderr), tea.WithContext(ctx)}
	if !present.IsInputTTY() {
		opts = append(opts, tea.WithInput(nil))
	}
	if os.Getenv("VIMRUNTIME") != "" {
		rt.cfg.Quiet = true
	}

	m := tui.NewSearch(ctx, present.StderrRenderer(), svc, query, rt.model, tui.Options{
		Quiet:    rt.cfg.Quiet,
		Raw:      rt.cfg.Raw,
		WordWrap: rt.cfg.WordWrap,
	})
	final, err := tea.NewProgram(m, opts...).Run()
	if err != nil {
		return search.Result{}, "", errs.Error{Err: err, Reason: "Couldn't start Bubble Tea program."}
	}
	m = final.(*tui.Search)
	if m.Canceled() {
		return search.Result{}, "", errs.Error{Err: huh.ErrUserAborted, Reason: "Search canceled."}
	}
	return m.Result, m.Output, nil
}

// printResult writes a found result to stdout, rendered when available,
// and turns the other outcomes into errors or notices.
func (rt *runtime) printResult(stdout, stderr io.Writer, res search.Result, rendered string) error {
	switch res.Outcome {
	case search.OutcomeFound:
	case search.OutcomeEmpty:
		if !rt.cfg.Quiet {
			_, _ = fmt.Fprintln(stderr, present.StderrStyles().Comment.Render(search.EmptyText))
		}
		return nil
	case search.OutcomeNoToken:
		return errs.Error{
			Reason: "No available tokens.",
			Err: errs.UserErrorf(
				"Add one with %s or wait for cooling tokens to recover.",
				present.StderrStyles().InlineCode.Render("groksearch tokens add <token>"),
			),
		}
	default:
		return errs.Error{Err: res.Err, Reason: "Search failed."}
	}

	out := res.Text
	if rendered != "" {
		out = rendered
	}
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	if _, err := io.WriteString(stdout, out); err != nil {
		return errs.Error{Err: err, Reason: "Could not write the result."}
	}

	if rt.cfg.Copy {
		text := res.Text
		_ = clipboard.WriteAll(text)
		termenv.Copy(text)
		if !rt.cfg.Quiet {
			present.PrintConfirmation(stderr, "COPIED", present.StderrStyles().Comment.Render(fmt.Sprintf("%d characters", len([]rune(text)))))
		}
	}
	return nil
}

// readQuery joins the arguments and, when given, the piped input.
func readQuery(args []string, stdin io.Reader) (string, error) {
	query := strings.TrimSpace(strings.Join(args, " "))
	if stdin == nil {
		return query, nil
	}
	bts, err := readPiped(stdin)
	if err != nil {
		return "", err
	}
	piped := strings.TrimSpace(string(bts))
	switch {
	case piped == "":
		return query, nil
	case query == "":
		return piped, nil
	default:
		return query + "\n\n" + piped, nil
	}
}

// readPiped reads r, failing when it holds more than maxStdinBytes.
func readPiped(r io.Reader) ([]byte, error) {
	bts, err := io.ReadAll(io.LimitReader(r, maxStdinBytes+1))
	if err != nil {
		return nil, errs.Error{Err: err, Reason: "Unable to read stdin."}
	}
	if len(bts) > maxStdinBytes {
		return nil, errs.Error{
			Err:    errs.UserErrorf("piped input is larger than %d bytes", maxStdinBytes),
			Reason: "Input too large.",
		}
	}
	return bts, nil
}
