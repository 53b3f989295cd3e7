package cmd

import (
	"fmt"
	"io"
	"maps"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/dotcommander/groksearch/internal/present"
)

var examples = map[string]string{
	"Search from the command line":    `groksearch "latest stable Go release and its headline features"`,
	"Search about piped context":      `cat error.log | groksearch -m grok-4 "what causes this error"`,
	"Keep the answer for later":       `groksearch --raw --copy "kubernetes 1.34 deprecations" | tee notes.md`,
	"Serve the tool to an MCP client": `groksearch serve --listen 127.0.0.1:8000`,
}

var (
	quotedRe = regexp.MustCompile(`"([^"\\]|\\.)*"`)
	pipeRe   = regexp.MustCompile(`\|`)
)

func randomExample() string {
	keys := slices.Sorted(maps.Keys(examples))
	return keys[rand.IntN(len(keys))] //nolint:gosec
}

func cheapHighlighting(s present.Styles, code string) string {
	code = quotedRe.ReplaceAllStringFunc(code, func(x string) string {
		return s.Quote.Render(x)
	})
	return pipeRe.ReplaceAllStringFunc(code, func(x string) string {
		return s.Pipe.Render(x)
	})
}

func useLine(cmd *cobra.Command) string {
	appName := filepath.Base(os.Args[0])

	if present.StdoutRenderer().ColorProfile() == termenv.TrueColor {
		appName = present.MakeGradientText(present.StdoutStyles().AppName, appName)
	}

	args := "[OPTIONS] [QUERY]"
	if cmd.HasParent() {
		args = cmd.CommandPath()[len(cmd.Root().Name())+1:] + " [OPTIONS]"
		if cmd.HasAvailableSubCommands() {
			args = cmd.CommandPath()[len(cmd.Root().Name())+1:] + " [COMMAND]"
		}
	}
	return fmt.Sprintf("%s %s", appName, present.StdoutStyles().CliArgs.Render(args))
}

func usageFunc(cmd *cobra.Command) error {
	writeUsage(os.Stdout, cmd)
	return nil
}

func writeUsage(w io.Writer, cmd *cobra.Command) {
	styles := present.StdoutStyles()
	fmt.Fprintf(w, "Usage:\n  %s\n\n", useLine(cmd))

	if cmd.HasAvailableSubCommands() {
		fmt.Fprintln(w, "Commands:")
		for _, sub := range cmd.Commands() {
			if !sub.IsAvailableCommand() {
				continue
			}
			fmt.Fprintf(w, "  %-24s %s\n", styles.Flag.Render(sub.Name()), styles.FlagDesc.Render(sub.Short))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Options:")
	visit := func(f *flag.Flag) {
		if f.Hidden {
			return
		}
		if f.Shorthand == "" {
			fmt.Fprintf(
				w,
				"  %-44s %s\n",
				styles.Flag.Render("--"+f.Name),
				styles.FlagDesc.Render(f.Usage),
			)
		} else {
			fmt.Fprintf(
				w,
				"  %s%s %-40s %s\n",
				styles.Flag.Render("-"+f.Shorthand),
				styles.FlagComma,
				styles.Flag.Render("--"+f.Name),
				styles.FlagDesc.Render(f.Usage),
			)
		}
	}
	cmd.LocalFlags().VisitAll(visit)
	cmd.InheritedFlags().VisitAll(visit)

	if code, ok := examples[cmd.Example]; ok {
		fmt.Fprintf(
			w,
			"\nExample:\n  %s\n  %s\n",
			styles.Comment.Render("# "+cmd.Example),
			cheapHighlighting(styles, code),
		)
	}
}
