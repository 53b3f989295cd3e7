// Package present holds the terminal styling shared by the CLI commands and
// the search TUI.
package present

import (
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

func ttyCheck(f *os.File) func() bool {
	return sync.OnceValue(func() bool {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	})
}

var (
	isInputTTY  = ttyCheck(os.Stdin)
	isOutputTTY = ttyCheck(os.Stdout)
)

// IsInputTTY reports whether stdin is a TTY. Piped queries and tokens are
// only read when it is not.
func IsInputTTY() bool {
	return isInputTTY()
}

// IsOutputTTY reports whether stdout is a TTY. Results are rendered as
// markdown only when it is.
func IsOutputTTY() bool {
	return isOutputTTY()
}

var (
	stdoutRenderer = sync.OnceValue(lipgloss.DefaultRenderer)
	stderrRenderer = sync.OnceValue(func() *lipgloss.Renderer {
		return lipgloss.NewRenderer(os.Stderr, termenv.WithColorCache(true))
	})
	stdoutStyles = sync.OnceValue(func() Styles { return MakeStyles(StdoutRenderer()) })
	stderrStyles = sync.OnceValue(func() Styles { return MakeStyles(StderrRenderer()) })
)

// StdoutRenderer returns a lipgloss renderer bound to stdout.
func StdoutRenderer() *lipgloss.Renderer {
	return stdoutRenderer()
}

// StdoutStyles returns shared styles bound to stdout.
func StdoutStyles() Styles {
	return stdoutStyles()
}

// StderrRenderer returns a lipgloss renderer bound to stderr. The spinner
// and error messages go there so stdout carries only results.
func StderrRenderer() *lipgloss.Renderer {
	return stderrRenderer()
}

// StderrStyles returns shared styles bound to stderr.
func StderrStyles() Styles {
	return stderrStyles()
}
