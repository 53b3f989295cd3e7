// Package tui shows progress while a search runs in the terminal.
package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dotcommander/groksearch/internal/present"
	"github.com/dotcommander/groksearch/internal/search"
)

type state int

const (
	requestState state = iota
	doneState
	canceledState
)

const queryPreviewRunes = 60

// Searcher runs one search.
type Searcher interface {
	Search(ctx context.Context, query, model string) search.Result
}

// Options controls how the result is presented.
type Options struct {
	Quiet    bool
	Raw      bool
	WordWrap int
}

// Search is the Bubble Tea model that spins while a search is in flight.
type Search struct {
	// Result and Output are populated once the search returns.
	Result search.Result
	Output string
	Styles present.Styles

	state   state
	query   string
	model   string
	opts    Options
	spinner spinner.Model
	svc     Searcher

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSearch creates the model for query. The search starts on Init.
func NewSearch(ctx context.Context, r *lipgloss.Renderer, svc Searcher, query, model string, opts Options) *Search {
	styles := present.MakeStyles(r)
	ctx, cancel := context.WithCancel(ctx)
	return &Search{
		Styles:  styles,
		state:   requestState,
		query:   query,
		model:   model,
		opts:    opts,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.Spinner)),
		svc:     svc,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// searchDone wraps the result of the search.
type searchDone struct {
	result search.Result
}

// Canceled reports whether the user aborted the search.
func (m *Search) Canceled() bool {
	return m.state == canceledState
}

// Init implements tea.Model.
func (m *Search) Init() tea.Cmd {
	cmds := []tea.Cmd{m.searchCmd}
	if !m.opts.Quiet {
		cmds = append(cmds, m.spinner.Tick)
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m *Search) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case searchDone:
		m.cancel()
		m.Result = msg.result
		m.Output = m.render(msg.result)
		m.state = doneState
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.cancel()
			m.state = canceledState
			return m, tea.Quit
		}
	case spinner.TickMsg:
		if m.state != requestState {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *Search) View() string {
	if m.state != requestState || m.opts.Quiet {
		return ""
	}
	return m.spinner.View() + " " +
		m.Styles.Comment.Render("Searching for ") +
		m.Styles.Quote.Render(preview(m.query)) + "\n"
}

func (m *Search) searchCmd() tea.Msg {
	return searchDone{result: m.svc.Search(m.ctx, m.query, m.model)}
}

func (m *Search) render(res search.Result) string {
	out := res.String()
	if res.Outcome != search.OutcomeFound || m.opts.Raw {
		return out
	}
	rendered, err := present.RenderMarkdownForTTY(out, m.opts.WordWrap)
	if err != nil {
		return out
	}
	return rendered
}

func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= queryPreviewRunes {
		return s
	}
	return string(runes[:queryPreviewRunes]) + "…"
}
