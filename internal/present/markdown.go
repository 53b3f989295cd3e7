package present

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/charmbracelet/glamour"
)

const markdownTabWidth = 4

// RenderMarkdownForTTY renders a search result for terminal output. Results
// come back as markdown with headings and source links.
func RenderMarkdownForTTY(input string, wordWrap int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithEnvironmentConfig(),
		glamour.WithWordWrap(wordWrap),
	)
	if err != nil {
		return "", fmt.Errorf("new markdown renderer: %w", err)
	}

	out, err := r.Render(input)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	out = strings.TrimRightFunc(out, unicode.IsSpace)
	out = strings.ReplaceAll(out, "\t", strings.Repeat(" ", markdownTabWidth))
	return out + "\n", nil
}
