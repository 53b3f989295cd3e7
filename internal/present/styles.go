package present

import "github.com/charmbracelet/lipgloss"

// Styles is the set of lipgloss styles shared by commands and the TUI.
type Styles struct {
	AppName      lipgloss.Style
	CliArgs      lipgloss.Style
	Comment      lipgloss.Style
	ErrorHeader  lipgloss.Style
	ErrorDetails lipgloss.Style
	ErrPadding   lipgloss.Style
	Flag         lipgloss.Style
	FlagComma    lipgloss.Style
	FlagDesc     lipgloss.Style
	InlineCode   lipgloss.Style
	Link         lipgloss.Style
	Pipe         lipgloss.Style
	Quote        lipgloss.Style
	ID           lipgloss.Style
	Pool         lipgloss.Style
	Active       lipgloss.Style
	Cooling      lipgloss.Style
	Disabled     lipgloss.Style
	Spinner      lipgloss.Style
	Timeago      lipgloss.Style
}

// MakeStyles builds the styles for renderer r.
func MakeStyles(r *lipgloss.Renderer) (s Styles) {
	const horizontalEdgePadding = 2
	s.AppName = r.NewStyle().Bold(true)
	s.CliArgs = r.NewStyle().Foreground(lipgloss.Color("#585858"))
	s.Comment = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#757575", Dark: "#757575"})
	s.ErrorHeader = r.NewStyle().Foreground(lipgloss.Color("#F1F1F1")).Background(lipgloss.Color("#FF5F87")).Bold(true).Padding(0, 1).SetString("ERROR")
	s.ErrorDetails = s.Comment
	s.ErrPadding = r.NewStyle().Padding(0, horizontalEdgePadding)
	s.Flag = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00B594", Dark: "#3EEFCF"}).Bold(true)
	s.FlagComma = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#5DD6C0", Dark: "#427C72"}).SetString(",")
	s.FlagDesc = s.Comment
	s.InlineCode = r.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Background(lipgloss.Color("#3A3A3A")).Padding(0, 1)
	s.Link = r.NewStyle().Foreground(lipgloss.Color("#00AF87")).Underline(true)
	s.Quote = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#FF71D0", Dark: "#FF78D2"})
	s.Pipe = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#8470FF", Dark: "#745CFF"})
	s.ID = s.Flag
	s.Pool = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#8470FF", Dark: "#A594FF"})
	s.Active = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00875F", Dark: "#00D787"})
	s.Cooling = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#AF8700", Dark: "#FFD75F"})
	s.Disabled = r.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
	s.Spinner = r.NewStyle().Foreground(lipgloss.Color("#FF87D7"))
	s.Timeago = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#999", Dark: "#555"})
	return s
}
