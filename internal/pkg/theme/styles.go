package theme

import (
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/emiliopalmerini/msplit/internal/domain"
)

// Styles contains the shared CLI report styles.
type Styles struct {
	Title  lipgloss.Style
	Header lipgloss.Style
	Body   lipgloss.Style
	Muted  lipgloss.Style
	Winner lipgloss.Style

	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style
}

var (
	defaultStyles *Styles
	once          sync.Once
)

// Default returns the shared styles, built on first use.
func Default() *Styles {
	once.Do(func() {
		defaultStyles = newStyles()
	})
	return defaultStyles
}

func newStyles() *Styles {
	return &Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(Purple),

		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(White),

		Body: lipgloss.NewStyle().
			Foreground(LightGray),

		Muted: lipgloss.NewStyle().
			Foreground(DimGray),

		Winner: lipgloss.NewStyle().
			Foreground(BrightPurple).
			Bold(true),

		Success: lipgloss.NewStyle().
			Foreground(Success),

		Warning: lipgloss.NewStyle().
			Foreground(Warning),

		Error: lipgloss.NewStyle().
			Foreground(Error),

		Info: lipgloss.NewStyle().
			Foreground(Info),
	}
}

// Confidence picks the style for a confidence label: green from 95%,
// amber at 90%, muted otherwise.
func (s *Styles) Confidence(level string) lipgloss.Style {
	switch level {
	case domain.Confidence95, domain.Confidence99, domain.Confidence999:
		return s.Success
	case domain.Confidence90:
		return s.Warning
	default:
		return s.Muted
	}
}
