// Package ui renders terminal output for the medsync CLI.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1f6feb", Dark: "#58a6ff"}).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1a7f37", Dark: "#3fb950"})
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9a6700", Dark: "#d29922"})
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#cf222e", Dark: "#f85149"}).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6e7781", Dark: "#8b949e"})
	labelStyle  = lipgloss.NewStyle().Width(18)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#d0d7de", Dark: "#30363d"}).
			Padding(0, 1)
)

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }

// Row is one label/value line of a panel.
type Row struct {
	Label string
	Value string
}

// Panel renders a titled, bordered block of aligned rows.
func Panel(title string, rows []Row) string {
	var b strings.Builder
	b.WriteString(RenderAccent(title))
	for _, r := range rows {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render(r.Label))
		b.WriteString(r.Value)
	}
	return panelStyle.Render(b.String())
}

// Count renders n, highlighted when non-zero.
func Count(n int, style func(string) string) string {
	s := fmt.Sprintf("%d", n)
	if n == 0 {
		return RenderMuted(s)
	}
	return style(s)
}
