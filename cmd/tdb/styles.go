package main

import (
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/untoldecay/templedb/internal/query"
)

var (
	styleOK       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	styleModified = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleAdded    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleDeleted  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	styleConflict = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5"))
	styleDim      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleDiffAdd  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleDiffDel  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// statusStyle picks the styled one-letter status marker `vcs status`
// prints next to each path.
func statusStyle(kind query.StatusKind) (string, lipgloss.Style) {
	switch kind {
	case query.StatusAdded:
		return "A", styleAdded
	case query.StatusDeleted:
		return "D", styleDeleted
	case query.StatusConflict:
		return "C", styleConflict
	default:
		return "M", styleModified
	}
}

// renderMessage renders a commit message as Markdown for `vcs show`,
// falling back to the raw text if glamour can't render it (e.g. no TTY
// width available) — failure here is cosmetic, never fatal.
func renderMessage(message string) string {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle())
	if err != nil {
		return message
	}
	out, err := r.Render(message)
	if err != nil {
		return message
	}
	return out
}
