// Package ui provides terminal rendering helpers for the CLI.
//
// Styling degrades to plain text when stdout is not a terminal, so
// command output stays pipe- and script-friendly.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// Colorized reports whether styled output should be produced.
func Colorized() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return false
	}
	return termenv.ColorProfile() != termenv.Ascii
}

func render(style lipgloss.Style, s string) string {
	if !Colorized() {
		return s
	}
	return style.Render(s)
}

// RenderPass styles success output (green).
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn styles warning output (yellow).
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail styles failure output (bold red).
func RenderFail(s string) string { return render(failStyle, s) }

// RenderAccent styles identifiers and values worth drawing the eye to.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderMuted styles secondary detail.
func RenderMuted(s string) string { return render(mutedStyle, s) }

// RenderHeader styles section headers.
func RenderHeader(s string) string { return render(headerStyle, s) }

// StatusGlyph returns a colored glyph for a task or backend status word.
func StatusGlyph(status string) string {
	switch status {
	case "pending":
		return RenderMuted("○")
	case "in_progress":
		return RenderAccent("◐")
	case "completed":
		return RenderPass("●")
	case "blocked":
		return RenderFail("■")
	case "ok":
		return RenderPass("✓")
	case "unavailable":
		return RenderFail("✗")
	default:
		return "?"
	}
}
