package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	textStyleColor    = lipgloss.AdaptiveColor{Light: "#36EEE0", Dark: "#00FFFF"}
	mutedStyleColor   = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"}
	warningStyleColor = lipgloss.AdaptiveColor{Light: "#FFA500", Dark: "#FFA500"}
)

func Bold(text string) string {
	return lipgloss.NewStyle().Bold(true).Foreground(textStyleColor).Render(text)
}

func Muted(text string) string {
	return lipgloss.NewStyle().Foreground(mutedStyleColor).Render(text)
}

func Warning(text string) string {
	return lipgloss.NewStyle().Foreground(warningStyleColor).Render(text)
}
