package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	bannerForegroundColor = lipgloss.AdaptiveColor{Light: "#a60853", Dark: "#F652A0"}
	bannerBorderColor     = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#AAAAAA"}
	bannerTitleColor      = lipgloss.AdaptiveColor{Light: "#00AAAA", Dark: "#00FFFF"}
	bannerStyle           = lipgloss.NewStyle().
				Padding(1).
				Border(lipgloss.RoundedBorder()).
				BorderForeground(bannerBorderColor)
	bannerBodyStyle  = lipgloss.NewStyle().Width(72).Foreground(bannerForegroundColor)
	bannerTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(bannerTitleColor)
)

// Banner renders title and body in a rounded box.
func Banner(title string, body string) string {
	return bannerStyle.Render(bannerTitleStyle.Render(title) + "\n\n" + bannerBodyStyle.Render(body))
}

// ShowBanner prints Banner when stdout is a terminal.
func ShowBanner(title string, body string) {
	if !HasTTY {
		return
	}
	fmt.Println(Banner(title, body))
}
