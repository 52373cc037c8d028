package main

import "github.com/charmbracelet/lipgloss"

type cliStyles struct {
	title   lipgloss.Style
	panel   lipgloss.Style
	name    lipgloss.Style
	phone   lipgloss.Style
	muted   lipgloss.Style
	step    lipgloss.Style
	current lipgloss.Style
	alert   lipgloss.Style
	ok      lipgloss.Style
}

var styles = newStyles()

func newStyles() cliStyles {
	calm := lipgloss.Color("#7dd3fc")
	sage := lipgloss.Color("#86efac")
	rose := lipgloss.Color("#fb7185")
	muted := lipgloss.Color("#94a3b8")

	return cliStyles{
		title: lipgloss.NewStyle().Foreground(calm).Bold(true),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(calm).
			Padding(0, 1),
		name:    lipgloss.NewStyle().Bold(true),
		phone:   lipgloss.NewStyle().Foreground(sage).Bold(true),
		muted:   lipgloss.NewStyle().Foreground(muted),
		step:    lipgloss.NewStyle().Foreground(muted).PaddingLeft(2),
		current: lipgloss.NewStyle().Foreground(sage).PaddingLeft(2),
		alert:   lipgloss.NewStyle().Foreground(rose).Bold(true),
		ok:      lipgloss.NewStyle().Foreground(sage),
	}
}

// statusStyle colors a session status the way the app's indicator does.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "active":
		return styles.ok
	case "connecting", "reconnecting":
		return styles.title
	case "error":
		return styles.alert
	default:
		return styles.muted
	}
}
