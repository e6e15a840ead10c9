package tui

import "github.com/charmbracelet/lipgloss"

const (
	colorAccent = lipgloss.Color("205")
	colorBorder = lipgloss.Color("240")
	colorMuted  = lipgloss.Color("241")
	colorText   = lipgloss.Color("255")
	colorOK     = lipgloss.Color("42")
	colorError  = lipgloss.Color("196")
	colorWarn   = lipgloss.Color("214")
	colorPulse  = lipgloss.Color("#e67e22")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)

	logBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Foreground(colorMuted)
	valueStyle = lipgloss.NewStyle().Foreground(colorText)
	helpStyle  = labelStyle

	pulseStyle   = lipgloss.NewStyle().Foreground(colorPulse).Bold(true)
	runningStyle = lipgloss.NewStyle().Foreground(colorOK)
	stoppedStyle = lipgloss.NewStyle().Foreground(colorError).Bold(true)

	// per-kind styles for the output pane
	errorLineStyle   = lipgloss.NewStyle().Foreground(colorError)
	warningLineStyle = lipgloss.NewStyle().Foreground(colorWarn)
)
