package tui

import (
	"fmt"
	"strings"

	"github.com/alexander-akhmetov/toolctl/internal/controller"
	"github.com/alexander-akhmetov/toolctl/internal/event"
)

func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(truncate(m.title, m.width)))
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(m.renderProgress())
	b.WriteString("\n")
	b.WriteString(logBoxStyle.Width(m.viewport.Width + 2).Render(m.viewport.View()))
	b.WriteString("\n")
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderStatus() string {
	var state string
	switch m.runState {
	case stateRunning:
		state = runningStyle.Render("running")
	case stateStopping:
		state = stoppedStyle.Render("stopping")
	case stateFinished:
		state = finishedLabel(m.result)
	}

	counts := fmt.Sprintf("%d lines, %d warnings, %d errors",
		len(m.lines), m.counts[event.KindWarning], m.counts[event.KindError])
	return labelStyle.Render("State: ") + state + labelStyle.Render("  Output: ") + valueStyle.Render(counts)
}

func finishedLabel(r *controller.Result) string {
	switch {
	case r == nil:
		return valueStyle.Render("finished")
	case r.Err != nil:
		return stoppedStyle.Render("failed: " + r.Err.Error())
	case r.StoppedByUser:
		return stoppedStyle.Render("stopped")
	case r.ExitCode != 0:
		return stoppedStyle.Render(fmt.Sprintf("exit code %d", r.ExitCode))
	default:
		return runningStyle.Render("done")
	}
}

func (m Model) renderProgress() string {
	p := m.progress
	if p.Empty() {
		return ""
	}
	var parts []string
	if p.Pulse != "" {
		parts = append(parts, pulseStyle.Render(p.Pulse))
	}
	if p.HasPercent {
		parts = append(parts, m.bar.ViewAs(p.Clamped()/100), fmt.Sprintf("%5.1f %%", p.Clamped()))
	}
	if p.Text != "" {
		parts = append(parts, valueStyle.Render(p.Text))
	}
	return strings.Join(parts, " ")
}

func (m Model) renderLines() string {
	rendered := make([]string, len(m.lines))
	for i, l := range m.lines {
		switch l.kind {
		case event.KindError:
			rendered[i] = errorLineStyle.Render(l.text)
		case event.KindWarning:
			rendered[i] = warningLineStyle.Render(l.text)
		default:
			rendered[i] = l.text
		}
	}
	return strings.Join(rendered, "\n")
}

func (m Model) renderHelp() string {
	if m.runState == stateFinished {
		return helpStyle.Render("↑/↓ scroll • q quit")
	}
	return helpStyle.Render("↑/↓ scroll • s stop • q stop and quit")
}

func truncate(s string, width int) string {
	if width <= 3 || len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}
