package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

func (m Model) Init() tea.Cmd {
	return tea.WindowSize()
}

func (m Model) requestStop() Model {
	if m.runState == stateRunning {
		if m.stop != nil {
			m.stop()
		}
		m.runState = stateStopping
	}
	return m
}

func (m Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		// a second request while stopping gives up waiting
		if m.runState == stateFinished || m.quitting {
			return m, tea.Quit
		}
		// leave once the process is gone so its output is not cut off
		m.quitting = true
		return m.requestStop(), nil

	case "s":
		return m.requestStop(), nil

	case "up", "k", "down", "j", "pgup", "ctrl+u", "pgdown", "ctrl+d", "home", "g", "end", "G":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		logWidth := max(m.width-4, 20)
		logHeight := max(m.height-8, 3)
		m.bar.Width = max(min(m.width-30, 60), 10)

		if !m.ready {
			m.viewport = viewport.New(logWidth, logHeight)
			m.ready = true
		} else {
			m.viewport.Width = logWidth
			m.viewport.Height = logHeight
		}
		m.refresh(true)

	case LineMsg:
		m.lines = append(m.lines, line{text: strings.TrimRight(msg.Text, "\r\n"), kind: msg.Kind})
		if len(m.lines) > maxLines {
			m.lines = m.lines[len(m.lines)-keepLines:]
		}
		m.counts[msg.Kind]++
		m.refresh(m.viewport.AtBottom())

	case ProgressMsg:
		m.progress = msg.Progress

	case DoneMsg:
		res := msg.Result
		m.result = &res
		m.runState = stateFinished
		if m.quitting {
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m *Model) refresh(follow bool) {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderLines())
	if follow {
		m.viewport.GotoBottom()
	}
}
