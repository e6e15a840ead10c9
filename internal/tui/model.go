package tui

import (
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"

	"github.com/alexander-akhmetov/toolctl/internal/controller"
	"github.com/alexander-akhmetov/toolctl/internal/event"
)

type runState int

const (
	stateRunning runState = iota
	stateStopping
	stateFinished
)

const (
	maxLines  = 12000
	keepLines = 10000
)

type line struct {
	text string
	kind event.Kind
}

// Model is the bubbletea model for a single tool run.
type Model struct {
	title    string
	lines    []line
	counts   map[event.Kind]int
	progress event.Progress
	bar      progress.Model
	viewport viewport.Model
	width    int
	height   int
	ready    bool
	runState runState
	quitting bool
	result   *controller.Result

	// stop asks the host loop to stop the process; it must be safe to call
	// from the bubbletea goroutine.
	stop func()
}

// NewModel creates a Model titled with the command line. stop may be nil.
func NewModel(title string, stop func()) Model {
	return Model{
		title:  title,
		counts: make(map[event.Kind]int),
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		stop:   stop,
	}
}

// LineMsg carries one parsed output line.
type LineMsg struct {
	Text string
	Kind event.Kind
}

// ProgressMsg carries a progress update.
type ProgressMsg struct {
	Progress event.Progress
}

// DoneMsg signals the run has finished.
type DoneMsg struct {
	Result controller.Result
}

// Result returns the finished run's result, or nil while running.
func (m Model) Result() *controller.Result {
	return m.result
}
