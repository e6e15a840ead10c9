// Package tui is the interactive terminal front-end for a tool run: a
// progress bar, a scrolling view of parsed output lines and stop controls.
package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexander-akhmetov/toolctl/internal/controller"
	"github.com/alexander-akhmetov/toolctl/internal/event"
)

// Stream forwards parsed output into a running program. It implements
// stream.Stream and stream.ProgressWriter and may be called from any
// goroutine.
type Stream struct {
	send func(tea.Msg)
}

// NewStream returns a stream that delivers messages through send, usually
// (*tea.Program).Send.
func NewStream(send func(tea.Msg)) *Stream {
	return &Stream{send: send}
}

func (s *Stream) Write(text string, kind event.Kind) error {
	if kind == event.KindProgress {
		// formatted progress without structure; show it as text only
		s.send(ProgressMsg{Progress: event.Progress{Text: text}})
		return nil
	}
	s.send(LineMsg{Text: text, Kind: kind})
	return nil
}

func (s *Stream) WriteProgress(p event.Progress) error {
	s.send(ProgressMsg{Progress: p})
	return nil
}

func (s *Stream) Flush() error { return nil }

// TUI owns the bubbletea program for one run.
type TUI struct {
	program *tea.Program
	stream  *Stream
	cancel  context.CancelFunc
	ctx     context.Context
}

// New prepares a TUI titled with the command line. Options are passed to
// tea.NewProgram; the alternate screen is used unless overridden.
func New(ctx context.Context, title string, opts ...tea.ProgramOption) *TUI {
	runCtx, cancel := context.WithCancel(ctx)
	t := &TUI{ctx: runCtx, cancel: cancel}
	model := NewModel(title, cancel)
	t.program = tea.NewProgram(model, append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...)
	t.stream = NewStream(t.program.Send)
	return t
}

// Stream returns the sink to attach to the run's output handlers.
func (t *TUI) Stream() *Stream {
	return t.stream
}

// Run starts the run by calling start on a host goroutine, drives c until
// it finishes and shows the UI until the user quits. Quitting or
// cancelling the parent context stops the process. A run that c reset
// without finishing is reported through c.Unfinished.
func (t *TUI) Run(c *controller.Controller, start func()) (controller.Result, error) {
	defer t.cancel()

	var (
		result controller.Result
		got    bool
	)
	c.Subscribe(func(r controller.Result) {
		result, got = r, true
		t.program.Send(DoneMsg{Result: r})
	})

	hostDone := make(chan error, 1)
	go func() {
		start()
		err := c.Wait(t.ctx)
		if !got {
			// the run was reset before it finished; nobody else will
			// tell the model
			result, got = c.Unfinished(), true
			t.program.Send(DoneMsg{Result: result})
		}
		hostDone <- err
	}()

	_, err := t.program.Run()
	t.cancel()
	waitErr := <-hostDone

	if err != nil {
		return result, fmt.Errorf("run tui: %w", err)
	}
	if waitErr != nil && errors.Is(result.Err, controller.ErrNoResult) {
		result.Err = errors.Join(result.Err, waitErr)
	}
	return result, nil
}
