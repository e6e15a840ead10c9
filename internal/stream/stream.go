// Package stream provides the sinks that present parsed process output:
// plain or styled terminal text, hclog records, JSON-lines captures, and
// small combinators (fan-out, counting).
package stream

import (
	"errors"
	"sync"

	"github.com/alexander-akhmetov/toolctl/internal/event"
)

// Stream is the sink contract used by output handlers.
type Stream interface {
	// Write presents text tagged with kind. Unknown kinds are treated as untagged.
	Write(text string, kind event.Kind) error
	// Flush pushes out anything buffered.
	Flush() error
}

// ProgressWriter is implemented by streams that want the structured progress
// payload instead of its formatted text.
type ProgressWriter interface {
	WriteProgress(p event.Progress) error
}

// WriteProgress sends p to s, structured when s supports it.
func WriteProgress(s Stream, p event.Progress) error {
	if pw, ok := s.(ProgressWriter); ok {
		return pw.WriteProgress(p)
	}
	return s.Write(p.Format(), event.KindProgress)
}

// Discard is a stream that drops everything.
var Discard Stream = discard{}

type discard struct{}

func (discard) Write(string, event.Kind) error { return nil }
func (discard) Flush() error                   { return nil }

// Multi fans every write out to all streams, in order.
// All streams receive the write even when an earlier one fails.
type Multi []Stream

func (m Multi) Write(text string, kind event.Kind) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(text, kind); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) WriteProgress(p event.Progress) error {
	var errs []error
	for _, s := range m {
		if err := WriteProgress(s, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Flush() error {
	var errs []error
	for _, s := range m {
		if err := s.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Counter counts writes per kind. It is safe for concurrent use so a
// summary can be read from another goroutine.
type Counter struct {
	mu     sync.Mutex
	counts map[event.Kind]int
}

// NewCounter returns an empty Counter.
func NewCounter() *Counter {
	return &Counter{counts: make(map[event.Kind]int)}
}

func (c *Counter) Write(_ string, kind event.Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[kind]++
	return nil
}

func (c *Counter) Flush() error { return nil }

// Count returns the number of writes tagged kind.
func (c *Counter) Count(kind event.Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[kind]
}

// Lines returns the number of non-progress writes.
func (c *Counter) Lines() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, v := range c.counts {
		if k != event.KindProgress {
			n += v
		}
	}
	return n
}
