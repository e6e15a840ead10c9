// Package output turns arbitrarily chunked process output into progress
// updates and complete lines.
//
// A Handler buffers what it is fed and, on every Feed, extracts as many
// tokens as the buffered data unambiguously allows. A token cut by a chunk
// boundary stays buffered until the rest arrives, so the events produced for
// a stream do not depend on how it was chunked.
package output

import (
	"errors"

	"github.com/alexander-akhmetov/toolctl/internal/event"
	"github.com/alexander-akhmetov/toolctl/internal/stream"
)

// DefaultMaxPending bounds the unterminated data a handler keeps.
const DefaultMaxPending = 1 << 20

// ProgressFunc receives a parsed progress update.
type ProgressFunc func(p event.Progress) error

// LineFunc receives a complete line including its trailing newline.
type LineFunc func(line string) error

// Options configures a Handler.
type Options struct {
	// Order is the precedence of token grammars. Empty means DefaultOrder.
	Order []TokenKind
	// Stream receives events from the default callbacks.
	Stream stream.Stream
	// OnProgress replaces the default progress dispatch.
	OnProgress ProgressFunc
	// OnLine replaces the default line dispatch.
	OnLine LineFunc
	// Keywords tag lines for the default line dispatch. Nil means
	// DefaultKeywords; an empty slice disables tagging.
	Keywords []Keyword
	// MaxPending flushes unterminated data as a line once it grows past
	// this many bytes. Zero means DefaultMaxPending, negative disables it.
	MaxPending int
}

// Handler is the incremental parser. It is not safe for concurrent use.
type Handler struct {
	order      []TokenKind
	stream     stream.Stream
	onProgress ProgressFunc
	onLine     LineFunc
	maxPending int

	buf []byte
	pos int
	gen uint64
}

// NewHandler creates a handler.
func NewHandler(opts Options) *Handler {
	h := &Handler{
		order:      opts.Order,
		stream:     opts.Stream,
		onProgress: opts.OnProgress,
		onLine:     opts.OnLine,
		maxPending: opts.MaxPending,
	}
	if len(h.order) == 0 {
		h.order = DefaultOrder
	}
	if h.stream == nil {
		h.stream = stream.Discard
	}
	if h.onProgress == nil {
		h.onProgress = DefaultProgress(h.stream)
	}
	if h.onLine == nil {
		kws := opts.Keywords
		if kws == nil {
			kws = DefaultKeywords()
		}
		h.onLine = DefaultLine(h.stream, kws)
	}
	if h.maxPending == 0 {
		h.maxPending = DefaultMaxPending
	}
	return h
}

// Stream returns the sink used by the default callbacks.
func (h *Handler) Stream() stream.Stream { return h.stream }

// Feed appends chunk and dispatches every token it completes. Callback
// errors do not stop parsing; they are joined and returned.
func (h *Handler) Feed(chunk string) error {
	if chunk == "" {
		return nil
	}
	h.buf = append(h.buf, chunk...)
	errs := h.extract(false)

	if h.maxPending > 0 && len(h.buf)-h.pos > h.maxPending {
		errs = append(errs, h.flushPending()...)
	}
	h.compact()
	return errors.Join(errs...)
}

// Close runs a final extraction pass, dispatches any residual data as a
// line with a newline appended, flushes the stream and resets.
func (h *Handler) Close() error {
	errs := h.extract(true)
	errs = append(errs, h.flushPending()...)
	if err := h.stream.Flush(); err != nil {
		errs = append(errs, err)
	}
	h.Reset()
	return errors.Join(errs...)
}

// Reset discards all buffered data. It is idempotent.
func (h *Handler) Reset() {
	h.buf = h.buf[:0]
	h.pos = 0
	h.gen++
}

// Pending returns the buffered data not yet dispatched.
func (h *Handler) Pending() string {
	return string(h.buf[h.pos:])
}

func (h *Handler) extract(final bool) []error {
	var errs []error
	gen := h.gen
	for h.pos < len(h.buf) {
		ok, err := h.next(final)
		if err != nil {
			errs = append(errs, err)
		}
		// a callback reset the handler
		if h.gen != gen || !ok {
			break
		}
	}
	return errs
}

// next tries each grammar in order at the cursor. A grammar that reports
// incomplete data ends the pass, so lower-precedence grammars never claim a
// token that more data would hand to a higher one.
func (h *Handler) next(final bool) (bool, error) {
	rest := h.buf[h.pos:]
	for _, kind := range h.order {
		switch kind {
		case TokenProgress:
			p, n, res := matchProgress(rest, final)
			switch res {
			case matched:
				h.pos += n
				return true, h.onProgress(p)
			case incomplete:
				if !final {
					return false, nil
				}
			}
		case TokenLine:
			line, n, res := matchLine(rest)
			if res == matched {
				h.pos += n
				return true, h.onLine(line)
			}
			if !final {
				return false, nil
			}
		}
	}
	return false, nil
}

func (h *Handler) flushPending() []error {
	rest := h.buf[h.pos:]
	i := 0
	for i < len(rest) && rest[i] == '\r' {
		i++
	}
	h.pos = len(h.buf)
	if i == len(rest) {
		return nil
	}
	line := string(rest[i:])
	if line[len(line)-1] != '\n' {
		line += "\n"
	}
	if err := h.onLine(line); err != nil {
		return []error{err}
	}
	return nil
}

func (h *Handler) compact() {
	switch {
	case h.pos == len(h.buf):
		h.buf = h.buf[:0]
		h.pos = 0
	case h.pos > len(h.buf)/2:
		n := copy(h.buf, h.buf[h.pos:])
		h.buf = h.buf[:n]
		h.pos = 0
	}
}
