package stream

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/alexander-akhmetov/toolctl/internal/event"
)

// ANSI 256 colors matching the TUI palette.
const (
	colorError    = "196"
	colorWarning  = "214"
	colorProgress = "117"
)

// clearLine returns the cursor to column zero and erases the row.
const clearLine = "\r\033[2K"

// Text writes events to a file-like writer. Progress updates are rendered
// as a "\r"-prefixed row that the next update overwrites; lines always end
// with a newline. When isTTY is set, lines are styled per kind and an open
// progress row is erased before a line is printed; otherwise the row is
// terminated with a newline so log files stay readable.
type Text struct {
	mu           sync.Mutex
	out          *bufio.Writer
	isTTY        bool
	progressOpen bool
	styles       map[event.Kind]lipgloss.Style
}

// NewText creates a Text stream writing to w.
func NewText(w io.Writer, isTTY bool) *Text {
	t := &Text{
		out:   bufio.NewWriter(w),
		isTTY: isTTY,
	}
	if isTTY {
		r := lipgloss.NewRenderer(w)
		t.styles = map[event.Kind]lipgloss.Style{
			event.KindError:    r.NewStyle().Foreground(lipgloss.Color(colorError)).Bold(true),
			event.KindWarning:  r.NewStyle().Foreground(lipgloss.Color(colorWarning)),
			event.KindProgress: r.NewStyle().Foreground(lipgloss.Color(colorProgress)),
		}
	}
	return t
}

func (t *Text) Write(text string, kind event.Kind) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if kind == event.KindProgress {
		return t.writeProgress(text)
	}
	return t.writeLine(text, kind)
}

func (t *Text) writeProgress(text string) error {
	prefix := "\r"
	if t.isTTY {
		prefix = clearLine
	}
	if _, err := fmt.Fprint(t.out, prefix+t.style(event.KindProgress, text)); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	t.progressOpen = true
	// progress rows have no newline, push them out immediately
	return t.out.Flush()
}

func (t *Text) writeLine(text string, kind event.Kind) error {
	body := strings.TrimSuffix(text, "\n")
	if t.progressOpen {
		t.progressOpen = false
		switch {
		case body == "":
			// a bare newline just terminates the progress row
			t.out.WriteString("\n")
			return t.out.Flush()
		case t.isTTY:
			t.out.WriteString(clearLine)
		default:
			t.out.WriteString("\n")
		}
	}
	if _, err := fmt.Fprintln(t.out, t.style(kind, body)); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	return t.out.Flush()
}

// Flush terminates an open progress row and flushes the writer.
func (t *Text) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.progressOpen {
		t.progressOpen = false
		t.out.WriteString("\n")
	}
	if err := t.out.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

func (t *Text) style(kind event.Kind, text string) string {
	if s, ok := t.styles[kind]; ok && text != "" {
		return s.Render(text)
	}
	return text
}
