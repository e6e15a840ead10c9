// Package event defines the typed events produced by the output parser and
// consumed by streams: tagged text lines and in-place progress updates.
package event

import (
	"fmt"
	"strings"
)

// Kind tags a piece of text written to a stream.
// Streams may ignore kinds they do not know.
type Kind string

const (
	// KindNone is untagged text.
	KindNone Kind = ""
	// KindError is a line that matched the error keyword.
	KindError Kind = "error"
	// KindWarning is a line that matched the warning keyword.
	KindWarning Kind = "warning"
	// KindProgress is a formatted progress update.
	KindProgress Kind = "progress"
)

// String returns the kind name, "text" for untagged text.
func (k Kind) String() string {
	if k == KindNone {
		return "text"
	}
	return string(k)
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) Kind {
	switch s {
	case "error":
		return KindError
	case "warning":
		return KindWarning
	case "progress":
		return KindProgress
	default:
		return KindNone
	}
}

// Progress is a carriage-return delimited status update: a spinner glyph,
// a percentage and a short text, each optional.
type Progress struct {
	Pulse      string  // spinner glyph, empty when absent
	Percent    float64 // only meaningful when HasPercent is set
	HasPercent bool
	Text       string
}

// Empty reports whether the update carries no payload at all.
func (p Progress) Empty() bool {
	return p.Pulse == "" && !p.HasPercent && p.Text == ""
}

// Clamped returns the percentage limited to [0, 100].
func (p Progress) Clamped() float64 {
	return min(max(p.Percent, 0), 100)
}

// Format renders the update as a single terminal row.
func (p Progress) Format() string {
	parts := make([]string, 0, 3)
	if p.Pulse != "" {
		parts = append(parts, p.Pulse)
	}
	if p.HasPercent {
		parts = append(parts, fmt.Sprintf("%5.1f %%", p.Clamped()))
	}
	if p.Text != "" {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, " ")
}
