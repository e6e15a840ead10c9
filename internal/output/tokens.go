package output

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/alexander-akhmetov/toolctl/internal/event"
)

// TokenKind is a grammar the handler tries at the read cursor.
type TokenKind int

const (
	TokenProgress TokenKind = iota
	TokenLine
)

func (k TokenKind) String() string {
	switch k {
	case TokenProgress:
		return "progress"
	case TokenLine:
		return "line"
	default:
		return fmt.Sprintf("TokenKind(%d)", int(k))
	}
}

// DefaultOrder tries progress before line.
var DefaultOrder = []TokenKind{TokenProgress, TokenLine}

// ParseOrder converts names such as "progress", "line" into a token order.
// Each kind may appear at most once. An empty list yields DefaultOrder.
func ParseOrder(names []string) ([]TokenKind, error) {
	if len(names) == 0 {
		return append([]TokenKind(nil), DefaultOrder...), nil
	}
	seen := make(map[TokenKind]bool, len(names))
	order := make([]TokenKind, 0, len(names))
	for _, name := range names {
		var k TokenKind
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "progress":
			k = TokenProgress
		case "line":
			k = TokenLine
		default:
			return nil, fmt.Errorf("unknown token kind %q", name)
		}
		if seen[k] {
			return nil, fmt.Errorf("token kind %q listed twice", name)
		}
		seen[k] = true
		order = append(order, k)
	}
	return order, nil
}

// progressRe matches one in-place status update at the start of the buffer:
// leading blanks, a run of carriage returns, an optional pulse glyph, an
// optional percentage and free text, followed by its terminator. Group 4 is
// the terminator; it is not part of the token.
var progressRe = regexp.MustCompile(
	`^[ \t]*(?:\r[ \t]*)+([-\\|/])?[ \t]*(?:([0-9][0-9.]*)[ \t]*%)?[ \t]*([^\r\n]*?)[ \t]*([\r\n])`)

type matchResult int

const (
	noMatch matchResult = iota
	incomplete
	matched
)

// matchProgress tries the progress grammar on buf. n is the number of bytes
// the token consumes. A token ending in a lone '\r' at the very end of buf is
// incomplete unless final is set, since the next byte may turn it into "\r\n".
func matchProgress(buf []byte, final bool) (event.Progress, int, matchResult) {
	m := progressRe.FindSubmatchIndex(buf)
	if m == nil {
		return event.Progress{}, 0, needsMore(buf)
	}

	termStart := m[8]
	if buf[termStart] == '\r' && termStart == len(buf)-1 && !final {
		return event.Progress{}, 0, incomplete
	}
	newline := buf[termStart] == '\n' || (buf[termStart] == '\r' && termStart+1 < len(buf) && buf[termStart+1] == '\n')

	var p event.Progress
	if m[2] >= 0 {
		p.Pulse = string(buf[m[2]:m[3]])
	}
	if m[4] >= 0 {
		v, err := strconv.ParseFloat(string(buf[m[4]:m[5]]), 64)
		if err != nil {
			return event.Progress{}, 0, noMatch
		}
		p.Percent = v
		p.HasPercent = true
	}
	p.Text = string(buf[m[6]:m[7]])

	if p.Empty() {
		return event.Progress{}, 0, noMatch
	}
	// a newline-terminated segment with nothing but text is an ordinary line
	if newline && p.Pulse == "" && !p.HasPercent {
		return event.Progress{}, 0, noMatch
	}
	return p, termStart, matched
}

// needsMore reports whether buf could still grow into a progress token: it
// opens with blanks and carriage returns and holds no terminator after them.
func needsMore(buf []byte) matchResult {
	i := 0
	for i < len(buf) && (buf[i] == ' ' || buf[i] == '\t') {
		i++
	}
	if i == len(buf) {
		return incomplete
	}
	if buf[i] != '\r' {
		return noMatch
	}
	for i < len(buf) && (buf[i] == '\r' || buf[i] == ' ' || buf[i] == '\t') {
		i++
	}
	for ; i < len(buf); i++ {
		if buf[i] == '\r' || buf[i] == '\n' {
			return noMatch
		}
	}
	return incomplete
}

// matchLine consumes leading carriage returns and everything up to and
// including the next '\n'. A trailing "\r\n" is returned as "\n".
func matchLine(buf []byte) (string, int, matchResult) {
	start := 0
	for start < len(buf) && buf[start] == '\r' {
		start++
	}
	idx := indexNewline(buf[start:])
	if idx < 0 {
		return "", 0, incomplete
	}
	end := start + idx + 1
	line := buf[start:end]
	if len(line) >= 2 && line[len(line)-2] == '\r' {
		return string(line[:len(line)-2]) + "\n", end, matched
	}
	return string(line), end, matched
}

func indexNewline(b []byte) int {
	for i, c := range b {
		if c == '\n' {
			return i
		}
	}
	return -1
}
