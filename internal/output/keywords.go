package output

import (
	"fmt"
	"regexp"

	"github.com/alexander-akhmetov/toolctl/internal/event"
	"github.com/alexander-akhmetov/toolctl/internal/stream"
)

// Keyword tags lines matching Pattern with Kind.
type Keyword struct {
	Kind    event.Kind
	Pattern *regexp.Regexp
}

// DefaultKeywords tags lines mentioning "error" or "warning", case-insensitively.
func DefaultKeywords() []Keyword {
	return []Keyword{
		{Kind: event.KindError, Pattern: regexp.MustCompile(`(?i)error`)},
		{Kind: event.KindWarning, Pattern: regexp.MustCompile(`(?i)warning`)},
	}
}

// CompileKeywords builds keywords from kind name → pattern pairs, keeping
// the given order.
func CompileKeywords(pairs [][2]string) ([]Keyword, error) {
	kws := make([]Keyword, 0, len(pairs))
	for _, p := range pairs {
		kind := event.ParseKind(p[0])
		if kind == event.KindNone || kind == event.KindProgress {
			return nil, fmt.Errorf("keyword kind %q: want error or warning", p[0])
		}
		re, err := regexp.Compile(p[1])
		if err != nil {
			return nil, fmt.Errorf("keyword %s: %w", p[0], err)
		}
		kws = append(kws, Keyword{Kind: kind, Pattern: re})
	}
	return kws, nil
}

// Classify returns the kind of the first keyword matching line.
func Classify(line string, keywords []Keyword) event.Kind {
	for _, kw := range keywords {
		if kw.Pattern.MatchString(line) {
			return kw.Kind
		}
	}
	return event.KindNone
}

// DefaultProgress forwards progress updates to s.
func DefaultProgress(s stream.Stream) ProgressFunc {
	if s == nil {
		s = stream.Discard
	}
	return func(p event.Progress) error {
		return stream.WriteProgress(s, p)
	}
}

// DefaultLine forwards lines to s tagged by the first matching keyword.
func DefaultLine(s stream.Stream, keywords []Keyword) LineFunc {
	if s == nil {
		s = stream.Discard
	}
	return func(line string) error {
		return s.Write(line, Classify(line, keywords))
	}
}
