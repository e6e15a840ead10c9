package stream

import (
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/alexander-akhmetov/toolctl/internal/event"
)

// Log forwards events to an hclog logger: error lines at Error, warnings at
// Warn, untagged lines at Info and progress at Debug.
type Log struct {
	logger hclog.Logger
}

// NewLog creates a Log stream. A nil logger discards everything.
func NewLog(logger hclog.Logger) *Log {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Log{logger: logger}
}

func (l *Log) Write(text string, kind event.Kind) error {
	msg := strings.TrimRight(text, "\r\n")
	switch kind {
	case event.KindError:
		l.logger.Error(msg)
	case event.KindWarning:
		l.logger.Warn(msg)
	case event.KindProgress:
		l.logger.Debug(msg)
	default:
		l.logger.Info(msg)
	}
	return nil
}

func (l *Log) WriteProgress(p event.Progress) error {
	if !l.logger.IsDebug() {
		return nil
	}
	args := make([]any, 0, 6)
	if p.Pulse != "" {
		args = append(args, "pulse", p.Pulse)
	}
	if p.HasPercent {
		args = append(args, "percent", p.Percent)
	}
	if p.Text != "" {
		args = append(args, "text", p.Text)
	}
	l.logger.Debug("progress", args...)
	return nil
}

func (l *Log) Flush() error { return nil }
