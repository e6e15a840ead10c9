// Package logging builds the hclog loggers used across toolctl.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Options configures the root logger.
type Options struct {
	// Level is a level name from config (trace, debug, info, warn, error).
	Level  string
	Output io.Writer
	// JSON switches hclog to JSON records.
	JSON bool
	// Color enables hclog's colored level labels when Output is a terminal.
	Color bool
}

// Level resolves the effective level. TOOLCTL_DEBUG=1 forces debug,
// TOOLCTL_LOG_LEVEL overrides the configured level.
func Level(configured string) hclog.Level {
	if os.Getenv("TOOLCTL_DEBUG") == "1" {
		return hclog.Debug
	}
	if v := os.Getenv("TOOLCTL_LOG_LEVEL"); v != "" {
		configured = v
	}
	if strings.TrimSpace(configured) == "" {
		return hclog.Info
	}
	lvl := hclog.LevelFromString(configured)
	if lvl == hclog.NoLevel {
		return hclog.Info
	}
	return lvl
}

// New returns the root "toolctl" logger.
func New(opts Options) hclog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	color := hclog.ColorOff
	if opts.Color {
		color = hclog.AutoColor
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "toolctl",
		Level:      Level(opts.Level),
		Output:     out,
		JSONFormat: opts.JSON,
		Color:      color,
	})
}

// Discard returns a logger that drops everything.
func Discard() hclog.Logger {
	return hclog.NewNullLogger()
}

// Named returns a sub-logger of parent, or a null logger when parent is nil.
func Named(parent hclog.Logger, name string) hclog.Logger {
	if parent == nil {
		return Discard()
	}
	return parent.Named(name)
}
