// Package runlog writes a persistent, timestamped log file for every tool
// run. The file is locked while the run is active so `toolctl logs` can tell
// live runs from finished ones.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alexander-akhmetov/toolctl/internal/controller"
	"github.com/alexander-akhmetov/toolctl/internal/dirs"
	"github.com/alexander-akhmetov/toolctl/internal/event"
)

const (
	timestampFormat = "2006-01-02 15:04:05"
	filenameFormat  = "20060102-150405"
)

// Config holds logger configuration.
type Config struct {
	LogsDir string // default: dirs.LogsDir()
	Name    string // tool name, used in the file name
	RunID   string
	Cmdline string
	WorkDir string
	Now     func() time.Time
}

// Logger records one run. It implements stream.Stream and
// stream.ProgressWriter so it can sit in a stream.Multi next to the
// terminal sink.
type Logger struct {
	file      *os.File
	logPath   string
	name      string
	now       func() time.Time
	startTime time.Time

	lastPercent int
	lastText    string
	finished    bool
}

// New creates the log file and takes its lock.
// Log files are named <timestamp>-<name>.log.
func New(cfg Config) (*Logger, error) {
	logsDir := cfg.LogsDir
	if logsDir == "" {
		logsDir = dirs.LogsDir()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}

	started := now()
	f, logPath, err := createLogFile(logsDir, started.Format(filenameFormat)+"-"+sanitizeFilename(cfg.Name))
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("acquire file lock: %w", err)
	}
	registerActiveLock(logPath)

	l := &Logger{
		file:        f,
		logPath:     logPath,
		name:        cfg.Name,
		now:         now,
		startTime:   started,
		lastPercent: -1,
	}

	l.writef("# toolctl run log\n")
	l.writef("Tool: %s\n", cfg.Name)
	if cfg.RunID != "" {
		l.writef("Run: %s\n", cfg.RunID)
	}
	l.writef("Command: %s\n", cfg.Cmdline)
	if cfg.WorkDir != "" {
		l.writef("Working dir: %s\n", cfg.WorkDir)
	}
	l.writef("Started: %s\n", started.Format(timestampFormat))
	l.writef("%s\n\n", strings.Repeat("-", 60))

	return l, nil
}

// createLogFile creates base.log, or base-2.log and so on when two runs of
// the same tool start within one second.
func createLogFile(dir, base string) (*os.File, string, error) {
	for i := 1; ; i++ {
		name := base
		if i > 1 {
			name = fmt.Sprintf("%s-%d", base, i)
		}
		path := filepath.Join(dir, name+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !os.IsExist(err) || i >= 100 {
			return nil, "", err
		}
	}
}

// Path returns the log file path.
func (l *Logger) Path() string {
	return l.logPath
}

// Printf writes a timestamped message to the log.
func (l *Logger) Printf(format string, args ...any) {
	l.writef("[%s] %s\n", l.now().Format(timestampFormat), fmt.Sprintf(format, args...))
}

// Write records an output line. Error and warning lines carry their tag.
func (l *Logger) Write(text string, kind event.Kind) error {
	text = strings.TrimRight(text, "\r\n")
	switch kind {
	case event.KindError:
		l.Printf("ERROR: %s", text)
	case event.KindWarning:
		l.Printf("WARNING: %s", text)
	case event.KindProgress:
		l.Printf("progress: %s", strings.TrimSpace(text))
	default:
		l.Printf("%s", text)
	}
	return nil
}

// WriteProgress records progress updates, skipping repeats of the same
// whole percentage or text so spinners do not flood the file.
func (l *Logger) WriteProgress(p event.Progress) error {
	if p.HasPercent {
		pct := int(p.Clamped())
		if pct == l.lastPercent && p.Text == l.lastText {
			return nil
		}
		l.lastPercent = pct
	} else if p.Text == "" || p.Text == l.lastText {
		return nil
	}
	l.lastText = p.Text
	return l.Write(p.Format(), event.KindProgress)
}

func (l *Logger) Flush() error {
	if l.file == nil {
		return nil
	}
	return l.file.Sync()
}

// Finish writes the exit footer for r and closes the log. It has the shape
// of controller.Options.FinalizeRunHook.
func (l *Logger) Finish(r controller.Result) error {
	if l.finished {
		return nil
	}
	l.finished = true

	l.writef("\n%s\n", strings.Repeat("-", 60))
	switch {
	case r.Err != nil:
		l.writef("Exit reason: %s\n", ReasonError)
		l.writef("Error: %s\n", r.Err)
	case r.StoppedByUser:
		l.writef("Exit reason: %s\n", ReasonStopped)
	default:
		l.writef("Exit reason: %s\n", ReasonExited)
	}
	if r.Pid > 0 {
		l.writef("Pid: %d\n", r.Pid)
	}
	l.writef("Exit code: %d\n", r.ExitCode)
	d := r.Duration
	if d == 0 {
		d = l.now().Sub(l.startTime)
	}
	l.writef("Duration: %s\n", formatElapsed(d))
	l.writef("Completed: %s\n", l.now().Format(timestampFormat))
	return l.Close()
}

// Close releases the file lock and closes the log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}

	_ = unlockFile(l.file)
	unregisterActiveLock(l.logPath)

	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}

func (l *Logger) writef(format string, args ...any) {
	if l.file != nil {
		fmt.Fprintf(l.file, format, args...)
	}
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// sanitizeFilename converts a tool name to a safe filename component.
func sanitizeFilename(s string) string {
	s = strings.NewReplacer("/", "-", "\\", "-", ":", "-", " ", "-").Replace(s)

	var clean strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			clean.WriteRune(r)
		}
	}
	result := clean.String()

	for strings.Contains(result, "--") {
		result = strings.ReplaceAll(result, "--", "-")
	}
	result = strings.Trim(result, "-")

	if len(result) > 100 {
		result = strings.TrimRight(result[:100], "-")
	}

	if result == "" {
		return "unnamed"
	}
	return result
}
