package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/alexander-akhmetov/toolctl/internal/config"
	"github.com/alexander-akhmetov/toolctl/internal/controller"
	"github.com/alexander-akhmetov/toolctl/internal/event"
	"github.com/alexander-akhmetov/toolctl/internal/logging"
	"github.com/alexander-akhmetov/toolctl/internal/output"
	"github.com/alexander-akhmetov/toolctl/internal/runlog"
	"github.com/alexander-akhmetov/toolctl/internal/stream"
	"github.com/alexander-akhmetov/toolctl/internal/tool"
	"github.com/alexander-akhmetov/toolctl/internal/tui"
)

// runOptions are the per-invocation settings of `toolctl run`.
type runOptions struct {
	Target string // catalog name or executable
	Args   []string
	Set    map[string]string
	Env    map[string]string
	Dir    string
	PTY    bool

	JSON    bool
	Pretty  bool
	TUI     bool
	NoLog   bool
	Summary bool
}

// session wires one tool run: descriptor, sinks, run log and controller.
type session struct {
	cfg     *config.Config
	opts    runOptions
	stdout  io.Writer
	stderr  io.Writer
	spawner controller.Spawner

	logger  hclog.Logger
	counter *stream.Counter
	json    *stream.JSON
	runLog  *runlog.Logger
	logSink *lazyStream
}

func newSession(cfg *config.Config, opts runOptions, stdout, stderr io.Writer) *session {
	return &session{cfg: cfg, opts: opts, stdout: stdout, stderr: stderr}
}

// descriptor resolves the target against the tool catalog, falling back to
// treating it as an executable, and applies the command-line overrides.
func (s *session) descriptor() *tool.Descriptor {
	desc, ok := s.cfg.Descriptor(s.opts.Target)
	if !ok {
		desc = &tool.Descriptor{
			Name:       filepath.Base(s.opts.Target),
			Executable: s.opts.Target,
		}
	}
	if len(s.opts.Env) > 0 && desc.Env == nil {
		desc.Env = make(map[string]string, len(s.opts.Env))
	}
	for k, v := range s.opts.Env {
		desc.Env[k] = v
	}
	if s.opts.Dir != "" {
		desc.Dir = s.opts.Dir
	}
	if s.opts.PTY {
		desc.PTY = true
	}
	return desc
}

func (s *session) handler(sink stream.Stream) (*output.Handler, error) {
	order, err := s.cfg.HandlerOrder()
	if err != nil {
		return nil, err
	}
	keywords, err := s.cfg.Keywords()
	if err != nil {
		return nil, err
	}
	return output.NewHandler(output.Options{
		Order:      order,
		Stream:     sink,
		Keywords:   keywords,
		MaxPending: s.cfg.MaxPending(),
	}), nil
}

// run executes the tool to completion. Cancelling ctx stops it.
func (s *session) run(ctx context.Context) (controller.Result, error) {
	desc := s.descriptor()

	var (
		outSink, errSink stream.Stream
		ui               *tui.TUI
		deferredLog      bytes.Buffer
		logOut           = s.stderr
	)
	switch {
	case s.opts.JSON:
		s.json = stream.NewJSON(s.stdout, "", s.opts.Pretty)
		outSink, errSink = s.json.Channel("stdout"), s.json.Channel("stderr")
	case s.opts.TUI:
		ui = tui.New(ctx, controller.FormatCmdline(desc.Cmdline(s.opts.Set, s.opts.Args...)))
		outSink, errSink = ui.Stream(), ui.Stream()
		// the alternate screen owns the terminal; print records afterwards
		logOut = &deferredLog
	default:
		outSink = stream.NewText(s.stdout, isTerminal(s.stdout))
		errSink = stream.NewText(s.stderr, isTerminal(s.stderr))
	}
	defer func() {
		if deferredLog.Len() > 0 {
			_, _ = io.Copy(s.stderr, &deferredLog)
		}
	}()

	s.logger = logging.New(logging.Options{
		Level:  s.cfg.LogLevel,
		Output: logOut,
		Color:  isTerminal(logOut),
	})
	s.counter = stream.NewCounter()
	s.logSink = &lazyStream{}

	var err error
	if desc.Stdout, err = s.handler(stream.Multi{outSink, s.counter, s.logSink}); err != nil {
		return controller.Result{}, err
	}
	if !s.cfg.Controller.MergeStderr && !desc.PTY {
		if desc.Stderr, err = s.handler(stream.Multi{errSink, s.counter, s.logSink}); err != nil {
			return controller.Result{}, err
		}
	}

	var c *controller.Controller
	c = controller.New(controller.Options{
		Logger:          logging.Named(s.logger, "controller"),
		Spawner:         s.spawner,
		GracePeriod:     s.cfg.GracePeriod(),
		DrainTimeout:    s.cfg.DrainTimeout(),
		PollInterval:    s.cfg.PollInterval(),
		ReadSize:        s.cfg.Controller.ReadSize,
		MergeStderr:     s.cfg.Controller.MergeStderr,
		Encoding:        s.cfg.Controller.Encoding,
		PreRunHook:      func(argv []string) { s.beforeRun(c, desc, argv) },
		FinalizeRunHook: s.finishRunLog,
	})

	start := func() { c.Run(desc, s.opts.Set, s.opts.Args...) }

	var res controller.Result
	if ui != nil {
		// subscribers run in registration order; close the log before the
		// UI learns the run is over
		c.Subscribe(func(r controller.Result) { _ = s.finishRunLog(r) })
		res, err = ui.Run(c, start)
		if err != nil {
			return res, err
		}
		if errors.Is(res.Err, controller.ErrNoResult) {
			_ = s.finishRunLog(res)
		}
	} else {
		got := false
		c.Subscribe(func(r controller.Result) {
			res, got = r, true
			_ = s.finishRunLog(r)
		})
		start()
		waitErr := c.Wait(ctx)
		if !got {
			res = c.Unfinished()
			res.Err = errors.Join(res.Err, waitErr)
			_ = s.finishRunLog(res)
		}
	}

	if s.opts.Summary && !s.opts.JSON && !s.opts.TUI {
		s.printSummary(res)
	}
	return res, nil
}

// beforeRun replaces the controller's command-line record: it logs the
// command, stamps the JSON capture and opens the run log.
func (s *session) beforeRun(c *controller.Controller, desc *tool.Descriptor, argv []string) {
	cmdline := controller.FormatCmdline(argv)
	s.logger.Info("starting tool", "cmdline", cmdline, "run", c.RunID())

	if s.json != nil {
		s.json.SetRun(c.RunID())
	}
	if s.opts.NoLog {
		return
	}

	workDir, _ := resolveWorkingDir(desc.Dir)
	rl, err := runlog.New(runlog.Config{
		LogsDir: s.cfg.LogsDir,
		Name:    desc.DisplayName(),
		RunID:   c.RunID(),
		Cmdline: cmdline,
		WorkDir: workDir,
	})
	if err != nil {
		s.logger.Warn("run log disabled", "error", err)
		return
	}
	s.runLog = rl
	s.logSink.target = rl
	s.logger.Debug("writing run log", "path", rl.Path())
}

func (s *session) finishRunLog(r controller.Result) error {
	if s.runLog == nil {
		return nil
	}
	s.logSink.target = nil
	return s.runLog.Finish(r)
}

func (s *session) printSummary(r controller.Result) {
	sum := runSummary{
		Result:   r,
		Lines:    s.counter.Lines(),
		Warnings: s.counter.Count(event.KindWarning),
		Errors:   s.counter.Count(event.KindError),
	}
	if s.runLog != nil {
		sum.LogPath = s.runLog.Path()
	}
	fmt.Fprint(s.stdout, renderMarkdown(sum.Markdown(), terminalWidth(s.stdout)))
}

// lazyStream forwards to target once it is set. It lets handlers be built
// before the run log exists.
type lazyStream struct {
	target stream.Stream
}

func (l *lazyStream) Write(text string, kind event.Kind) error {
	if l.target == nil {
		return nil
	}
	return l.target.Write(text, kind)
}

func (l *lazyStream) WriteProgress(p event.Progress) error {
	if l.target == nil {
		return nil
	}
	return stream.WriteProgress(l.target, p)
}

func (l *lazyStream) Flush() error {
	if l.target == nil {
		return nil
	}
	return l.target.Flush()
}
