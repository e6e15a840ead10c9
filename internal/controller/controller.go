// Package controller runs external tools and pumps their output into
// output handlers.
//
// A Controller owns at most one child process at a time:
//
//	Idle --Run--> Running --exit or Stop--> Finalizing --drain, close, hook--> Idle
//
// It never starts goroutines that touch handlers. The host drives it either
// by calling Poll periodically or by calling Poll whenever Ready fires; Wait
// combines both. All methods must be called from one goroutine.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/alexander-akhmetov/toolctl/internal/output"
	"github.com/alexander-akhmetov/toolctl/internal/stream"
	"github.com/alexander-akhmetov/toolctl/internal/tool"
)

const (
	DefaultGracePeriod  = 3 * time.Second
	DefaultDrainTimeout = 500 * time.Millisecond
	DefaultPollInterval = 50 * time.Millisecond
	DefaultReadSize     = 64 * 1024
)

const (
	// maxReadsPerPoll keeps a chatty child from starving the host loop.
	maxReadsPerPoll = 64
	// maxDrainReads bounds the final drain when something keeps writing.
	maxDrainReads = 4096
)

// State is the controller lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFinalizing:
		return "finalizing"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Result describes a finished run.
type Result struct {
	RunID         string
	Cmdline       []string
	Pid           int
	ExitCode      int
	StoppedByUser bool
	Started       time.Time
	Duration      time.Duration
	// Err is set when the process could not be started or waited for.
	Err error
}

// Success reports a clean zero exit.
func (r Result) Success() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Options configures a Controller.
type Options struct {
	Logger  hclog.Logger
	Spawner Spawner

	// GracePeriod is how long Stop waits after the polite signal, and again
	// after a kill, before giving up.
	GracePeriod time.Duration
	// DrainTimeout finalizes a run whose process exited while its output
	// channels stay open, e.g. held by a grandchild.
	DrainTimeout time.Duration
	PollInterval time.Duration
	ReadSize     int

	// MergeStderr feeds stderr into the stdout handler at the OS level. It
	// is implied when the descriptor has no stderr handler.
	MergeStderr bool
	// Encoding of the child's output, WHATWG name. Empty means UTF-8.
	Encoding string

	// PreRunHook replaces logging of the command line before spawning.
	PreRunHook func(argv []string)
	// FinalizeRunHook runs after the exit has been logged, before reset.
	FinalizeRunHook func(Result) error
}

// Controller manages the lifecycle of one external process at a time.
type Controller struct {
	opts    Options
	logger  hclog.Logger
	spawner Spawner

	proc          Process
	desc          *tool.Descriptor
	state         State
	stoppedByUser bool
	finalizing    bool
	gen           uint64

	runID    string
	cmdline  []string
	started  time.Time
	exitSeen time.Time

	stdoutOpen bool
	stderrOpen bool
	outDec     *stream.Decoder
	errDec     *stream.Decoder

	// dropped is the last run Reset discarded before it was finalized
	dropped *Result

	subscribers []func(Result)
}

// New creates an idle controller.
func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.Spawner == nil {
		opts.Spawner = ExecSpawner{}
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = DefaultReadSize
	}

	c := &Controller{
		opts:    opts,
		logger:  opts.Logger,
		spawner: opts.Spawner,
	}
	var err error
	if c.outDec, err = stream.NewDecoder(opts.Encoding); err != nil {
		c.logger.Warn("falling back to utf-8", "error", err)
		c.outDec, _ = stream.NewDecoder("")
	}
	c.errDec, _ = stream.NewDecoder(c.outDec.Name())
	return c
}

// Subscribe registers fn to be called with the result of every run, in
// registration order, once the controller is idle again.
func (c *Controller) Subscribe(fn func(Result)) {
	c.subscribers = append(c.subscribers, fn)
}

func (c *Controller) State() State { return c.state }

// Pid returns the pid of the live process, 0 when idle.
func (c *Controller) Pid() int {
	if c.proc == nil {
		return 0
	}
	return c.proc.Pid()
}

// StoppedByUser reports whether Stop was called during the current run.
func (c *Controller) StoppedByUser() bool { return c.stoppedByUser }

// RunID identifies the current run, empty when idle.
func (c *Controller) RunID() string { return c.runID }

// Unfinished returns the result of a run that Reset discarded before it
// finished, for example when Stop gave up on a process that survived
// SIGKILL. Subscribers are not told about such runs. Err is ErrNoResult;
// when nothing was discarded only Err and ExitCode are set.
func (c *Controller) Unfinished() Result {
	if c.dropped != nil {
		return *c.dropped
	}
	return Result{ExitCode: -1, Err: ErrNoResult}
}

// Run starts desc. It panics with ErrAlreadyRunning if a process is live.
// Start failures are logged and leave the controller idle; subscribers
// receive a Result with Err set.
func (c *Controller) Run(desc *tool.Descriptor, named map[string]string, extra ...string) {
	if c.proc != nil || c.finalizing {
		panic(ErrAlreadyRunning)
	}

	c.runID = uuid.NewString()
	c.started = time.Now()
	c.dropped = nil
	c.desc = desc
	if err := desc.Validate(); err != nil {
		c.logger.Error("cannot run tool", "error", err)
		c.failStart(err)
		return
	}

	for _, h := range desc.Handlers() {
		h.Reset()
	}
	c.outDec.Reset()
	c.errDec.Reset()

	c.cmdline = desc.Cmdline(named, extra...)
	c.preRun(c.cmdline)

	merge := c.opts.MergeStderr || desc.Stderr == nil || desc.PTY
	proc, err := c.spawner.Spawn(SpawnSpec{
		Argv:         c.cmdline,
		Dir:          desc.Dir,
		Env:          desc.Environ(os.Environ()),
		MergeStderr:  merge,
		PTY:          desc.PTY,
		ReadSize:     c.opts.ReadSize,
		PollInterval: c.opts.PollInterval,
	})
	if err != nil {
		c.logger.Error("failed to start process", "cmdline", FormatCmdline(c.cmdline), "error", err)
		c.failStart(err)
		return
	}

	c.proc = proc
	c.state = StateRunning
	c.stdoutOpen = true
	c.stderrOpen = true
	c.logger.Debug("process started", "pid", proc.Pid(), "run", c.runID)
}

func (c *Controller) failStart(err error) {
	res := Result{
		RunID:    c.runID,
		Cmdline:  c.cmdline,
		ExitCode: -1,
		Started:  c.started,
		Err:      err,
	}
	c.Reset()
	c.notify(res)
}

func (c *Controller) preRun(argv []string) {
	if c.opts.PreRunHook != nil {
		c.safely("pre-run hook", func() { c.opts.PreRunHook(argv) })
		return
	}
	c.logger.Info(promptPrefix + FormatCmdline(argv))
}

// Stop terminates the live process: the polite signal first, then, after
// the grace period and only when force is set, a kill. Once the process is
// gone the next Poll finalizes the run. Without a live process Stop is
// Reset. If even a kill does not end the process, Stop logs a warning and
// resets.
func (c *Controller) Stop(force bool) {
	if c.finalizing {
		return
	}
	proc := c.proc
	if proc == nil {
		c.Reset()
		return
	}
	select {
	case <-proc.Exited():
		// already gone; the next Poll reports it as a normal exit
		return
	default:
	}
	c.stoppedByUser = true

	if err := proc.Terminate(); err != nil {
		c.logger.Debug("polite stop failed", "pid", proc.Pid(), "error", err)
	}
	if waitExited(proc, c.opts.GracePeriod) || !force {
		return
	}

	c.logger.Debug("process ignored polite stop, killing", "pid", proc.Pid())
	if err := proc.Kill(); err != nil {
		c.logger.Debug("kill failed", "pid", proc.Pid(), "error", err)
	}
	if waitExited(proc, c.opts.GracePeriod) {
		return
	}

	c.logger.Warn("process could not be stopped", "pid", proc.Pid())
	c.Reset()
}

// Reset kills any live process, discards buffered output and returns the
// controller to idle. It is idempotent. Called from a callback while the
// run is finalizing it does nothing; finalization always ends in a reset.
func (c *Controller) Reset() {
	if c.finalizing {
		return
	}
	c.gen++

	if proc := c.proc; proc != nil {
		c.proc = nil
		c.dropped = &Result{
			RunID:         c.runID,
			Cmdline:       c.cmdline,
			Pid:           proc.Pid(),
			ExitCode:      -1,
			StoppedByUser: c.stoppedByUser,
			Started:       c.started,
			Duration:      time.Since(c.started),
			Err:           ErrNoResult,
		}
		c.killAndCheck(proc)
		if err := proc.Close(); err != nil {
			c.logger.Debug("close transport", "error", err)
		}
	}
	if c.desc != nil {
		for _, h := range c.desc.Handlers() {
			h.Reset()
		}
	}
	c.outDec.Reset()
	c.errDec.Reset()

	c.desc = nil
	c.state = StateIdle
	c.stoppedByUser = false
	c.stdoutOpen = false
	c.stderrOpen = false
	c.exitSeen = time.Time{}
	c.runID = ""
	c.cmdline = nil
}

func (c *Controller) killAndCheck(proc Process) {
	select {
	case <-proc.Exited():
		return
	default:
	}
	if err := proc.Kill(); err != nil {
		c.logger.Debug("kill failed", "pid", proc.Pid(), "error", err)
	}
	if waitExited(proc, c.opts.GracePeriod) {
		return
	}
	if processAlive(proc.Pid()) {
		c.logger.Warn("process may be left running", "pid", proc.Pid())
	}
}

// Ready fires when the live process may have output or has exited. When
// idle the returned channel is closed.
func (c *Controller) Ready() <-chan struct{} {
	if c.proc == nil {
		return closedCh
	}
	return c.proc.Ready()
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Poll reads whatever output is available without blocking, feeds it to
// the handlers and finalizes the run once the process has exited and its
// channels are closed. It returns true while a run is active.
func (c *Controller) Poll() bool {
	proc := c.proc
	if proc == nil || c.finalizing {
		return false
	}
	gen := c.gen

	if c.stdoutOpen {
		open := c.pump(gen, proc.TryReadStdout, c.desc.Stdout, c.outDec, maxReadsPerPoll)
		// a callback may have reset the controller or even started a new run
		if c.gen != gen {
			return c.proc != nil
		}
		c.stdoutOpen = open
	}
	if c.stderrOpen {
		open := c.pump(gen, proc.TryReadStderr, c.stderrHandler(), c.errDec, maxReadsPerPoll)
		if c.gen != gen {
			return c.proc != nil
		}
		c.stderrOpen = open
	}

	select {
	case <-proc.Exited():
	default:
		return true
	}

	if c.stdoutOpen || c.stderrOpen {
		if c.exitSeen.IsZero() {
			c.exitSeen = time.Now()
			return true
		}
		if time.Since(c.exitSeen) < c.opts.DrainTimeout {
			return true
		}
		c.logger.Debug("output still open after exit, finalizing", "pid", proc.Pid())
	}
	c.finalize()
	return c.proc != nil
}

// Wait drives the controller until the run finishes. Cancelling ctx stops
// the process once; Wait still returns only after finalization, with the
// context error.
func (c *Controller) Wait(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	done := ctx.Done()
	var err error
	for c.Poll() {
		select {
		case <-done:
			err = ctx.Err()
			done = nil
			c.Stop(true)
		case <-c.Ready():
		case <-ticker.C:
		}
	}
	return err
}

func (c *Controller) stderrHandler() *output.Handler {
	if c.desc.Stderr != nil {
		return c.desc.Stderr
	}
	return c.desc.Stdout
}

// pump reads up to limit chunks from one channel into h. It returns false
// once the channel is closed.
func (c *Controller) pump(gen uint64, read func() ([]byte, error), h *output.Handler, dec *stream.Decoder, limit int) bool {
	for range limit {
		data, err := read()
		switch {
		case errors.Is(err, io.EOF):
			c.feed(h, dec.Decode(nil, true))
			return false
		case err != nil:
			c.logger.Warn("reading process output failed", "error", err)
			c.feed(h, dec.Decode(nil, true))
			return false
		case len(data) == 0:
			return true
		}
		c.feed(h, dec.Decode(data, false))
		if c.gen != gen {
			return false
		}
	}
	return true
}

func (c *Controller) feed(h *output.Handler, text string) {
	if h == nil || text == "" {
		return
	}
	c.safely("output handler", func() {
		if err := h.Feed(text); err != nil {
			c.logger.Warn("output handler failed", "error", err)
		}
	})
}

// finalize runs once per process: drain stdout then stderr, close the
// transport, collect the exit code, close the handlers, log the outcome and
// run the hook. Whatever fails, it ends in Reset and then notifies
// subscribers.
func (c *Controller) finalize() {
	proc, desc := c.proc, c.desc
	c.state = StateFinalizing
	c.finalizing = true
	gen := c.gen

	res := Result{
		RunID:         c.runID,
		Cmdline:       c.cmdline,
		Pid:           proc.Pid(),
		ExitCode:      -1,
		StoppedByUser: c.stoppedByUser,
		Started:       c.started,
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("finalize panicked", "panic", r)
		}
		c.finalizing = false
		c.Reset()
		c.dropped = nil
		c.notify(res)
	}()

	c.safely("drain", func() {
		if c.stdoutOpen {
			c.stdoutOpen = c.pump(gen, proc.TryReadStdout, desc.Stdout, c.outDec, maxDrainReads)
		}
		if c.stderrOpen {
			c.stderrOpen = c.pump(gen, proc.TryReadStderr, c.stderrHandler(), c.errDec, maxDrainReads)
		}
		// a channel held open by a grandchild: flush what the decoders hold
		if c.stdoutOpen {
			c.feed(desc.Stdout, c.outDec.Decode(nil, true))
		}
		if c.stderrOpen {
			c.feed(c.stderrHandler(), c.errDec.Decode(nil, true))
		}
	})
	if err := proc.Close(); err != nil {
		c.logger.Debug("close transport", "error", err)
	}

	res.ExitCode, res.Err = proc.Wait()
	res.Duration = time.Since(res.Started)

	for _, h := range desc.Handlers() {
		c.safely("close output handler", func() {
			if err := h.Close(); err != nil {
				c.logger.Warn("output handler failed", "error", err)
			}
		})
	}

	switch {
	case res.Err != nil:
		c.logger.Error("waiting for process failed", "pid", res.Pid, "error", res.Err)
	case res.StoppedByUser:
		c.logger.Info("process stopped by user", "pid", res.Pid, "exit_code", res.ExitCode)
	case res.ExitCode != 0:
		c.logger.Warn("process exited with non-zero code", "pid", res.Pid, "exit_code", res.ExitCode)
	default:
		c.logger.Info("process finished", "pid", res.Pid, "duration", res.Duration.Round(time.Millisecond))
	}

	if c.opts.FinalizeRunHook != nil {
		c.safely("finalize hook", func() {
			if err := c.opts.FinalizeRunHook(res); err != nil {
				c.logger.Error("finalize hook failed", "error", err)
			}
		})
	}
}

func (c *Controller) notify(res Result) {
	for _, fn := range c.subscribers {
		c.safely("subscriber", func() { fn(res) })
	}
}

// safely runs fn, logging a panic instead of propagating it.
func (c *Controller) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(what+" panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func waitExited(proc Process, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-proc.Exited():
		return true
	case <-t.C:
		return false
	}
}

// FormatCmdline renders argv for display, quoting arguments that contain
// blanks or quotes.
func FormatCmdline(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		if a == "" || strings.ContainsAny(a, " \t\n\"'") {
			a = strconv.Quote(a)
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}
