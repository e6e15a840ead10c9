package controller

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexander-akhmetov/toolctl/internal/event"
	"github.com/alexander-akhmetov/toolctl/internal/output"
	"github.com/alexander-akhmetov/toolctl/internal/tool"
)

type harness struct {
	c       *Controller
	spawner *fakeSpawner
	proc    *fakeProcess
	desc    *tool.Descriptor
	logs    *bytes.Buffer
	events  []string
	results []Result
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		proc: newFakeProcess(),
		logs: &bytes.Buffer{},
	}
	h.spawner = &fakeSpawner{proc: h.proc}

	record := func(prefix string) *output.Handler {
		return output.NewHandler(output.Options{
			OnLine: func(l string) error {
				h.events = append(h.events, prefix+"line "+l)
				return nil
			},
			OnProgress: func(p event.Progress) error {
				h.events = append(h.events, prefix+"progress "+p.Format())
				return nil
			},
		})
	}
	h.desc = &tool.Descriptor{
		Executable: "tool",
		Args:       []string{"-v"},
		Stdout:     record("out "),
		Stderr:     record("err "),
	}

	opts := Options{
		Logger: hclog.New(&hclog.LoggerOptions{
			Output:      h.logs,
			Level:       hclog.Trace,
			DisableTime: true,
		}),
		Spawner:      h.spawner,
		GracePeriod:  20 * time.Millisecond,
		DrainTimeout: 20 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.c = New(opts)
	h.c.Subscribe(func(r Result) { h.results = append(h.results, r) })
	return h
}

func (h *harness) pollUntilIdle(t *testing.T) {
	t.Helper()
	for range 200 {
		if !h.c.Poll() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("controller did not become idle")
}

func TestController_RunPumpsOutputAndFinalizes(t *testing.T) {
	h := newHarness(t, nil)
	h.proc.pushStdout("hello\n\r 50 % half").pushStderr("oops")

	h.c.Run(h.desc, map[string]string{"mode": "fast"}, "in.tif")
	require.Equal(t, StateRunning, h.c.State())
	assert.Equal(t, h.proc.pid, h.c.Pid())
	assert.NotEmpty(t, h.c.RunID())

	require.True(t, h.c.Poll())
	assert.Equal(t, []string{"out line hello\n"}, h.events)

	h.proc.pushStdout("\r").pushStdout("done\n")
	h.proc.exit(0)
	h.pollUntilIdle(t)

	assert.Equal(t, []string{
		"out line hello\n",
		"out progress  50.0 % half",
		"out line done\n",
		"err line oops\n",
	}, h.events)

	require.Len(t, h.results, 1)
	res := h.results[0]
	assert.Equal(t, 0, res.ExitCode)
	assert.True(t, res.Success())
	assert.False(t, res.StoppedByUser)
	assert.Equal(t, []string{"tool", "mode=fast", "-v", "in.tif"}, res.Cmdline)
	assert.Equal(t, h.proc.pid, res.Pid)

	assert.Equal(t, StateIdle, h.c.State())
	assert.Zero(t, h.c.Pid())
	assert.Empty(t, h.c.RunID())
	assert.GreaterOrEqual(t, h.proc.closeCalls, 1)
	assert.Contains(t, h.logs.String(), "[INFO]  "+promptPrefix+"tool mode=fast -v in.tif")
	assert.Contains(t, h.logs.String(), "process finished")
}

func TestController_SpawnSpec(t *testing.T) {
	h := newHarness(t, nil)
	h.desc.Dir = "/work"
	h.desc.Env = map[string]string{"TOOLCTL_TEST_VAR": "1"}

	h.c.Run(h.desc, nil)
	require.Len(t, h.spawner.specs, 1)
	spec := h.spawner.specs[0]
	assert.Equal(t, []string{"tool", "-v"}, spec.Argv)
	assert.Equal(t, "/work", spec.Dir)
	assert.Contains(t, spec.Env, "TOOLCTL_TEST_VAR=1")
	assert.False(t, spec.MergeStderr)
	assert.Equal(t, DefaultReadSize, spec.ReadSize)

	h.proc.exit(0)
	h.pollUntilIdle(t)

	h.proc = newFakeProcess()
	h.spawner.proc = h.proc
	h.desc.Stderr = nil
	h.c.Run(h.desc, nil)
	assert.True(t, h.spawner.specs[1].MergeStderr, "no stderr handler merges stderr")
}

func TestController_RunWhileRunningPanics(t *testing.T) {
	h := newHarness(t, nil)
	h.c.Run(h.desc, nil)

	assert.PanicsWithValue(t, ErrAlreadyRunning, func() {
		h.c.Run(h.desc, nil)
	})
	assert.Len(t, h.spawner.specs, 1, "no second process was spawned")
}

func TestController_SpawnFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.spawner.err = errors.New("executable file not found")

	assert.NotPanics(t, func() { h.c.Run(h.desc, nil, "x") })

	assert.Equal(t, StateIdle, h.c.State())
	assert.False(t, h.c.Poll())
	require.Len(t, h.results, 1)
	assert.ErrorIs(t, h.results[0].Err, h.spawner.err)
	assert.Equal(t, -1, h.results[0].ExitCode)
	assert.Contains(t, h.logs.String(), "[ERROR] failed to start process")
	assert.Contains(t, h.logs.String(), "tool -v x")

	// the controller is reusable
	h.spawner.err = nil
	h.c.Run(h.desc, nil)
	assert.Equal(t, StateRunning, h.c.State())
}

func TestController_InvalidDescriptor(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Run(&tool.Descriptor{}, nil)

	assert.Empty(t, h.spawner.specs)
	require.Len(t, h.results, 1)
	assert.ErrorIs(t, h.results[0].Err, tool.ErrNoExecutable)
	assert.Equal(t, StateIdle, h.c.State())
}

func TestController_StopUnresponsiveProcess(t *testing.T) {
	var hookSawStopped bool
	h := newHarness(t, func(o *Options) {
		o.FinalizeRunHook = func(r Result) error {
			hookSawStopped = r.StoppedByUser
			return nil
		}
	})
	h.proc.exitOnTerm = false

	h.c.Run(h.desc, nil)
	h.c.Stop(true)

	assert.Equal(t, 1, h.proc.terminateCalls)
	assert.Equal(t, 1, h.proc.killCalls)
	assert.True(t, h.c.StoppedByUser())
	assert.Equal(t, StateRunning, h.c.State(), "finalization is left to Poll")

	h.pollUntilIdle(t)

	require.Len(t, h.results, 1)
	assert.True(t, hookSawStopped)
	assert.True(t, h.results[0].StoppedByUser)
	assert.False(t, h.c.StoppedByUser(), "cleared by reset")
	assert.Contains(t, h.logs.String(), "[INFO]  process stopped by user")
	assert.NotContains(t, h.logs.String(), "non-zero")
}

func TestController_StopPolite(t *testing.T) {
	h := newHarness(t, nil)
	h.proc.exitOnTerm = true

	h.c.Run(h.desc, nil)
	h.c.Stop(true)

	assert.Equal(t, 0, h.proc.killCalls)
	h.pollUntilIdle(t)
	require.Len(t, h.results, 1)
	assert.Equal(t, 143, h.results[0].ExitCode)
	assert.True(t, h.results[0].StoppedByUser)
}

func TestController_StopWithoutForce(t *testing.T) {
	h := newHarness(t, nil)
	h.proc.exitOnTerm = false

	h.c.Run(h.desc, nil)
	h.c.Stop(false)

	assert.Equal(t, 0, h.proc.killCalls)
	assert.Equal(t, StateRunning, h.c.State())

	h.proc.exit(0)
	h.pollUntilIdle(t)
	assert.True(t, h.results[0].StoppedByUser)
}

func TestController_StopFallsBackToReset(t *testing.T) {
	h := newHarness(t, nil)
	h.proc.exitOnTerm = false
	h.proc.exitOnKill = false

	h.c.Run(h.desc, nil)
	h.c.Stop(true)

	assert.Equal(t, StateIdle, h.c.State())
	assert.Zero(t, h.c.Pid())
	assert.False(t, h.c.StoppedByUser())
	assert.Contains(t, h.logs.String(), "[WARN]  process could not be stopped")
	assert.Empty(t, h.results, "reset does not report a finished run")

	res := h.c.Unfinished()
	assert.ErrorIs(t, res.Err, ErrNoResult)
	assert.True(t, res.StoppedByUser)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, h.proc.pid, res.Pid)
	assert.Equal(t, []string{"tool", "-v"}, res.Cmdline)
	assert.NotEmpty(t, res.RunID)
}

func TestController_Unfinished(t *testing.T) {
	h := newHarness(t, nil)

	res := h.c.Unfinished()
	assert.ErrorIs(t, res.Err, ErrNoResult, "nothing was discarded yet")
	assert.Empty(t, res.RunID)

	h.c.Run(h.desc, nil)
	h.c.Reset()
	dropped := h.c.Unfinished()
	assert.NotEmpty(t, dropped.RunID)
	assert.False(t, dropped.StoppedByUser)

	h.proc = newFakeProcess()
	h.spawner.proc = h.proc
	h.c.Run(h.desc, nil)
	assert.Empty(t, h.c.Unfinished().RunID, "a new run forgets the discarded one")

	h.proc.exit(0)
	h.pollUntilIdle(t)
	require.Len(t, h.results, 1)
	assert.Empty(t, h.c.Unfinished().RunID, "a finalized run is not discarded")
}

func TestController_StopAfterExit(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Run(h.desc, nil)
	h.proc.exit(3)
	h.c.Stop(true)

	assert.Equal(t, 0, h.proc.terminateCalls)
	assert.False(t, h.c.StoppedByUser())

	h.pollUntilIdle(t)
	require.Len(t, h.results, 1)
	assert.False(t, h.results[0].StoppedByUser)
	assert.Equal(t, 3, h.results[0].ExitCode)
	assert.Contains(t, h.logs.String(), "[WARN]  process exited with non-zero code")
	assert.NotContains(t, h.logs.String(), "stopped by user")
}

func TestController_StopAndResetWhenIdle(t *testing.T) {
	h := newHarness(t, nil)

	assert.NotPanics(t, func() {
		h.c.Stop(true)
		h.c.Reset()
		h.c.Reset()
	})
	assert.Equal(t, StateIdle, h.c.State())
	assert.Empty(t, h.results)
}

func TestController_ResetDiscardsBufferedOutput(t *testing.T) {
	h := newHarness(t, nil)
	h.proc.pushStdout("partial")

	h.c.Run(h.desc, nil)
	require.True(t, h.c.Poll())
	assert.Equal(t, "partial", h.desc.Stdout.Pending())

	h.c.Reset()
	assert.Empty(t, h.desc.Stdout.Pending())
	assert.Equal(t, 1, h.proc.killCalls)
	assert.Empty(t, h.events)
}

func TestController_NonZeroExitIsWarning(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Run(h.desc, nil)
	h.proc.exit(2)
	h.pollUntilIdle(t)

	require.Len(t, h.results, 1)
	assert.Equal(t, 2, h.results[0].ExitCode)
	assert.False(t, h.results[0].Success())
	assert.Contains(t, h.logs.String(), "[WARN]  process exited with non-zero code: pid=4242424 exit_code=2")
}

func TestController_FinalizeSurvivesFailingCallbacks(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.FinalizeRunHook = func(Result) error { panic("hook exploded") }
	})
	h.desc.Stdout = output.NewHandler(output.Options{
		OnLine: func(string) error { panic("sink exploded") },
	})
	h.c.Subscribe(func(Result) { panic("subscriber exploded") })
	var after int
	h.c.Subscribe(func(Result) { after++ })

	h.proc.pushStdout("line\n")
	h.c.Run(h.desc, nil)
	h.proc.exit(0)

	assert.NotPanics(t, func() { h.pollUntilIdle(t) })
	assert.Equal(t, StateIdle, h.c.State())
	assert.Len(t, h.results, 1)
	assert.Equal(t, 1, after)

	logs := h.logs.String()
	assert.Contains(t, logs, "output handler panicked")
	assert.Contains(t, logs, "finalize hook panicked")
	assert.Contains(t, logs, "subscriber panicked")
}

func TestController_FinalizeHookError(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.FinalizeRunHook = func(Result) error { return errors.New("move failed") }
	})

	h.c.Run(h.desc, nil)
	h.proc.exit(0)
	h.pollUntilIdle(t)

	assert.Contains(t, h.logs.String(), "[ERROR] finalize hook failed: error=\"move failed\"")
	assert.Len(t, h.results, 1)
}

func TestController_StopFromCallback(t *testing.T) {
	h := newHarness(t, nil)
	h.proc.exitOnTerm = true
	h.desc.Stdout = output.NewHandler(output.Options{
		OnLine: func(l string) error {
			if strings.HasPrefix(l, "FATAL") {
				h.c.Stop(true)
			}
			return nil
		},
	})

	h.proc.pushStdout("ok\nFATAL\nmore\n")
	h.c.Run(h.desc, nil)
	h.pollUntilIdle(t)

	require.Len(t, h.results, 1, "finalized exactly once")
	assert.True(t, h.results[0].StoppedByUser)
}

func TestController_ResetFromCallback(t *testing.T) {
	h := newHarness(t, nil)
	var lines []string
	h.desc.Stdout = output.NewHandler(output.Options{
		OnLine: func(l string) error {
			lines = append(lines, l)
			h.c.Reset()
			return nil
		},
	})

	h.proc.pushStdout("first\nsecond\n")
	h.c.Run(h.desc, nil)

	assert.False(t, h.c.Poll())
	assert.Equal(t, []string{"first\n"}, lines)
	assert.Equal(t, StateIdle, h.c.State())
	assert.Empty(t, h.results)
}

func TestController_SubscriberCanStartNextRun(t *testing.T) {
	h := newHarness(t, nil)
	first := h.proc
	second := newFakeProcess()
	second.pid = 4242425

	h.c.Subscribe(func(r Result) {
		if r.Pid == first.pid {
			h.spawner.proc = second
			h.c.Run(h.desc, nil)
		}
	})

	h.c.Run(h.desc, nil)
	first.exit(0)
	assert.True(t, h.c.Poll(), "second run is active")
	assert.Equal(t, second.pid, h.c.Pid())

	second.exit(1)
	h.pollUntilIdle(t)
	require.Len(t, h.results, 2)
	assert.Equal(t, 1, h.results[1].ExitCode)
}

func TestController_DrainTimeout(t *testing.T) {
	h := newHarness(t, nil)
	h.proc.holdOpen = true
	h.proc.pushStdout("tail without newline")

	h.c.Run(h.desc, nil)
	h.proc.exit(0)

	assert.True(t, h.c.Poll(), "exit noticed, channels still open")
	time.Sleep(30 * time.Millisecond)
	assert.False(t, h.c.Poll())

	assert.Equal(t, []string{"out line tail without newline\n"}, h.events)
	require.Len(t, h.results, 1)
}

func TestController_DrainOrderStdoutThenStderr(t *testing.T) {
	h := newHarness(t, nil)
	h.c.Run(h.desc, nil)

	h.proc.pushStderr("e1\n").pushStdout("o1\n").pushStderr("e2\n").pushStdout("o2\n")
	h.proc.exit(0)
	h.pollUntilIdle(t)

	assert.Equal(t, []string{"stdout", "stdout", "stderr", "stderr"}, h.proc.reads)
	assert.Equal(t, []string{"out line o1\n", "out line o2\n", "err line e1\n", "err line e2\n"}, h.events)
}

func TestController_Encoding(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Encoding = "windows-1252" })
	h.proc.pushStdout("caf\xe9\n")

	h.c.Run(h.desc, nil)
	h.proc.exit(0)
	h.pollUntilIdle(t)

	assert.Equal(t, []string{"out line café\n"}, h.events)
}

func TestController_SplitMultibyteAcrossReads(t *testing.T) {
	h := newHarness(t, nil)
	h.proc.pushStdout("caf\xc3").pushStdout("\xa9\n")

	h.c.Run(h.desc, nil)
	h.proc.exit(0)
	h.pollUntilIdle(t)

	assert.Equal(t, []string{"out line café\n"}, h.events)
}

func TestController_UnknownEncodingFallsBack(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Encoding = "klingon" })
	assert.Contains(t, h.logs.String(), "falling back to utf-8")
}

func TestController_PreRunHook(t *testing.T) {
	var got []string
	h := newHarness(t, func(o *Options) {
		o.PreRunHook = func(argv []string) { got = argv }
	})

	h.c.Run(h.desc, map[string]string{"k": "v"})
	assert.Equal(t, []string{"tool", "k=v", "-v"}, got)
	assert.NotContains(t, h.logs.String(), promptPrefix+"tool")
}

func TestController_WaitCancel(t *testing.T) {
	h := newHarness(t, nil)
	h.proc.exitOnTerm = true

	h.c.Run(h.desc, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.c.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, h.results, 1)
	assert.True(t, h.results[0].StoppedByUser)
	assert.Equal(t, 1, h.proc.terminateCalls)
}

func TestController_WaitNaturalExit(t *testing.T) {
	h := newHarness(t, nil)
	h.c.Run(h.desc, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		h.proc.exit(0)
	}()

	require.NoError(t, h.c.Wait(context.Background()))
	require.Len(t, h.results, 1)
	assert.Equal(t, 0, h.results[0].ExitCode)
}

func TestFormatCmdline(t *testing.T) {
	assert.Equal(t, `tool -v "two words" "" x=1`, FormatCmdline([]string{"tool", "-v", "two words", "", "x=1"}))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "finalizing", StateFinalizing.String())
	assert.Equal(t, "State(9)", State(9).String())
}
