package controller

import (
	"errors"
	"time"
)

var (
	// ErrAlreadyRunning is the panic value of Run on a controller with a live process.
	ErrAlreadyRunning = errors.New("controller already has a running process")
	// ErrPTYUnsupported is returned when PTY mode is requested on a platform without it.
	ErrPTYUnsupported = errors.New("pty mode is not supported on this platform")
	// ErrEmptyCommand is returned when a spawn spec has no argv.
	ErrEmptyCommand = errors.New("empty command line")
	// ErrNoResult marks a run that was reset before it could be finalized.
	ErrNoResult = errors.New("run ended without a result")
)

// Transport is the non-blocking view of a process's output channels.
//
// TryReadStdout and TryReadStderr never block. They return (nil, nil) when
// nothing is available yet, the bytes read when there are some, and
// (nil, io.EOF) once the writing end is gone. Ready delivers a wakeup when a
// channel may have become readable or the process has exited; wakeups may be
// spurious.
type Transport interface {
	TryReadStdout() ([]byte, error)
	TryReadStderr() ([]byte, error)
	Ready() <-chan struct{}
	Close() error
}

// Process is a spawned child.
type Process interface {
	Transport
	Pid() int
	// Terminate asks the process to stop: SIGTERM to its group on POSIX,
	// CTRL_BREAK on Windows.
	Terminate() error
	// Kill stops the process unconditionally.
	Kill() error
	// Exited is closed once the process has exited and been reaped.
	Exited() <-chan struct{}
	// Wait blocks until exit and returns the exit code, -1 when the process
	// was ended by a signal. A non-zero exit is not an error.
	Wait() (int, error)
}

// SpawnSpec is everything needed to start a process.
type SpawnSpec struct {
	Argv []string
	Dir  string
	Env  []string
	// MergeStderr sends stderr to the stdout channel; TryReadStderr then
	// reports io.EOF straight away.
	MergeStderr bool
	PTY         bool
	ReadSize    int
	// PollInterval paces wakeups on platforms without readiness polling.
	PollInterval time.Duration
}

// Spawner starts processes.
type Spawner interface {
	Spawn(spec SpawnSpec) (Process, error)
}

// ExecSpawner starts real OS processes.
type ExecSpawner struct{}

func (ExecSpawner) Spawn(spec SpawnSpec) (Process, error) {
	if len(spec.Argv) == 0 || spec.Argv[0] == "" {
		return nil, ErrEmptyCommand
	}
	if spec.ReadSize <= 0 {
		spec.ReadSize = DefaultReadSize
	}
	if spec.PollInterval <= 0 {
		spec.PollInterval = DefaultPollInterval
	}
	if spec.PTY {
		return spawnPTY(spec)
	}
	return spawnPipes(spec)
}
