//go:build windows

package controller

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var procPeekNamedPipe = windows.NewLazySystemDLL("kernel32.dll").NewProc("PeekNamedPipe")

type pipeChannel struct {
	f      *os.File
	closed bool
}

type windowsProcess struct {
	cmd *exec.Cmd
	pid int

	mu     sync.Mutex
	stdout pipeChannel
	stderr pipeChannel
	buf    []byte

	ready  chan struct{}
	stop   chan struct{}
	exited chan struct{}
	wg     sync.WaitGroup

	exitCode  int
	waitErr   error
	closeOnce sync.Once
	closeErr  error
}

func spawnPTY(SpawnSpec) (Process, error) {
	return nil, ErrPTYUnsupported
}

func spawnPipes(spec SpawnSpec) (Process, error) {
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	var errR, errW *os.File
	if !spec.MergeStderr {
		if errR, errW, err = os.Pipe(); err != nil {
			outR.Close()
			outW.Close()
			return nil, fmt.Errorf("stderr pipe: %w", err)
		}
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...) //nolint:gosec // argv comes from the tool descriptor
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
	cmd.Stdout = outW
	cmd.Stderr = outW
	if errW != nil {
		cmd.Stderr = errW
	}

	closeAll := func(files ...*os.File) {
		for _, f := range files {
			if f != nil {
				f.Close()
			}
		}
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		closeAll(outR, outW, errR, errW)
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	startErr := cmd.Start()
	closeAll(outW, errW)
	if startErr != nil {
		closeAll(outR, errR)
		return nil, fmt.Errorf("start %s: %w", spec.Argv[0], startErr)
	}
	stdin.Close()

	p := &windowsProcess{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		stdout: pipeChannel{f: outR},
		stderr: pipeChannel{f: errR, closed: errR == nil},
		buf:    make([]byte, spec.ReadSize),
		ready:  make(chan struct{}, 1),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go p.waitExit()
	p.wg.Add(1)
	go p.tick(spec.PollInterval)
	return p, nil
}

func (p *windowsProcess) waitExit() {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		p.exitCode = exitErr.ExitCode()
	default:
		p.exitCode = -1
		p.waitErr = fmt.Errorf("wait: %w", err)
	}
	close(p.exited)
	p.notify()
}

// tick stands in for readiness polling, which anonymous pipes lack.
func (p *windowsProcess) tick(interval time.Duration) {
	defer p.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
			p.notify()
		}
	}
}

func (p *windowsProcess) notify() {
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

func (p *windowsProcess) TryReadStdout() ([]byte, error) { return p.tryRead(&p.stdout) }
func (p *windowsProcess) TryReadStderr() ([]byte, error) { return p.tryRead(&p.stderr) }

// tryRead peeks first so ReadFile is only issued when it cannot block.
func (p *windowsProcess) tryRead(ch *pipeChannel) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ch.closed {
		return nil, io.EOF
	}
	h := windows.Handle(ch.f.Fd())

	var avail uint32
	r1, _, callErr := procPeekNamedPipe.Call(uintptr(h), 0, 0, 0, uintptr(unsafe.Pointer(&avail)), 0)
	if r1 == 0 {
		ch.closed = true
		if errors.Is(callErr, windows.ERROR_BROKEN_PIPE) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("peek pipe: %w", callErr)
	}
	if avail == 0 {
		return nil, nil
	}

	want := min(int(avail), len(p.buf))
	var done uint32
	if err := windows.ReadFile(h, p.buf[:want], &done, nil); err != nil {
		ch.closed = true
		if errors.Is(err, windows.ERROR_BROKEN_PIPE) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read pipe: %w", err)
	}
	out := make([]byte, done)
	copy(out, p.buf[:done])
	return out, nil
}

func (p *windowsProcess) Ready() <-chan struct{}  { return p.ready }
func (p *windowsProcess) Exited() <-chan struct{} { return p.exited }
func (p *windowsProcess) Pid() int                { return p.pid }

func (p *windowsProcess) Wait() (int, error) {
	<-p.exited
	return p.exitCode, p.waitErr
}

// Terminate sends CTRL_BREAK to the child's console process group.
func (p *windowsProcess) Terminate() error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	if err := windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(p.pid)); err != nil {
		return fmt.Errorf("ctrl-break to %d: %w", p.pid, err)
	}
	return nil
}

func (p *windowsProcess) Kill() error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill %d: %w", p.pid, err)
	}
	return nil
}

func (p *windowsProcess) Close() error {
	p.closeOnce.Do(func() {
		close(p.stop)
		p.wg.Wait()
		p.mu.Lock()
		defer p.mu.Unlock()
		var errs []error
		for _, ch := range []*pipeChannel{&p.stdout, &p.stderr} {
			ch.closed = true
			if ch.f != nil {
				if err := ch.f.Close(); err != nil {
					errs = append(errs, err)
				}
			}
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}
