//go:build !windows

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

	"golang.org/x/sys/unix"
)

// watchTimeout bounds each readiness poll so the watcher notices Close.
const watchTimeout = 50 * time.Millisecond

// channel is one non-blocking read end.
type channel struct {
	fd     int
	closed bool
	// eio marks a pty master, where EIO means the slave side is gone
	eio bool
}

type unixProcess struct {
	cmd     *exec.Cmd
	pid     int
	pgroup  bool
	closeFn func() error

	mu     sync.Mutex
	stdout channel
	stderr channel
	buf    []byte

	ready  chan struct{}
	ack    chan struct{}
	stop   chan struct{}
	exited chan struct{}
	wg     sync.WaitGroup

	exitCode  int
	waitErr   error
	closeOnce sync.Once
	closeErr  error
}

func spawnPipes(spec SpawnSpec) (Process, error) {
	outR, outW, err := nonblockingPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW := -1, (*os.File)(nil)
	if !spec.MergeStderr {
		if errR, errW, err = nonblockingPipe(); err != nil {
			unix.Close(outR)
			outW.Close()
			return nil, fmt.Errorf("stderr pipe: %w", err)
		}
	}

	cmd := newCmd(spec)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = outW
	cmd.Stderr = outW
	if errW != nil {
		cmd.Stderr = errW
	}

	closeRead := func() {
		unix.Close(outR)
		if errR >= 0 {
			unix.Close(errR)
		}
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		closeRead()
		outW.Close()
		if errW != nil {
			errW.Close()
		}
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	startErr := cmd.Start()
	// the child holds its own copies of the write ends
	outW.Close()
	if errW != nil {
		errW.Close()
	}
	if startErr != nil {
		closeRead()
		return nil, fmt.Errorf("start %s: %w", spec.Argv[0], startErr)
	}
	// no interactive input
	stdin.Close()

	p := newUnixProcess(cmd, spec.ReadSize, true)
	p.stdout = channel{fd: outR}
	if errR >= 0 {
		p.stderr = channel{fd: errR}
	} else {
		p.stderr = channel{fd: -1, closed: true}
	}
	p.closeFn = func() error {
		var errs []error
		for _, fd := range []int{outR, errR} {
			if fd >= 0 {
				if err := unix.Close(fd); err != nil {
					errs = append(errs, err)
				}
			}
		}
		return errors.Join(errs...)
	}
	p.start()
	return p, nil
}

func newCmd(spec SpawnSpec) *exec.Cmd {
	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...) //nolint:gosec // argv comes from the tool descriptor
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	return cmd
}

// nonblockingPipe returns a non-blocking read fd and a blocking write end
// for the child.
func nonblockingPipe() (int, *os.File, error) {
	var fds [2]int
	syscall.ForkLock.RLock()
	if err := unix.Pipe(fds[:]); err != nil {
		syscall.ForkLock.RUnlock()
		return -1, nil, err
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	syscall.ForkLock.RUnlock()
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return -1, nil, err
	}
	return fds[0], os.NewFile(uintptr(fds[1]), "|1"), nil
}

func newUnixProcess(cmd *exec.Cmd, readSize int, pgroup bool) *unixProcess {
	return &unixProcess{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		pgroup: pgroup,
		buf:    make([]byte, readSize),
		ready:  make(chan struct{}, 1),
		ack:    make(chan struct{}, 1),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func (p *unixProcess) start() {
	go p.waitExit()
	p.wg.Add(1)
	go p.watch()
}

func (p *unixProcess) waitExit() {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		p.exitCode = 0
	case errors.As(err, &exitErr):
		p.exitCode = exitErr.ExitCode()
	default:
		p.exitCode = -1
		p.waitErr = fmt.Errorf("wait: %w", err)
	}
	close(p.exited)
	p.notify()
}

// watch polls the open read ends and signals ready when one is readable
// or hung up, then waits for a read before polling again.
func (p *unixProcess) watch() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		p.mu.Lock()
		fds := make([]unix.PollFd, 0, 2)
		for _, ch := range []*channel{&p.stdout, &p.stderr} {
			if !ch.closed {
				fds = append(fds, unix.PollFd{Fd: int32(ch.fd), Events: unix.POLLIN})
			}
		}
		p.mu.Unlock()

		if len(fds) == 0 {
			<-p.stop
			return
		}

		n, err := unix.Poll(fds, int(watchTimeout/time.Millisecond))
		if err != nil && !errors.Is(err, unix.EINTR) {
			return
		}
		if n <= 0 {
			continue
		}
		p.notify()
		select {
		case <-p.ack:
		case <-p.stop:
			return
		}
	}
}

func (p *unixProcess) notify() {
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

func (p *unixProcess) acknowledge() {
	select {
	case p.ack <- struct{}{}:
	default:
	}
}

func (p *unixProcess) TryReadStdout() ([]byte, error) { return p.tryRead(&p.stdout) }
func (p *unixProcess) TryReadStderr() ([]byte, error) { return p.tryRead(&p.stderr) }

func (p *unixProcess) tryRead(ch *channel) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.acknowledge()

	if ch.closed {
		return nil, io.EOF
	}
	n, err := unix.Read(ch.fd, p.buf)
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return nil, nil
	case err != nil && ch.eio && errors.Is(err, unix.EIO):
		ch.closed = true
		return nil, io.EOF
	case err != nil:
		ch.closed = true
		return nil, fmt.Errorf("read: %w", err)
	case n == 0:
		ch.closed = true
		return nil, io.EOF
	}
	out := make([]byte, n)
	copy(out, p.buf[:n])
	return out, nil
}

func (p *unixProcess) Ready() <-chan struct{}  { return p.ready }
func (p *unixProcess) Exited() <-chan struct{} { return p.exited }
func (p *unixProcess) Pid() int                { return p.pid }

func (p *unixProcess) Wait() (int, error) {
	<-p.exited
	return p.exitCode, p.waitErr
}

func (p *unixProcess) Terminate() error { return p.signal(unix.SIGTERM) }
func (p *unixProcess) Kill() error      { return p.signal(unix.SIGKILL) }

func (p *unixProcess) signal(sig syscall.Signal) error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	if p.pid <= 0 {
		return fmt.Errorf("invalid pid %d", p.pid)
	}
	target := p.pid
	if p.pgroup {
		target = -p.pid
	}
	if err := unix.Kill(target, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal %v to %d: %w", sig, target, err)
	}
	return nil
}

// Close stops the watcher and closes the read ends. Safe to call repeatedly.
func (p *unixProcess) Close() error {
	p.closeOnce.Do(func() {
		close(p.stop)
		p.wg.Wait()
		p.mu.Lock()
		defer p.mu.Unlock()
		p.stdout.closed = true
		p.stderr.closed = true
		if p.closeFn != nil {
			p.closeErr = p.closeFn()
		}
	})
	return p.closeErr
}
