//go:build !windows

package controller

import (
	"fmt"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// ptySize is the terminal size reported to children in PTY mode.
var ptySize = &pty.Winsize{Rows: 24, Cols: 120}

// spawnPTY runs the command on a pseudo-terminal. The child becomes a
// session leader, so its pid is also its process group id; stdout and
// stderr both arrive on the master. Stdin stays a closed pipe, so the
// controlling terminal is taken from fd 1.
func spawnPTY(spec SpawnSpec) (Process, error) {
	cmd := newCmd(spec)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	attrs := &syscall.SysProcAttr{Setsid: true, Setctty: true, Ctty: 1}
	master, err := pty.StartWithAttrs(cmd, ptySize, attrs)
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("start %s on pty: %w", spec.Argv[0], err)
	}
	stdin.Close()

	fd := int(master.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = cmd.Process.Kill()
		master.Close()
		return nil, fmt.Errorf("pty nonblock: %w", err)
	}

	p := newUnixProcess(cmd, spec.ReadSize, true)
	p.stdout = channel{fd: fd, eio: true}
	p.stderr = channel{fd: -1, closed: true}
	p.closeFn = master.Close
	p.start()
	return p, nil
}
