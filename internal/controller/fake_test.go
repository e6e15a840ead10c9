package controller

import (
	"errors"
	"io"
	"sync"
)

// fakeProcess is a scripted Process. Output chunks are queued up front or
// pushed later; exit closes both channels unless holdOpen is set.
type fakeProcess struct {
	mu sync.Mutex

	pid      int
	stdout   [][]byte
	stderr   [][]byte
	outEOF   bool
	errEOF   bool
	holdOpen bool

	exitCode       int
	exited         chan struct{}
	ready          chan struct{}
	exitOnTerm     bool
	exitOnKill     bool
	terminateCalls int
	killCalls      int
	closeCalls     int
	reads          []string
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		pid:        4242424,
		exited:     make(chan struct{}),
		ready:      make(chan struct{}, 1),
		exitOnKill: true,
	}
}

func (p *fakeProcess) pushStdout(s string) *fakeProcess {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stdout = append(p.stdout, []byte(s))
	return p
}

func (p *fakeProcess) pushStderr(s string) *fakeProcess {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stderr = append(p.stderr, []byte(s))
	return p
}

func (p *fakeProcess) exit(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.exited:
		return
	default:
	}
	p.exitCode = code
	if !p.holdOpen {
		p.outEOF = true
		p.errEOF = true
	}
	close(p.exited)
}

func (p *fakeProcess) TryReadStdout() ([]byte, error) {
	return p.read("stdout", &p.stdout, &p.outEOF)
}

func (p *fakeProcess) TryReadStderr() ([]byte, error) {
	return p.read("stderr", &p.stderr, &p.errEOF)
}

func (p *fakeProcess) read(name string, q *[][]byte, eof *bool) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(*q) > 0 {
		chunk := (*q)[0]
		*q = (*q)[1:]
		p.reads = append(p.reads, name)
		return chunk, nil
	}
	if *eof {
		return nil, io.EOF
	}
	return nil, nil
}

func (p *fakeProcess) Ready() <-chan struct{}  { return p.ready }
func (p *fakeProcess) Exited() <-chan struct{} { return p.exited }
func (p *fakeProcess) Pid() int                { return p.pid }

func (p *fakeProcess) Wait() (int, error) {
	<-p.exited
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exitCode < 0 {
		return -1, nil
	}
	return p.exitCode, nil
}

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminateCalls++
	exit := p.exitOnTerm
	p.mu.Unlock()
	if exit {
		p.exit(143)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killCalls++
	exit := p.exitOnKill
	p.mu.Unlock()
	if exit {
		p.exit(-1)
	}
	return nil
}

func (p *fakeProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCalls++
	return nil
}

type fakeSpawner struct {
	proc  *fakeProcess
	err   error
	specs []SpawnSpec
}

func (s *fakeSpawner) Spawn(spec SpawnSpec) (Process, error) {
	s.specs = append(s.specs, spec)
	if s.err != nil {
		return nil, s.err
	}
	if s.proc == nil {
		return nil, errors.New("no process scripted")
	}
	return s.proc, nil
}
