// Package tool describes external commands the controller can run.
package tool

import (
	"errors"
	"slices"
	"sort"
	"strings"

	"github.com/alexander-akhmetov/toolctl/internal/output"
)

// ErrNoExecutable is returned by Validate for a descriptor without an executable.
var ErrNoExecutable = errors.New("tool has no executable")

// Descriptor is an external command: what to execute, where, with which
// environment, and the handlers its output is fed to. It may be changed
// between runs but never while a run is active.
type Descriptor struct {
	Name       string
	Executable string
	Args       []string
	Dir        string
	Env        map[string]string
	// PTY runs the command on a pseudo-terminal so it keeps emitting
	// interactive progress. Stdout and stderr are merged.
	PTY bool

	Stdout *output.Handler
	Stderr *output.Handler
}

// Validate checks the descriptor can be run.
func (d *Descriptor) Validate() error {
	if d == nil || strings.TrimSpace(d.Executable) == "" {
		return ErrNoExecutable
	}
	return nil
}

// DisplayName returns Name, falling back to the executable.
func (d *Descriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Executable
}

// Cmdline builds the argv for one invocation: the executable, named
// arguments rendered as key=value sorted by key, the static arguments and
// finally extra.
func (d *Descriptor) Cmdline(named map[string]string, extra ...string) []string {
	argv := make([]string, 0, 1+len(named)+len(d.Args)+len(extra))
	argv = append(argv, d.Executable)
	for _, k := range sortedKeys(named) {
		argv = append(argv, k+"="+named[k])
	}
	argv = append(argv, d.Args...)
	argv = append(argv, extra...)
	return argv
}

// Environ returns base with Env applied on top. Overridden variables keep
// their position; new ones are appended in key order. On Windows variable
// names compare case-insensitively.
func (d *Descriptor) Environ(base []string) []string {
	env := slices.Clone(base)
	if len(d.Env) == 0 {
		return env
	}
	index := make(map[string]int, len(env))
	for i, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		index[envKey(name)] = i
	}
	for _, k := range sortedKeys(d.Env) {
		kv := k + "=" + d.Env[k]
		if i, ok := index[envKey(k)]; ok {
			env[i] = kv
			continue
		}
		index[envKey(k)] = len(env)
		env = append(env, kv)
	}
	return env
}

// Handlers returns the non-nil output handlers.
func (d *Descriptor) Handlers() []*output.Handler {
	var hs []*output.Handler
	if d.Stdout != nil {
		hs = append(hs, d.Stdout)
	}
	if d.Stderr != nil && d.Stderr != d.Stdout {
		hs = append(hs, d.Stderr)
	}
	return hs
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
