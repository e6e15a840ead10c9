package controller

import "github.com/mitchellh/go-ps"

// processAlive reports whether the OS still lists pid. Lookup failures
// count as not alive.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := ps.FindProcess(pid)
	return err == nil && p != nil
}
