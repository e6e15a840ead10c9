package runlog

import "sync"

// activeLocks tracks log files locked by this process. flock on a second
// descriptor of the same file may succeed on some platforms, so the finder
// consults this set before probing the lock.
var activeLocks = struct {
	sync.Mutex
	paths map[string]struct{}
}{paths: make(map[string]struct{})}

func registerActiveLock(path string) {
	activeLocks.Lock()
	defer activeLocks.Unlock()
	activeLocks.paths[path] = struct{}{}
}

func unregisterActiveLock(path string) {
	activeLocks.Lock()
	defer activeLocks.Unlock()
	delete(activeLocks.paths, path)
}

// IsPathLockedByCurrentProcess reports whether this process holds the run
// lock on path.
func IsPathLockedByCurrentProcess(path string) bool {
	activeLocks.Lock()
	defer activeLocks.Unlock()
	_, ok := activeLocks.paths[path]
	return ok
}
