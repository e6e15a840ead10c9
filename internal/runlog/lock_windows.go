//go:build windows

package runlog

import (
	"errors"
	"os"

	"golang.org/x/sys/windows"
)

const lockFlags = windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY

func lockFile(f *os.File) error {
	ol := new(windows.Overlapped)
	return windows.LockFileEx(windows.Handle(f.Fd()), lockFlags, 0, 1, 0, ol)
}

func unlockFile(f *os.File) error {
	ol := new(windows.Overlapped)
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, ol)
}

// TryLockFile attempts a non-blocking exclusive lock and releases it right
// away. It returns false when another holder has the file locked.
func TryLockFile(f *os.File) (bool, error) {
	err := lockFile(f)
	if errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = unlockFile(f)
	return true, nil
}
