package coordinator

import (
	"fmt"
	"os"
	"syscall"
)

// RunLock is the process-wide file lock guarding against two Updater
// invocations running concurrently against the same host (spec §4.11 step
// 1 / §5 "Shared resources"), grounded on the flock(2) idiom.
type RunLock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive, non-blocking lock on path. force skips the
// lock entirely (an explicit override), matching "unless a force override
// is set".
func Acquire(path string, force bool) (*RunLock, error) {
	if force {
		return &RunLock{path: path}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another run holds the lock at %s: %w", path, err)
	}

	return &RunLock{file: f, path: path}, nil
}

// Release drops the lock. Safe to call on a force-acquired (file-less) lock.
func (l *RunLock) Release() error {
	if l.file == nil {
		return nil
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	return l.file.Close()
}
