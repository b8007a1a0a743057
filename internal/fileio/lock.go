// Package fileio provides the low-level file primitives Scribe relies on:
// advisory-locked appends, atomic state writes, hash-chained log rotation,
// and tail reads. All paths passed in are expected to have been checked by
// the sandbox already.
package fileio

import (
	"context"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/scribe-dev/scribe/internal/scriberr"
)

// DefaultLockBudget bounds how long an append waits for the advisory lock
// before surfacing a lock_timeout error to the caller.
const DefaultLockBudget = 250 * time.Millisecond

const lockRetryInterval = 10 * time.Millisecond

// Flock holds an advisory exclusive lock on an open file.
type Flock struct {
	f *os.File
}

// AcquireLock opens (creating if needed) the file at path and acquires an
// exclusive advisory lock, retrying until the budget or the context deadline
// is exhausted.
func AcquireLock(ctx context.Context, path string, budget time.Duration) (*Flock, error) {
	if budget <= 0 {
		budget = DefaultLockBudget
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(budget)
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &Flock{f: f}, nil
		}
		if err != unix.EWOULDBLOCK && err != unix.EAGAIN {
			_ = f.Close()
			return nil, err
		}
		if time.Now().After(deadline) {
			_ = f.Close()
			return nil, scriberr.LockTimeout(path)
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, scriberr.LockTimeout(path).WithCause(ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
}

// File returns the locked file handle.
func (l *Flock) File() *os.File { return l.f }

// Release drops the lock and closes the file.
func (l *Flock) Release() error {
	if l.f == nil {
		return nil
	}
	unlockErr := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
