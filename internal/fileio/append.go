package fileio

import (
	"context"
	"strings"
	"time"
)

// AppendLine appends a single line to path under the advisory lock, fsyncing
// before release. The lock is acquired before any write and released after
// fsync, so a cancelled call never leaves a partial entry behind.
func AppendLine(ctx context.Context, path, line string, budget time.Duration) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	lock, err := AcquireLock(ctx, path, budget)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	f := lock.File()
	if _, err := f.WriteString(line); err != nil {
		return err
	}
	return f.Sync()
}
