// Package task holds the small scheduling helpers shared by the monitor's
// long-running loops.
package task

import (
	"context"
	"time"
)

// Sleep suspends for d or until ctx is done.
// It reports false when ctx ended first.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
