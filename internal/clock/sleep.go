// Package clock provides cancellable waits for retry and pacing loops.
package clock

import (
	"context"
	"time"
)

// SleepWithContext waits for the duration, or less if the context is
// cancelled first. The mining loop uses it to back off between attempts
// without outliving shutdown.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
