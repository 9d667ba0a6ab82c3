package plc

import (
	"context"
	"time"
)

// WaitForValue polls ref until it holds want or timeout elapses. A timeout
// returns false with a nil error: the outcome is unknown, not a success.
// Read errors while polling count as "not yet". Only cancellation of ctx
// is returned as an error.
func WaitForValue(ctx context.Context, store NodeStore, ref NodeRef, want any, timeout, poll time.Duration) (bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if value, err := store.Value(ctx, ref); err == nil && Equal(value, want) {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
		}
	}
}
