// Package retry runs an operation with exponential backoff, for
// transient startup failures.
//
// It is intentionally minimal: Do plus two preset schedules. Quick()
// suits resources that normally come up immediately (the gatenet
// listener bind), Persistent() suits slow hardware (opening the
// gateboard serial device). Backoff waits respect context
// cancellation, and jitter uses a shared, mutex-guarded random source
// so Do is safe for concurrent use.
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return srv.bind()
//	})
package retry
