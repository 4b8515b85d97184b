package offlinesync

import (
	"context"
	"time"

	"github.com/erp/ordersync/internal/domain/offline"
)

// callWithDeadline runs fn with its own deadline, detached from the caller's
// cancellation so that an entry in progress finishes. A call still running at
// the deadline is abandoned and reported as a retryable remote error; the
// idempotency key makes a late commit harmless to retry.
func callWithDeadline[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	callCtx := context.WithoutCancel(ctx)
	if timeout <= 0 {
		return fn(callCtx)
	}

	callCtx, cancel := context.WithTimeout(callCtx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(callCtx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-callCtx.Done():
		var zero T
		return zero, offline.NewRemoteError(op, 0, callCtx.Err())
	}
}
