package gateway

import (
	"context"
	"time"
)

// call runs a blocking transport call on its own goroutine and waits for
// either the result or the context, bounded by timeout. The brokerage client
// underneath is synchronous; this keeps a stuck call from blocking the
// caller's control flow. On timeout the abandoned call finishes in the
// background and its result is discarded (the channel is buffered).
func call[T any](ctx context.Context, timeout time.Duration, fn func() (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

// callErr is call for transport calls that return only an error.
func callErr(ctx context.Context, timeout time.Duration, fn func() error) error {
	_, err := call(ctx, timeout, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
