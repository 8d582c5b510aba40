package service

import (
	"context"
	"time"
)

type taskResult[T any] struct {
	val T
	err error
}

// runWithTimeout runs fn under a deadline and returns as soon as the deadline
// passes, even if fn has not returned yet.
func runWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	ch := make(chan taskResult[T], 1)
	go func() {
		v, err := fn(ctx)
		ch <- taskResult[T]{val: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
