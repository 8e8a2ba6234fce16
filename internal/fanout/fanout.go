// Package fanout runs the same operation across many accounts with bounded
// concurrency. One task's failure never cancels or hides its siblings'.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
)

var ErrTimeout = errors.New("operation timed out")

// Task is one unit of work, typically "do X for account Y".
type Task func(ctx context.Context) error

// RunBounded runs tasks with at most concurrency in flight and returns one
// error slot per task. Tasks share ctx but a failing task does not cancel it.
// Panics are recovered into that task's error.
func RunBounded(ctx context.Context, concurrency int, tasks []Task) []error {
	if concurrency <= 0 {
		concurrency = 1
	}
	errs := make([]error, len(tasks))

	// No errgroup.WithContext: a failed task must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			errs[i] = safeRun(ctx, task)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return task(ctx)
}

// WithTimeout runs fn with a deadline and returns ErrTimeout if the deadline
// wins. fn receives a context that is cancelled at the deadline; it is not
// waited for after that.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if d <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("call panicked: %v", r)}
			}
		}()
		v, err := fn(callCtx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", ErrTimeout, d)
	}
}
