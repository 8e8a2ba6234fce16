package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestFailingTaskDoesNotAffectSiblings(t *testing.T) {
	const n, concurrency = 10, 5
	const step = 50 * time.Millisecond

	c := NewCollector[int]()
	var inFlight, peak int32
	tasks := make([]Task, n)
	for i := 0; i < n; i++ {
		i := i
		key := fmt.Sprintf("acct-%02d", i)
		tasks[i] = func(ctx context.Context) error {
			cur := atomic.AddInt32(&inFlight, 1)
			defer atomic.AddInt32(&inFlight, -1)
			for {
				old := atomic.LoadInt32(&peak)
				if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
					break
				}
			}
			time.Sleep(step)
			if i == 4 {
				err := errors.New("provider exploded")
				c.Fail(key, err)
				return err
			}
			c.Add(key, []int{i})
			return nil
		}
	}

	start := time.Now()
	errs := RunBounded(context.Background(), concurrency, tasks)
	elapsed := time.Since(start)

	for i, err := range errs {
		if (i == 4) != (err != nil) {
			t.Fatalf("task %d: err=%v", i, err)
		}
	}
	rep := c.Report()
	if len(rep.Results) != 9 || rep.Meta.AccountsFetched != 9 || rep.Meta.ErrorCount != 1 {
		t.Fatalf("report %+v", rep.Meta)
	}
	if _, ok := rep.Errors["acct-04"]; !ok {
		t.Fatalf("errors %v", rep.Errors)
	}
	if atomic.LoadInt32(&peak) > concurrency {
		t.Fatalf("peak concurrency %d > %d", peak, concurrency)
	}
	// ceil(10/5) = 2 batches; serial execution would take 10 steps.
	if elapsed >= 5*step {
		t.Fatalf("took %v, expected about %v", elapsed, 2*step)
	}
}

func TestPanicBecomesTaskError(t *testing.T) {
	errs := RunBounded(context.Background(), 2, []Task{
		func(context.Context) error { panic("boom") },
		func(context.Context) error { return nil },
	})
	if errs[0] == nil || errs[1] != nil {
		t.Fatalf("errs %v", errs)
	}
}

func TestWithTimeoutFailsOnlyThatCall(t *testing.T) {
	ctx := context.Background()
	slow := func(ctx context.Context) (string, error) {
		select {
		case <-time.After(time.Second):
			return "late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	fast := func(context.Context) (string, error) { return "ok", nil }

	results := make([]string, 3)
	errs := RunBounded(ctx, 3, []Task{
		func(ctx context.Context) error {
			v, err := WithTimeout(ctx, 20*time.Millisecond, slow)
			results[0] = v
			return err
		},
		func(ctx context.Context) error {
			v, err := WithTimeout(ctx, 20*time.Millisecond, fast)
			results[1] = v
			return err
		},
		func(ctx context.Context) error {
			v, err := WithTimeout(ctx, 0, fast)
			results[2] = v
			return err
		},
	})
	if !errors.Is(errs[0], ErrTimeout) {
		t.Fatalf("slow call: %v", errs[0])
	}
	if errs[1] != nil || results[1] != "ok" || errs[2] != nil || results[2] != "ok" {
		t.Fatalf("fast calls affected: %v %v", errs, results)
	}
}
