package retry

import (
	"context"

	"github.com/sourcegraph/conc/pool"

	"github.com/alexvasilkov/inflow-go/core/contract"
)

// WarmupTask is one loader call to run as part of a bounded warmup pass.
type WarmupTask[T any] struct {
	Name   string
	Loader contract.Loader[T]
}

// WarmupResult is one task's outcome.
type WarmupResult[T any] struct {
	Name  string
	Value T
	Err   error
}

// WarmAll runs every task's Loader with at most maxConcurrency in
// flight at once, the way a deploy-time cache warmer would prime many
// independent keys without saturating the remote source.
func WarmAll[T any](ctx context.Context, tasks []WarmupTask[T], maxConcurrency int) []WarmupResult[T] {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	results := make([]WarmupResult[T], len(tasks))
	p := pool.New().WithMaxGoroutines(maxConcurrency)

	for i, task := range tasks {
		i, task := i, task
		p.Go(func() {
			value, err := task.Loader.Load(ctx, noopTracker{})
			results[i] = WarmupResult[T]{Name: task.Name, Value: value, Err: err}
		})
	}
	p.Wait()

	return results
}

type noopTracker struct{}

func (noopTracker) Report(int64, int64) {}
