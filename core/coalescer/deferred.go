package coalescer

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deferred is a one-shot result handle (spec §3 InflowDeferred): Await
// blocks for and returns the loader's result (or rethrows its error /
// the cancellation cause), Join blocks without surfacing the error.
type Deferred[T any] struct {
	done      chan struct{}
	mu        sync.Mutex
	value     T
	err       error
	completed bool
	repeat    atomic.Bool
}

func newDeferred[T any]() *Deferred[T] {
	return &Deferred[T]{done: make(chan struct{})}
}

// NewCompletedDeferred returns a Deferred that has already completed
// with (value, err), for callers that must hand back an InflowDeferred
// without a real loader call — e.g. a cancellation observed while
// awaiting a first resolution (spec §4.9 "the returned Deferred fails
// with cancellation").
func NewCompletedDeferred[T any](value T, err error) *Deferred[T] {
	d := newDeferred[T]()
	d.complete(value, err)
	return d
}

// Await waits for completion, or for ctx to be cancelled, whichever
// comes first.
func (d *Deferred[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.value, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Join waits for completion without surfacing a result; it returns
// immediately if the Deferred is already cancelled/completed.
func (d *Deferred[T]) Join(ctx context.Context) {
	select {
	case <-d.done:
	case <-ctx.Done():
	}
}

// Done reports whether the Deferred has already completed.
func (d *Deferred[T]) Done() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

func (d *Deferred[T]) complete(v T, err error) {
	d.mu.Lock()
	if d.completed {
		d.mu.Unlock()
		return
	}
	d.completed = true
	d.value, d.err = v, err
	d.mu.Unlock()
	close(d.done)
}

func (d *Deferred[T]) setRepeat() { d.repeat.Store(true) }

func (d *Deferred[T]) takeRepeat() bool { return d.repeat.Swap(false) }
