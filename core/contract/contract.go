// Package contract declares the external collaborators an Inflow is built
// from (spec §6, §1 "out of scope: contracts only"): the cache source, the
// cache writer, the loader and the connectivity signal. The core never
// implements these itself — contrib/ ships reference adapters.
package contract

import "context"

// CacheStream is a restartable or hot sequence of cached values. It must
// emit at least once — an "empty" marker if no data is cached yet. Emit
// is called once per value; the returned error, if non-nil, ends the
// stream and is routed to every current subscriber of the owning Inflow
// before the upstream is considered failed.
type CacheStream[T any] interface {
	// Subscribe starts (or restarts) reading the cache, invoking emit for
	// every value observed until ctx is cancelled or emit/the source
	// itself returns an error.
	Subscribe(ctx context.Context, emit func(T) error) error
}

// CacheStreamFunc adapts a plain function to a CacheStream.
type CacheStreamFunc[T any] func(ctx context.Context, emit func(T) error) error

func (f CacheStreamFunc[T]) Subscribe(ctx context.Context, emit func(T) error) error {
	return f(ctx, emit)
}

// CacheWriter stores a freshly loaded value. Called after every
// successful loader invocation, including repeat-if-running runs (spec
// §9 Open Questions — "writer invoked for each successful result").
type CacheWriter[T any] interface {
	Write(ctx context.Context, value T) error
}

// CacheWriterFunc adapts a plain function to a CacheWriter.
type CacheWriterFunc[T any] func(ctx context.Context, value T) error

func (f CacheWriterFunc[T]) Write(ctx context.Context, value T) error { return f(ctx, value) }

// Tracker reports loader progress; calls after the loader returns are
// silently ignored by the owning coalescer.
type Tracker interface {
	Report(current, total int64)
}

// Loader fetches a fresh value, optionally reporting progress through
// tracker.
type Loader[T any] interface {
	Load(ctx context.Context, tracker Tracker) (T, error)
}

// LoaderFunc adapts a plain function to a Loader.
type LoaderFunc[T any] func(ctx context.Context, tracker Tracker) (T, error)

func (f LoaderFunc[T]) Load(ctx context.Context, tracker Tracker) (T, error) { return f(ctx, tracker) }

// Connectivity reports network/connection availability. Subscribe must
// emit an initial value followed by every subsequent transition.
type Connectivity interface {
	Subscribe(ctx context.Context, emit func(connected bool)) error
}

// ConnectivityFunc adapts a plain function to a Connectivity.
type ConnectivityFunc func(ctx context.Context, emit func(bool)) error

func (f ConnectivityFunc) Subscribe(ctx context.Context, emit func(bool)) error { return f(ctx, emit) }

// Dispatcher runs task on whatever execution resource it represents, a
// goroutine, a worker pool, a runtime default (spec §6 "cache_dispatcher
// / load_dispatcher"). The zero value is not usable; use GoDispatcher.
type Dispatcher func(task func())

// GoDispatcher runs every task on its own goroutine — the runtime
// default dispatcher.
var GoDispatcher Dispatcher = func(task func()) { go task() }

// AlwaysConnected is the default connectivity provider: it reports
// connected once and never changes, so the update scheduler never
// suppresses a refresh for connectivity reasons unless the caller wires
// a real provider (spec §6 "connectivity(provider) — default global").
var AlwaysConnected Connectivity = ConnectivityFunc(func(ctx context.Context, emit func(bool)) error {
	emit(true)
	<-ctx.Done()
	return ctx.Err()
})
