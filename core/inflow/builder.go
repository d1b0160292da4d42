package inflow

import (
	"context"
	"time"

	"github.com/alexvasilkov/inflow-go/core/clock"
	"github.com/alexvasilkov/inflow-go/core/coalescer"
	"github.com/alexvasilkov/inflow-go/core/contract"
	"github.com/alexvasilkov/inflow-go/core/expiration"
	"github.com/alexvasilkov/inflow-go/core/invalidate"
	"github.com/alexvasilkov/inflow-go/core/sharedhot"
	"github.com/alexvasilkov/inflow-go/internal/config"
	"github.com/alexvasilkov/inflow-go/internal/logging"
)

// Builder assembles an Inflow, mirroring spec §6's builder surface.
// Data must be called exactly once; every other setting falls back to a
// sensible default.
type Builder[T any] struct {
	scope context.Context

	dataSet bool
	cache   contract.CacheStream[T]
	writer  contract.CacheWriter[T]
	loader  contract.Loader[T]

	expires            expiration.Policy[T]
	invalidationPolicy expiration.Policy[T]
	invalidationValue  T
	hasInvalidation    bool

	keepSubscribedTimeout time.Duration
	hasKeepTimeout        bool
	retryTime             time.Duration
	hasRetryTime          bool

	connectivity contract.Connectivity

	cacheDispatcher contract.Dispatcher
	loadDispatcher  contract.Dispatcher

	logID   string
	verbose bool
	clk     clock.Clock
}

// NewBuilder starts building an Inflow bound to scope: cancelling scope
// tears down the shared cache subscription and fails any in-flight load.
func NewBuilder[T any](scope context.Context) *Builder[T] {
	return &Builder[T]{scope: scope}
}

// Data supplies the three mandatory collaborators (spec §6 data()).
// Calling it more than once is a programmer error.
func (b *Builder[T]) Data(cache contract.CacheStream[T], writer contract.CacheWriter[T], loader contract.Loader[T]) *Builder[T] {
	if b.dataSet {
		panic("inflow: Data must be called exactly once")
	}
	b.dataSet = true
	b.cache, b.writer, b.loader = cache, writer, loader
	return b
}

// Expiration sets the policy the scheduler and load_if_expired() use to
// decide when a cached value needs reloading (spec §6 expiration()).
func (b *Builder[T]) Expiration(policy expiration.Policy[T]) *Builder[T] {
	b.expires = policy
	return b
}

// Invalidation installs an invalidation gate (spec §4.3): once policy
// reports a value expired, every observer sees emptyValue substituted in
// instead, until a fresh load replaces it.
func (b *Builder[T]) Invalidation(policy expiration.Policy[T], emptyValue T) *Builder[T] {
	b.invalidationPolicy, b.invalidationValue, b.hasInvalidation = policy, emptyValue, true
	return b
}

// KeepCacheSubscribedTimeout overrides the default quiet period before
// the shared cache unsubscribes its upstream (spec §6).
func (b *Builder[T]) KeepCacheSubscribedTimeout(d time.Duration) *Builder[T] {
	b.keepSubscribedTimeout, b.hasKeepTimeout = d, true
	return b
}

// RetryTime overrides the default fixed retry cadence the scheduler
// falls back to while a value stays expired (spec §6).
func (b *Builder[T]) RetryTime(d time.Duration) *Builder[T] {
	b.retryTime, b.hasRetryTime = d, true
	return b
}

// Connectivity overrides the default always-connected provider (spec §6).
func (b *Builder[T]) Connectivity(c contract.Connectivity) *Builder[T] {
	b.connectivity = c
	return b
}

// CacheDispatcher wraps every cache-stream subscription through d
// instead of the default one-goroutine-per-call dispatcher (spec §6
// "cache_dispatcher").
func (b *Builder[T]) CacheDispatcher(d contract.Dispatcher) *Builder[T] {
	b.cacheDispatcher = d
	return b
}

// LoadDispatcher wraps every loader invocation through d instead of the
// default one-goroutine-per-call dispatcher (spec §6 "load_dispatcher").
func (b *Builder[T]) LoadDispatcher(d contract.Dispatcher) *Builder[T] {
	b.loadDispatcher = d
	return b
}

// LogID sets the correlation id attached to every log line this Inflow
// emits (spec §6 "log_id(str)").
func (b *Builder[T]) LogID(id string) *Builder[T] {
	b.logID = id
	return b
}

// Verbose turns on logging for this Inflow (spec §6). Logging is also on
// whenever the process-wide default is, so Verbose(false) does not
// silence it.
func (b *Builder[T]) Verbose(v bool) *Builder[T] {
	b.verbose = v
	return b
}

// Clock overrides the time source, for deterministic tests.
func (b *Builder[T]) Clock(c clock.Clock) *Builder[T] {
	b.clk = c
	return b
}

// Build validates the configuration and starts the Inflow.
func (b *Builder[T]) Build() *Inflow[T] {
	if !b.dataSet {
		panic("inflow: Data(...) must be called before Build")
	}

	defaults := config.Current()
	clk := b.clk
	if clk == nil {
		clk = clock.Real
	}
	keepTimeout := defaults.KeepSubscribedTimeout
	if b.hasKeepTimeout {
		keepTimeout = b.keepSubscribedTimeout
	}
	retryTime := defaults.RetryTime
	if b.hasRetryTime {
		retryTime = b.retryTime
	}
	verbose := defaults.Verbose || b.verbose
	log := logging.New(b.logID, verbose)

	cache := b.cache
	if b.cacheDispatcher != nil {
		cache = dispatchStream(b.cacheDispatcher, cache)
	}
	if b.hasInvalidation {
		cache = &invalidate.Gate[T]{
			Upstream:   cache,
			Policy:     b.invalidationPolicy,
			EmptyValue: b.invalidationValue,
		}
	}

	loader := b.loader
	if b.loadDispatcher != nil {
		loader = dispatchLoader(b.loadDispatcher, loader)
	}

	shared := sharedhot.New[T](b.scope, cache, keepTimeout, clk, log)

	connectivity := b.connectivity
	if connectivity == nil {
		connectivity = contract.AlwaysConnected
	}

	expires := b.expires
	if expires == nil {
		// IfEmpty would match the documented default more closely, but it
		// needs a per-T notion of "empty" this builder has no generic way
		// to infer; PolicyNever is used instead and the deviation is
		// recorded in DESIGN.md. Callers that want auto-refresh on an
		// empty value must pass expiration.IfEmpty(...) explicitly.
		expires = expiration.PolicyNever[T]()
	}

	loaderCoalescer := coalescer.New(coalescer.Options[T]{
		Scope:   b.scope,
		Loader:  loader,
		Writer:  b.writer,
		Expires: expires,
		Latest:  shared.Latest,
		Logger:  log,
	})

	return &Inflow[T]{
		scope:      b.scope,
		cache:      shared,
		loader:     loaderCoalescer,
		connection: connectivity,
		expires:    expires,
		retryTime:  retryTime,
		clk:        clk,
		log:        log,
	}
}

// dispatchStream routes every Subscribe call through d, so the observer
// callback itself runs on whatever execution resource d represents.
func dispatchStream[T any](d contract.Dispatcher, cs contract.CacheStream[T]) contract.CacheStream[T] {
	return contract.CacheStreamFunc[T](func(ctx context.Context, emit func(T) error) error {
		resultCh := make(chan error, 1)
		d(func() { resultCh <- cs.Subscribe(ctx, emit) })
		select {
		case err := <-resultCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// dispatchLoader routes every Load call through d.
func dispatchLoader[T any](d contract.Dispatcher, l contract.Loader[T]) contract.Loader[T] {
	return contract.LoaderFunc[T](func(ctx context.Context, tracker contract.Tracker) (T, error) {
		type result struct {
			v   T
			err error
		}
		resultCh := make(chan result, 1)
		d(func() {
			v, err := l.Load(ctx, tracker)
			resultCh <- result{v, err}
		})
		select {
		case r := <-resultCh:
			return r.v, r.err
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	})
}
