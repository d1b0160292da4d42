// Package coalescer implements spec §4.4: it enforces at-most-one loader
// invocation in flight, publishes a replayed LoadState stream, and
// supports "repeat-if-running" (forced refresh) and expiration-gated
// short-circuiting (refresh-if-expired).
package coalescer

import (
	"context"
	"sync"
	"sync/atomic"

	"time"

	"github.com/cockroachdb/errors"

	"github.com/alexvasilkov/inflow-go/core/contract"
	"github.com/alexvasilkov/inflow-go/core/expiration"
	"github.com/alexvasilkov/inflow-go/core/signal"
	"github.com/alexvasilkov/inflow-go/internal/logging"
)

// Status is the coalescer's state machine position (spec §3 LoadState).
type Status int

const (
	Initial Status = iota
	LoadingStarted
	LoadingProgress
	IdleSuccess
	IdleError
)

// Progress mirrors a loader's reported (current, total).
type Progress struct {
	Current, Total int64
}

// State is one value of the LoadState stream (spec §3, §4.4).
type State[T any] struct {
	Status Status
	Progress
	Err error
	// ErrID is an ascending id, unique within one Coalescer, only set when Status ==
	// IdleError, used by the unhandled-error filter (spec §4.7).
	ErrID uint64
	// MarkHandled returns true for exactly the first caller among all
	// observers of this particular error (spec §4.7); nil unless
	// Status == IdleError.
	MarkHandled func() bool
}

// ErrContractViolation is raised (as a panic, spec §4.4 "propagates out
// to the coordinating scope") when a loader returns a value the
// configured expiration policy still considers expired: left unchecked
// the scheduler would call the loader again immediately forever.
var ErrContractViolation = errors.New("coalescer: loader returned an already-expired value")

// Coalescer is the loader state machine of spec §4.4.
type Coalescer[T any] struct {
	scope      context.Context
	loader     contract.Loader[T]
	writer     contract.CacheWriter[T]
	expires    expiration.Policy[T]
	latestFn   func() (T, bool)
	log        *logging.Logger

	mu      sync.Mutex
	current *run[T]

	errSeq atomic.Uint64
	states *signal.Broadcaster[State[T]]
}

type run[T any] struct {
	deferred *Deferred[T]
	cancel   context.CancelFunc
}

// Options configure a new Coalescer.
type Options[T any] struct {
	// Scope is the parent context; cancelling it cancels any in-flight
	// loader call and completes its Deferred exceptionally.
	Scope context.Context
	Loader contract.Loader[T]
	// Writer is invoked after every successful load, including
	// repeat-if-running rounds (spec §9 Open Questions).
	Writer contract.CacheWriter[T]
	// Expires is used to assert the loader contract (spec §4.4): a
	// value that is still expired right after loading is a programmer
	// bug, not a retryable failure.
	Expires expiration.Policy[T]
	// Latest reads the currently cached value, used by LoadIfExpired.
	Latest func() (T, bool)
	Logger *logging.Logger
}

// New builds a Coalescer and publishes its Initial state immediately.
func New[T any](opts Options[T]) *Coalescer[T] {
	log := opts.Logger
	if log == nil {
		log = logging.Noop
	}
	c := &Coalescer[T]{
		scope:    opts.Scope,
		loader:   opts.Loader,
		writer:   opts.Writer,
		expires:  opts.Expires,
		latestFn: opts.Latest,
		log:      log.With("coalescer"),
		states:   signal.New[State[T]](),
	}
	c.states.Publish(State[T]{Status: Initial})
	return c
}

// States returns the replayed LoadState stream (spec §4.6 state(RefreshState)).
func (c *Coalescer[T]) States() (<-chan State[T], func()) {
	return c.states.Subscribe()
}

// Load starts a loader call unless one is already running, in which case
// the existing Deferred is returned (spec §4.4 load()).
func (c *Coalescer[T]) Load() *Deferred[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return c.current.deferred
	}
	return c.startLocked()
}

// LoadForced behaves like Load, except when a call is already running: it
// sets the repeat flag on the running Deferred so that, once the current
// call finishes, exactly one more call is started immediately — without
// an intermediate Idle state — before the Deferred completes (spec
// §4.4 load_forced()).
func (c *Coalescer[T]) LoadForced() *Deferred[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.deferred.setRepeat()
		return c.current.deferred
	}
	return c.startLocked()
}

// LoadIfExpired completes immediately with the latest cached value,
// without invoking the loader, when that value's expires_in exceeds
// bound; otherwise it delegates to Load (spec §4.4 load_if_expired()).
func (c *Coalescer[T]) LoadIfExpired(bound time.Duration) *Deferred[T] {
	if c.latestFn != nil {
		if v, ok := c.latestFn(); ok {
			if c.expires == nil || c.expires(v) > bound {
				d := newDeferred[T]()
				d.complete(v, nil)
				return d
			}
		}
	}
	return c.Load()
}

// startLocked must be called with mu held.
func (c *Coalescer[T]) startLocked() *Deferred[T] {
	d := newDeferred[T]()
	ctx, cancel := context.WithCancel(c.scope)
	c.current = &run[T]{deferred: d, cancel: cancel}
	c.states.Publish(State[T]{Status: LoadingStarted})
	go c.runLoad(ctx, d)
	return d
}

func (c *Coalescer[T]) runLoad(ctx context.Context, d *Deferred[T]) {
	tracker := newTracker(c)
	value, err := c.loader.Load(ctx, tracker)
	tracker.disable()

	c.mu.Lock()
	if c.current == nil || c.current.deferred != d {
		// Superseded (shouldn't happen, defensive).
		c.mu.Unlock()
		return
	}

	if err == nil && d.takeRepeat() {
		// Repeat-if-running: start one more round sharing the same
		// Deferred, without publishing an intermediate Idle state.
		runCtx, cancel := context.WithCancel(c.scope)
		c.current.cancel = cancel
		c.mu.Unlock()

		if c.writer != nil {
			if werr := c.writer.Write(ctx, value); werr != nil {
				c.log.Warnf("cache writer failed: %v", werr)
			}
		}
		go c.runLoad(runCtx, d)
		return
	}

	c.current = nil
	c.mu.Unlock()

	if ctx.Err() != nil {
		// Scope cancellation: not a loader failure, completes the
		// Deferred exceptionally without a new Idle publish.
		var zero T
		d.complete(zero, ctx.Err())
		return
	}

	if err != nil {
		id := c.errSeq.Add(1)
		var handled atomic.Bool
		markHandled := func() bool { return handled.CompareAndSwap(false, true) }
		c.states.Publish(State[T]{Status: IdleError, Err: err, ErrID: id, MarkHandled: markHandled})
		var zero T
		d.complete(zero, err)
		return
	}

	if c.expires != nil && c.expires(value) <= 0 {
		panic(errors.Wrapf(ErrContractViolation, "value %+v still expires_in <= 0 after load", value))
	}

	if c.writer != nil {
		if werr := c.writer.Write(ctx, value); werr != nil {
			c.log.Warnf("cache writer failed: %v", werr)
		}
	}

	c.states.Publish(State[T]{Status: IdleSuccess})
	d.complete(value, nil)
}

// tracker reports progress to the coalescer's state stream; once
// disabled, further reports are silently ignored (spec §4.4).
type tracker[T any] struct {
	c      *Coalescer[T]
	mu     sync.Mutex
	active bool
}

func newTracker[T any](c *Coalescer[T]) *tracker[T] {
	return &tracker[T]{c: c, active: true}
}

func (t *tracker[T]) Report(current, total int64) {
	t.mu.Lock()
	active := t.active
	t.mu.Unlock()
	if !active {
		return
	}
	t.c.states.Publish(State[T]{Status: LoadingProgress, Progress: Progress{Current: current, Total: total}})
}

func (t *tracker[T]) disable() {
	t.mu.Lock()
	t.active = false
	t.mu.Unlock()
}
