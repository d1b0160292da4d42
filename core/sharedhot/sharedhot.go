// Package sharedhot implements spec §4.2: a reference-counted multiplexer
// that turns a cold CacheStream into a hot one. The upstream is
// subscribed on the first observer, replays its latest value to every
// later observer, and is torn down after a quiet period
// (keepSubscribedTimeout) once the last observer leaves.
package sharedhot

import (
	"context"
	"sync"
	"time"

	"github.com/alexvasilkov/inflow-go/core/clock"
	"github.com/alexvasilkov/inflow-go/core/contract"
	"github.com/alexvasilkov/inflow-go/core/signal"
	"github.com/alexvasilkov/inflow-go/internal/logging"
)

// Event is what a SharedHot subscriber observes: either a value, a
// terminal upstream error, or a scope cancellation.
type Event[T any] struct {
	Value     T
	Err       error
	Cancelled bool
}

// SharedHot is the multiplexer of spec §4.2.
type SharedHot[T any] struct {
	scope                 context.Context
	upstream              contract.CacheStream[T]
	keepSubscribedTimeout time.Duration
	clk                   clock.Clock
	log                   *logging.Logger

	mu             sync.Mutex
	subscribers    int
	generation     int
	cancelUpstream context.CancelFunc
	idleTimer      clock.Timer
	broadcaster    *signal.Broadcaster[Event[T]]
	scopeDone      bool
}

// New wraps upstream into a hot multiplexer. scope governs the lifetime of
// every upstream subscription: when scope is cancelled every current and
// future subscriber observes Event.Cancelled.
func New[T any](scope context.Context, upstream contract.CacheStream[T], keepSubscribedTimeout time.Duration, clk clock.Clock, log *logging.Logger) *SharedHot[T] {
	if clk == nil {
		clk = clock.Real
	}
	if log == nil {
		log = logging.Noop
	}
	s := &SharedHot[T]{
		scope:                 scope,
		upstream:              upstream,
		keepSubscribedTimeout: keepSubscribedTimeout,
		clk:                   clk,
		log:                   log.With("sharedhot"),
		broadcaster:           signal.New[Event[T]](),
	}
	go func() {
		<-scope.Done()
		s.onScopeCancelled()
	}()
	return s
}

// Subscribe registers an observer. The first subscriber triggers an
// upstream subscription; later subscribers replay the latest event.
// The returned cancel func must be called exactly once.
func (s *SharedHot[T]) Subscribe() (<-chan Event[T], func()) {
	s.mu.Lock()
	s.subscribers++
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	if s.subscribers == 1 && s.cancelUpstream == nil && !s.scopeDone {
		s.startUpstreamLocked()
	}
	s.mu.Unlock()

	ch, cancelSub := s.broadcaster.Subscribe()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cancelSub()
			s.mu.Lock()
			s.subscribers--
			if s.subscribers == 0 {
				s.scheduleIdleLocked(s.generation)
			}
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// Latest returns the most recently observed value, if any has arrived
// yet and the last event wasn't an error or cancellation. Used by
// callers that need a non-blocking read of "what's cached right now"
// without subscribing (spec §4.4 load_if_expired()).
func (s *SharedHot[T]) Latest() (v T, ok bool) {
	ev, has := s.broadcaster.Last()
	if !has || ev.Err != nil || ev.Cancelled {
		var zero T
		return zero, false
	}
	return ev.Value, true
}

// startUpstreamLocked must be called with mu held.
func (s *SharedHot[T]) startUpstreamLocked() {
	s.generation++
	gen := s.generation
	ctx, cancel := context.WithCancel(s.scope)
	s.cancelUpstream = cancel
	s.log.Debugf("subscribing upstream, generation=%d", gen)

	go s.runUpstream(ctx, gen)
}

func (s *SharedHot[T]) runUpstream(ctx context.Context, gen int) {
	err := s.upstream.Subscribe(ctx, func(v T) error {
		s.broadcaster.Publish(Event[T]{Value: v})
		return nil
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		// Superseded by a teardown-then-restart race; nothing to do.
		return
	}
	s.cancelUpstream = nil

	if ctx.Err() != nil {
		// Deliberate teardown (idle timeout or scope cancellation).
		return
	}

	if err != nil {
		s.log.Warnf("upstream cache stream failed: %v", err)
		s.broadcaster.Publish(Event[T]{Err: err})
		// The upstream is now considered completed; it is not restarted
		// on its own even if observers remain attached. The next
		// Subscribe() call always gets a fresh upstream subscription
		// since cancelUpstream is nil.
	}
}

// scheduleIdleLocked must be called with mu held, subscribers == 0.
func (s *SharedHot[T]) scheduleIdleLocked(gen int) {
	timer := s.clk.NewTimer(s.keepSubscribedTimeout)
	s.idleTimer = timer
	go func() {
		<-timer.C()
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.generation != gen || s.subscribers != 0 {
			return // raced with a new subscriber; generation check resolves it
		}
		if s.cancelUpstream != nil {
			s.log.Debugf("quiet period elapsed, unsubscribing upstream, generation=%d", gen)
			s.cancelUpstream()
			s.cancelUpstream = nil
		}
		s.idleTimer = nil
	}()
}

func (s *SharedHot[T]) onScopeCancelled() {
	s.mu.Lock()
	s.scopeDone = true
	if s.cancelUpstream != nil {
		s.cancelUpstream()
		s.cancelUpstream = nil
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.mu.Unlock()

	// Publish (not Close): a late subscriber must still observe an
	// immediate cancellation via replay, per spec §4.2.
	s.broadcaster.Publish(Event[T]{Cancelled: true})
}
