// Package merged implements spec §4.9: given a stream of parameters and
// an inflow.Inflow family keyed by that parameter, compose a single
// Inflow-shaped facade that always tracks the latest parameter's
// underlying Inflow (flat-map-latest), filtering out consecutive
// parameters that resolve to the same Inflow instance.
package merged

import (
	"context"
	"sync"

	"github.com/alexvasilkov/inflow-go/core/coalescer"
	"github.com/alexvasilkov/inflow-go/core/inflow"
	"github.com/alexvasilkov/inflow-go/core/sharedhot"
	"github.com/alexvasilkov/inflow-go/core/signal"
)

// Resolver maps a parameter to its Inflow, typically an LRU family's Get
// method bound to a factory (spec §4.9 "map each parameter to its
// Inflow via the family").
type Resolver[P comparable, T any] func(p P) *inflow.Inflow[T]

// Merged is the parameter-driven facade of spec §4.9.
type Merged[P comparable, T any] struct {
	scope   context.Context
	resolve Resolver[P, T]
	params  <-chan P

	mu      sync.Mutex
	current *inflow.Inflow[T]
	hasCur  bool
	switches *signal.Broadcaster[*inflow.Inflow[T]]
}

// New starts tracking params against resolve. scope governs the
// lifetime of the internal parameter-watching task and of every
// flat-mapped subscription handed out by Data/State.
func New[P comparable, T any](scope context.Context, params <-chan P, resolve Resolver[P, T]) *Merged[P, T] {
	m := &Merged[P, T]{
		scope:    scope,
		resolve:  resolve,
		params:   params,
		switches: signal.New[*inflow.Inflow[T]](),
	}
	go m.watch()
	return m
}

func (m *Merged[P, T]) watch() {
	for {
		select {
		case p, ok := <-m.params:
			if !ok {
				return
			}
			next := m.resolve(p)

			m.mu.Lock()
			same := m.hasCur && m.current == next
			if !same {
				m.current, m.hasCur = next, true
			}
			m.mu.Unlock()

			if !same {
				m.switches.Publish(next)
			}
		case <-m.scope.Done():
			return
		}
	}
}

// awaitFirst blocks until the first parameter has resolved to an
// Inflow, or ctx/the governing scope is cancelled first.
func (m *Merged[P, T]) awaitFirst(ctx context.Context) (*inflow.Inflow[T], bool) {
	m.mu.Lock()
	if m.hasCur {
		cur := m.current
		m.mu.Unlock()
		return cur, true
	}
	m.mu.Unlock()

	ch, cancel := m.switches.Subscribe()
	defer cancel()
	select {
	case inf := <-ch:
		return inf, true
	case <-ctx.Done():
		return nil, false
	case <-m.scope.Done():
		return nil, false
	}
}

// Data flat-maps-latest over the resolved Inflow's data(param) stream:
// switching to a new parameter cancels the previous Inflow's
// subscription and resubscribes to the new one (spec §5 "switching to a
// new parameter cancels the in-flight subscription").
func (m *Merged[P, T]) Data(param inflow.DataParam) (<-chan sharedhot.Event[T], func()) {
	out := make(chan sharedhot.Event[T], 1)
	ctx, cancel := context.WithCancel(m.scope)
	switches, cancelSwitches := m.switches.Subscribe()

	go func() {
		defer close(out)
		defer cancelSwitches()

		var innerCancel context.CancelFunc
		defer func() {
			if innerCancel != nil {
				innerCancel()
			}
		}()

		subscribeTo := func(inf *inflow.Inflow[T]) {
			if innerCancel != nil {
				innerCancel()
			}
			innerCtx, innerCancelCtx := context.WithCancel(ctx)
			ch, ic := inf.Data(param)
			innerCancel = func() { innerCancelCtx(); ic() }
			go forward(innerCtx, ch, out)
		}

		m.mu.Lock()
		cur, ok := m.current, m.hasCur
		m.mu.Unlock()
		if ok {
			subscribeTo(cur)
		}

		for {
			select {
			case inf, ok := <-switches:
				if !ok {
					return
				}
				subscribeTo(inf)
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, cancel
}

// State flat-maps-latest over the resolved Inflow's state(param)
// stream, suppressing a visible Idle->Idle transition across a
// parameter switch (spec §4.9 "distinct_until_changed").
func (m *Merged[P, T]) State(param inflow.StateParam) (<-chan coalescer.State[T], func()) {
	out := make(chan coalescer.State[T], 1)
	ctx, cancel := context.WithCancel(m.scope)
	switches, cancelSwitches := m.switches.Subscribe()

	go func() {
		defer close(out)
		defer cancelSwitches()

		var distinctMu sync.Mutex
		var lastStatus coalescer.Status
		haveLast := false

		var innerCancel func()
		defer func() {
			if innerCancel != nil {
				innerCancel()
			}
		}()

		subscribeTo := func(inf *inflow.Inflow[T]) {
			if innerCancel != nil {
				innerCancel()
			}
			innerCtx, innerCancelCtx := context.WithCancel(ctx)
			ch, ic := inf.State(param)
			innerCancel = func() { innerCancelCtx(); ic() }

			go func() {
				for {
					select {
					case s, ok := <-ch:
						if !ok {
							return
						}
						distinctMu.Lock()
						skip := haveLast && lastStatus == s.Status &&
							(s.Status == coalescer.IdleSuccess || s.Status == coalescer.IdleError)
						if !skip {
							lastStatus, haveLast = s.Status, true
						}
						distinctMu.Unlock()
						if skip {
							continue
						}
						select {
						case out <- s:
						case <-innerCtx.Done():
							return
						}
					case <-innerCtx.Done():
						return
					}
				}
			}()
		}

		m.mu.Lock()
		cur, ok := m.current, m.hasCur
		m.mu.Unlock()
		if ok {
			subscribeTo(cur)
		}

		for {
			select {
			case inf, ok := <-switches:
				if !ok {
					return
				}
				subscribeTo(inf)
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, cancel
}

// Load awaits the first-resolved Inflow and delegates load(param) to
// it. A later parameter change does not cancel an already-issued load
// (spec §5): only ctx (or the governing scope) cancels the wait for
// that first resolution.
func (m *Merged[P, T]) Load(ctx context.Context, param inflow.LoadParam) *coalescer.Deferred[T] {
	inf, ok := m.awaitFirst(ctx)
	if !ok {
		err := ctx.Err()
		if err == nil {
			err = m.scope.Err()
		}
		var zero T
		return coalescer.NewCompletedDeferred(zero, err)
	}
	return inf.Load(param)
}

func forward[T any](ctx context.Context, in <-chan sharedhot.Event[T], out chan<- sharedhot.Event[T]) {
	for {
		select {
		case v, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
