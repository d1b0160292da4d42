// Package invalidate implements spec §4.3: a gate that substitutes a
// user-chosen "empty" value into a cache stream whenever the latest
// value is considered invalid by a separate invalidation policy,
// re-evaluating on a timer as that value's own expiration dictates.
package invalidate

import (
	"context"
	"time"

	"github.com/alexvasilkov/inflow-go/core/clock"
	"github.com/alexvasilkov/inflow-go/core/contract"
	"github.com/alexvasilkov/inflow-go/core/expiration"
	"github.com/alexvasilkov/inflow-go/internal/logging"
)

// Gate wraps Upstream, substituting EmptyValue whenever Policy considers
// the latest upstream value invalid.
type Gate[T any] struct {
	Upstream   contract.CacheStream[T]
	Policy     expiration.Policy[T]
	EmptyValue T
	Clock      clock.Clock
	Log        *logging.Logger
}

// Subscribe implements contract.CacheStream.
//
// While the latest value is valid, the gate emits it and re-evaluates
// it after the policy's expires_in. Once EmptyValue is emitted, the gate
// schedules no further check: it re-evaluates only on the next upstream
// emission, so a policy whose verdict would flip back to valid without
// a new upstream value (e.g. an expiration.IfExpiredCheck predicate) is
// not re-checked until then (see DESIGN.md).
//
// latest, hasLatest and timer are only ever touched from the loop below,
// and emit is only ever called from there too: upstream values are
// handed off through the unbuffered values channel instead of being
// evaluated on the upstream's own goroutine, so there is exactly one
// goroutine deciding what to emit at any time.
func (g *Gate[T]) Subscribe(ctx context.Context, emit func(T) error) error {
	clk := g.Clock
	if clk == nil {
		clk = clock.Real
	}
	log := g.Log
	if log == nil {
		log = logging.Noop
	}
	log = log.With("invalidate")

	if d := g.Policy(g.EmptyValue); d > 0 {
		log.Warnf("empty value does not expire (expires_in=%s): invalidation would silence auto-refresh", d)
	}

	type tick struct{}
	ticks := make(chan tick, 1)
	var timer clock.Timer

	scheduleCheck := func(d time.Duration) {
		if timer != nil {
			timer.Stop()
		}
		timer = clk.NewTimer(d)
		go func() {
			select {
			case <-timer.C():
				select {
				case ticks <- tick{}:
				default:
				}
			case <-ctx.Done():
			}
		}()
	}

	var latest T
	var hasLatest bool

	evaluate := func() error {
		if !hasLatest {
			return nil
		}
		if d := g.Policy(latest); d > 0 {
			if err := emit(latest); err != nil {
				return err
			}
			scheduleCheck(d)
			return nil
		}
		return emit(g.EmptyValue)
	}

	values := make(chan T)
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Upstream.Subscribe(ctx, func(v T) error {
			select {
			case values <- v:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case v := <-values:
			latest, hasLatest = v, true
			if err := evaluate(); err != nil {
				return err
			}
		case <-ticks:
			if err := evaluate(); err != nil {
				return err
			}
		}
	}
}
