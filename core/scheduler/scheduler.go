// Package scheduler implements spec §4.5: it watches a cache stream's
// expiration and a connectivity signal, and triggers a loader call
// whenever the current value is expired — retrying at a fixed interval
// until a fresh, non-expired value supersedes the current iteration.
package scheduler

import (
	"context"
	"time"

	"github.com/alexvasilkov/inflow-go/core/clock"
	"github.com/alexvasilkov/inflow-go/core/contract"
	"github.com/alexvasilkov/inflow-go/core/expiration"
	"github.com/alexvasilkov/inflow-go/internal/logging"
)

// Config configures a single Scheduler run.
type Config[T any] struct {
	// CacheEvents is the cache stream projected through the expiration
	// policy; each value restarts the scheduling iteration.
	CacheEvents <-chan T
	Expires     expiration.Policy[T]
	Connectivity contract.Connectivity
	// RetryTime must be > 0; use expiration.Never to disable retries.
	RetryTime time.Duration
	// Trigger is called to start (or join) a loader call. It must block
	// until that call completes — this is the "zero-capacity buffer
	// with SUSPEND-on-overflow" backpressure of spec §4.5: retries never
	// race a slow loader because the next retry sleep only starts once
	// Trigger returns.
	Trigger func(ctx context.Context)
	Clock   clock.Clock
	Log     *logging.Logger
}

// Run blocks, scheduling loader calls until ctx is cancelled. Callers
// bind its lifetime to data(AutoRefresh)'s subscriber count (spec §4.5
// "Binding"): launch on first subscriber, cancel on last unsubscribe.
func Run[T any](ctx context.Context, cfg Config[T]) {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real
	}
	log := cfg.Log
	if log == nil {
		log = logging.Noop
	}
	log = log.With("scheduler")

	edges := connectivityEdges(ctx, cfg.Connectivity)

	var latest T
	var hasLatest bool
	var iterCancel context.CancelFunc

	restart := func() {
		if iterCancel != nil {
			iterCancel()
			iterCancel = nil
		}
		if !hasLatest {
			return
		}
		iterCtx, cancel := context.WithCancel(ctx)
		iterCancel = cancel
		go runIteration(iterCtx, cfg, latest, clk, log)
	}

	defer func() {
		if iterCancel != nil {
			iterCancel()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-cfg.CacheEvents:
			if !ok {
				return
			}
			latest, hasLatest = v, true
			restart()
		case _, ok := <-edges:
			if !ok {
				edges = nil
				continue
			}
			restart()
		}
	}
}

func runIteration[T any](ctx context.Context, cfg Config[T], value T, clk clock.Clock, log *logging.Logger) {
	// Phase 1: wait out (and dynamically re-check) the expiration of
	// value, without ever touching the loader.
	for {
		d := cfg.Expires(value)
		if d == expiration.Never {
			<-ctx.Done()
			return
		}
		if d > 0 {
			select {
			case <-clk.After(d):
				continue
			case <-ctx.Done():
				return
			}
		}
		break // d <= 0: expired now.
	}

	log.Debugf("value expired, triggering load")
	cfg.Trigger(ctx)
	if ctx.Err() != nil {
		return
	}

	// Phase 2: retry on a fixed cadence until this iteration is
	// superseded by a fresh cache value or connectivity edge.
	for {
		if cfg.RetryTime == expiration.Never {
			<-ctx.Done()
			return
		}
		select {
		case <-clk.After(cfg.RetryTime):
		case <-ctx.Done():
			return
		}
		log.Debugf("retry time elapsed, triggering load")
		cfg.Trigger(ctx)
		if ctx.Err() != nil {
			return
		}
	}
}

// connectivityEdges converts a Connectivity provider into a trigger
// channel that fires once for the initial report (regardless of value)
// and again on every false->true rising edge (spec §2 component 2).
func connectivityEdges(ctx context.Context, conn contract.Connectivity) <-chan struct{} {
	out := make(chan struct{}, 1)
	if conn == nil {
		conn = contract.AlwaysConnected
	}
	go func() {
		defer close(out)
		first := true
		prev := false
		_ = conn.Subscribe(ctx, func(connected bool) {
			rising := connected && !prev && !first
			if first || rising {
				select {
				case out <- struct{}{}:
				default:
				}
			}
			prev = connected
			first = false
		})
	}()
	return out
}
