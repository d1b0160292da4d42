// Package inflow assembles the four core primitives — sharedhot,
// coalescer, invalidate and scheduler — into the single public facade of
// spec §4.6: a data(), state() and load() surface shared by every
// subscriber of one Inflow instance (spec §6 "Sharing policy": one
// shared-hot cache plus one scheduler per Inflow, never per subscriber).
package inflow

import (
	"context"
	"sync"
	"time"

	"github.com/alexvasilkov/inflow-go/core/clock"
	"github.com/alexvasilkov/inflow-go/core/coalescer"
	"github.com/alexvasilkov/inflow-go/core/contract"
	"github.com/alexvasilkov/inflow-go/core/expiration"
	"github.com/alexvasilkov/inflow-go/core/scheduler"
	"github.com/alexvasilkov/inflow-go/core/sharedhot"
	"github.com/alexvasilkov/inflow-go/internal/logging"
)

// Inflow is the runtime of spec §4.6: one shared cache multiplexer, one
// loader coalescer and one update scheduler, all bound to a single
// caller-supplied scope.
type Inflow[T any] struct {
	scope      context.Context
	cache      *sharedhot.SharedHot[T]
	loader     *coalescer.Coalescer[T]
	connection contract.Connectivity
	expires    expiration.Policy[T]
	retryTime  time.Duration
	clk        clock.Clock
	log        *logging.Logger

	mu              sync.Mutex
	autoRefreshSubs int
	schedCancel     context.CancelFunc
}

// Data subscribes to the cache's hot stream (spec §4.6 data()). The
// returned cancel func must be called exactly once, and AutoRefresh
// subscriptions must eventually be cancelled or the update scheduler
// runs forever.
func (inf *Inflow[T]) Data(param DataParam) (<-chan sharedhot.Event[T], func()) {
	ch, cancel := inf.cache.Subscribe()
	if param != AutoRefresh {
		return ch, cancel
	}

	inf.mu.Lock()
	inf.autoRefreshSubs++
	if inf.autoRefreshSubs == 1 {
		inf.startSchedulerLocked()
	}
	inf.mu.Unlock()

	var once sync.Once
	wrapped := func() {
		once.Do(func() {
			cancel()
			inf.mu.Lock()
			inf.autoRefreshSubs--
			if inf.autoRefreshSubs == 0 {
				inf.stopSchedulerLocked()
			}
			inf.mu.Unlock()
		})
	}
	return ch, wrapped
}

// State subscribes to a LoadState stream (spec §4.6 state()).
// LoadNextState is only meaningful on the paging extension (see package
// pager): on a plain Inflow it stays Initial forever.
func (inf *Inflow[T]) State(param StateParam) (<-chan coalescer.State[T], func()) {
	if param == LoadNextState {
		ch := make(chan coalescer.State[T], 1)
		ch <- coalescer.State[T]{Status: coalescer.Initial}
		return ch, func() {}
	}
	return inf.loader.States()
}

// Load runs the requested load operation (spec §4.6 load()).
func (inf *Inflow[T]) Load(param LoadParam) *coalescer.Deferred[T] {
	switch param.kind {
	case kindRefresh:
		return inf.loader.Load()
	case kindRefreshIfExpired:
		return inf.loader.LoadIfExpired(param.bound)
	case kindRefreshForced:
		return inf.loader.LoadForced()
	case kindLoadNext:
		panic("inflow: LoadNext is only supported by the paging extension (see package pager)")
	default:
		panic("inflow: unknown LoadParam")
	}
}

// startSchedulerLocked must be called with inf.mu held.
func (inf *Inflow[T]) startSchedulerLocked() {
	ctx, cancel := context.WithCancel(inf.scope)
	inf.schedCancel = cancel

	// A private view of the cache, unsubscribed when the scheduler stops,
	// feeds the scheduler; sharedhot already multiplexes the real
	// upstream, so this adds no extra upstream subscription cost.
	events, cancelSub := inf.cache.Subscribe()
	cacheValues := make(chan T, 1)
	go func() {
		defer close(cacheValues)
		defer cancelSub()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Err != nil || ev.Cancelled {
					continue
				}
				select {
				case cacheValues <- ev.Value:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go scheduler.Run(ctx, scheduler.Config[T]{
		CacheEvents:  cacheValues,
		Expires:      inf.expires,
		Connectivity: inf.connection,
		RetryTime:    inf.retryTime,
		Trigger: func(triggerCtx context.Context) {
			inf.loader.Load().Join(triggerCtx)
		},
		Clock: inf.clk,
		Log:   inf.log,
	})
}

// stopSchedulerLocked must be called with inf.mu held.
func (inf *Inflow[T]) stopSchedulerLocked() {
	if inf.schedCancel != nil {
		inf.schedCancel()
		inf.schedCancel = nil
	}
}
