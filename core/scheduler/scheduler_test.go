package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alexvasilkov/inflow-go/core/contract"
	"github.com/alexvasilkov/inflow-go/core/expiration"
	"github.com/alexvasilkov/inflow-go/core/scheduler"
)

func TestScheduler_RetryDisabled_TriggersOncePerEpoch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cacheEvents := make(chan int, 1)
	cacheEvents <- 0

	var triggers int32
	done := make(chan struct{})

	silentConnectivity := contract.ConnectivityFunc(func(ctx context.Context, emit func(bool)) error {
		<-ctx.Done()
		return ctx.Err()
	})

	go scheduler.Run(ctx, scheduler.Config[int]{
		CacheEvents:  cacheEvents,
		Expires:      expiration.IfEmpty(func(v int) bool { return true }),
		Connectivity: silentConnectivity,
		RetryTime:    expiration.Never,
		Trigger: func(ctx context.Context) {
			if atomic.AddInt32(&triggers, 1) == 1 {
				close(done)
			}
		},
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected a trigger")
	}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&triggers))
}

func TestScheduler_ConnectivityRisingEdgeRetriggers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cacheEvents := make(chan int, 1)

	connEmits := make(chan bool, 8)
	conn := contract.ConnectivityFunc(func(ctx context.Context, emit func(bool)) error {
		for {
			select {
			case v := <-connEmits:
				emit(v)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	var triggers int32
	triggerCh := make(chan struct{}, 8)

	go scheduler.Run(ctx, scheduler.Config[int]{
		CacheEvents:  cacheEvents,
		Expires:      expiration.IfEmpty(func(v int) bool { return true }),
		Connectivity: conn,
		RetryTime:    time.Hour, // effectively disabled for this test's timescale
		Trigger: func(ctx context.Context) {
			atomic.AddInt32(&triggers, 1)
			triggerCh <- struct{}{}
		},
	})

	// Initial connectivity emission arrives before any cache value: restart
	// is a no-op since there is nothing to (re)schedule yet.
	connEmits <- true

	cacheEvents <- 0 // always expired
	<-triggerCh      // cache-driven trigger

	connEmits <- false
	connEmits <- true // rising edge re-triggers against the latest cached value
	<-triggerCh

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&triggers))
}
