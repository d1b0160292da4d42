package coalescer_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexvasilkov/inflow-go/core/clock"
	"github.com/alexvasilkov/inflow-go/core/coalescer"
	"github.com/alexvasilkov/inflow-go/core/contract"
	"github.com/alexvasilkov/inflow-go/core/expiration"
)

func TestLoad_NeverRunsConcurrently(t *testing.T) {
	ctx := context.Background()
	var inFlight int32
	var maxInFlight int32

	loader := contract.LoaderFunc[int](func(ctx context.Context, tr contract.Tracker) (int, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&maxInFlight)
			if n <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return 1, nil
	})

	c := coalescer.New(coalescer.Options[int]{Scope: ctx, Loader: loader, Expires: expiration.PolicyNever[int]()})

	d1 := c.Load()
	d2 := c.Load()
	assert.Same(t, d1, d2)

	v, err := d1.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(1))
}

func TestLoadForced_RepeatAfterRunning(t *testing.T) {
	ctx := context.Background()
	var counter int32
	var starts int32

	loader := contract.LoaderFunc[int](func(ctx context.Context, tr contract.Tracker) (int, error) {
		atomic.AddInt32(&starts, 1)
		time.Sleep(100 * time.Millisecond)
		return int(atomic.AddInt32(&counter, 1)) - 1, nil
	})

	c := coalescer.New(coalescer.Options[int]{Scope: ctx, Loader: loader, Expires: expiration.PolicyNever[int]()})

	d := c.Load()
	time.Sleep(50 * time.Millisecond)
	d2 := c.LoadForced()
	assert.Same(t, d, d2)

	v, err := d.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v) // result of the *second* (repeat) load
	assert.Equal(t, int32(2), atomic.LoadInt32(&starts))
}

func TestLoadIfExpired_ShortCircuits(t *testing.T) {
	ctx := context.Background()
	var loads int32
	loader := contract.LoaderFunc[int](func(ctx context.Context, tr contract.Tracker) (int, error) {
		atomic.AddInt32(&loads, 1)
		return 0, nil
	})

	latest := -1
	c := coalescer.New(coalescer.Options[int]{
		Scope:   ctx,
		Loader:  loader,
		Expires: expiration.After[int](clock.Real, 50*time.Millisecond, func(int) time.Time { return time.Now() }),
		Latest:  func() (int, bool) { return latest, true },
	})

	d1 := c.LoadIfExpired(0)
	v, err := d1.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, -1, v)
	assert.Equal(t, int32(0), atomic.LoadInt32(&loads))

	d2 := c.LoadIfExpired(100 * time.Millisecond)
	v2, err := d2.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, v2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

func TestLoad_Failure_PublishesIdleError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	release := make(chan struct{})
	loader := contract.LoaderFunc[int](func(ctx context.Context, tr contract.Tracker) (int, error) {
		<-release
		return 0, boom
	})

	c := coalescer.New(coalescer.Options[int]{Scope: ctx, Loader: loader, Expires: expiration.PolicyNever[int]()})
	states, cancel := c.States()
	defer cancel()
	<-states // Initial

	// The state stream keeps only the latest value for a subscriber that
	// has not read yet, so LoadingStarted is read before the loader fails.
	d := c.Load()

	var st coalescer.State[int]
	select {
	case st = <-states:
	case <-time.After(time.Second):
		t.Fatal("expected a state")
	}
	require.Equal(t, coalescer.LoadingStarted, st.Status)

	close(release)
	_, err := d.Await(ctx)
	assert.ErrorIs(t, err, boom)

	select {
	case st = <-states:
	case <-time.After(time.Second):
		t.Fatal("expected idle error state")
	}
	assert.Equal(t, coalescer.IdleError, st.Status)
	assert.True(t, st.MarkHandled())
	assert.False(t, st.MarkHandled())
}
