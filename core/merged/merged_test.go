package merged_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexvasilkov/inflow-go/core/contract"
	"github.com/alexvasilkov/inflow-go/core/expiration"
	"github.com/alexvasilkov/inflow-go/core/inflow"
	"github.com/alexvasilkov/inflow-go/core/lru"
	"github.com/alexvasilkov/inflow-go/core/merged"
)

type constCache struct{ v int }

func (c *constCache) Subscribe(ctx context.Context, emit func(int) error) error {
	if err := emit(c.v); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *constCache) Write(ctx context.Context, v int) error { c.v = v; return nil }

func buildInflow(ctx context.Context, seed int) *inflow.Inflow[int] {
	cache := &constCache{v: seed}
	return inflow.NewBuilder[int](ctx).
		Data(cache, cache, contract.LoaderFunc[int](func(ctx context.Context, tr contract.Tracker) (int, error) {
			return seed + 1, nil
		})).
		Expiration(expiration.PolicyNever[int]()).
		Build()
}

func TestMerged_DataSwitchesAcrossParameters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	family := lru.New[int, *inflow.Inflow[int]](8, 0)
	params := make(chan int, 4)

	m := merged.New[int, int](ctx, params, func(p int) *inflow.Inflow[int] {
		return family.Get(p, func(p int) *inflow.Inflow[int] { return buildInflow(ctx, p) })
	})

	dataCh, dataCancel := m.Data(inflow.CacheOnly)
	defer dataCancel()

	params <- 0
	first := <-dataCh
	require.NoError(t, first.Err)
	assert.Equal(t, 0, first.Value)

	params <- 100
	second := <-dataCh
	require.NoError(t, second.Err)
	assert.Equal(t, 100, second.Value)
}

func TestMerged_LoadAwaitsFirstResolution(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	family := lru.New[int, *inflow.Inflow[int]](8, 0)
	params := make(chan int, 4)

	m := merged.New[int, int](ctx, params, func(p int) *inflow.Inflow[int] {
		return family.Get(p, func(p int) *inflow.Inflow[int] { return buildInflow(ctx, p) })
	})

	loadCtx, loadCancel := context.WithTimeout(ctx, time.Second)
	defer loadCancel()

	done := make(chan struct{})
	var result int
	var err error
	go func() {
		d := m.Load(loadCtx, inflow.Refresh())
		result, err = d.Await(loadCtx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	params <- 0

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected load to resolve once the first parameter arrives")
	}
	require.NoError(t, err)
	assert.Equal(t, 1, result)
}

func TestMerged_LoadCancelledBeforeAnyParameter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	family := lru.New[int, *inflow.Inflow[int]](8, 0)
	params := make(chan int)

	m := merged.New[int, int](ctx, params, func(p int) *inflow.Inflow[int] {
		return family.Get(p, func(p int) *inflow.Inflow[int] { return buildInflow(ctx, p) })
	})

	loadCtx, loadCancel := context.WithCancel(ctx)
	loadCancel()

	d := m.Load(loadCtx, inflow.Refresh())
	_, err := d.Await(context.Background())
	assert.Error(t, err)
}
