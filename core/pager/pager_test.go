package pager_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexvasilkov/inflow-go/core/pager"
)

func identityDeleteInts() pager.IdentityProviderFunc[int] {
	return func(from []int, items []int) []int {
		skip := make(map[int]struct{}, len(items))
		for _, it := range items {
			skip[it] = struct{}{}
		}
		out := make([]int, 0, len(from))
		for _, f := range from {
			if _, ok := skip[f]; !ok {
				out = append(out, f)
			}
		}
		return out
	}
}

func TestPager_RefreshThenLoadNext_NoMerger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pages := [][]int{{1, 2, 3}, {4, 5, 6}}
	call := 0
	loader := pager.LoaderFunc[int, int](func(ctx context.Context, params pager.PageParams[int]) (pager.PageResult[int, int], error) {
		items := pages[call]
		call++
		nextKey := 1
		var next *int
		if call < len(pages) {
			next = &nextKey
		}
		return pager.PageResult[int, int]{Items: items, NextKey: next}, nil
	})

	p := pager.New[int, int](pager.Options[int, int]{Scope: ctx, Loader: loader})

	require.NoError(t, p.Refresh(ctx, 3, false))
	require.NoError(t, p.LoadNext(ctx, 3))

	displayCh, displayCancel := p.Display()
	defer displayCancel()
	snapshot := <-displayCh
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, snapshot.Items)
	assert.False(t, snapshot.HasNext)
}

func TestPager_LoadNext_NoOpWhenNoMorePages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := pager.LoaderFunc[int, int](func(ctx context.Context, params pager.PageParams[int]) (pager.PageResult[int, int], error) {
		return pager.PageResult[int, int]{Items: []int{1, 2}}, nil // NextKey nil: no more pages
	})

	p := pager.New[int, int](pager.Options[int, int]{Scope: ctx, Loader: loader})
	require.NoError(t, p.Refresh(ctx, 2, false))
	require.NoError(t, p.LoadNext(ctx, 2)) // no-op: remote.HasNext is false

	displayCh, displayCancel := p.Display()
	defer displayCancel()
	snapshot := <-displayCh
	assert.Equal(t, []int{1, 2}, snapshot.Items)
}

func TestPager_Append_MergesOverlapWithMergerAndIdentity(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	loader := pager.LoaderFunc[int, int](func(ctx context.Context, params pager.PageParams[int]) (pager.PageResult[int, int], error) {
		calls++
		if calls == 1 {
			nextKey := 3
			return pager.PageResult[int, int]{Items: []int{1, 2, 3}, NextKey: &nextKey}, nil
		}
		// Second page overlaps on the boundary item 3.
		return pager.PageResult[int, int]{Items: []int{3, 4, 5}}, nil
	})

	merger := &pager.MergeWithComparator[int, int]{Compare: intCompare, Unique: true}
	p := pager.New[int, int](pager.Options[int, int]{
		Scope: ctx, Loader: loader, Merger: merger, Identity: identityDeleteInts(),
	})

	require.NoError(t, p.Refresh(ctx, 3, false))
	require.NoError(t, p.LoadNext(ctx, 3))

	displayCh, displayCancel := p.Display()
	defer displayCancel()
	snapshot := <-displayCh
	assert.Equal(t, []int{1, 2, 3, 4, 5}, snapshot.Items)
}

func TestPager_Replace_ReplacesEverythingAndBumpsGeneration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := pager.LoaderFunc[int, int](func(ctx context.Context, params pager.PageParams[int]) (pager.PageResult[int, int], error) {
		return pager.PageResult[int, int]{Items: []int{1, 2}}, nil
	})
	p := pager.New[int, int](pager.Options[int, int]{Scope: ctx, Loader: loader})
	require.NoError(t, p.Refresh(ctx, 2, false))

	p.Replace(ctx, pager.PageResult[int, int]{Items: []int{9, 9, 9}})

	displayCh, displayCancel := p.Display()
	defer displayCancel()
	snapshot := <-displayCh
	assert.Equal(t, []int{9, 9, 9}, snapshot.Items)
}
