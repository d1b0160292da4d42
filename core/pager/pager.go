package pager

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/alexvasilkov/inflow-go/core/signal"
	"github.com/alexvasilkov/inflow-go/internal/logging"
)

// Status is the pager's loading state, mirroring the coalescer's
// Initial/Loading/Idle shape but without a success/error split on the
// happy path (spec §3 "Progress (paging variant)").
type Status int

const (
	Idle Status = iota
	Active
)

// State is one value of the load-next/refresh progress stream.
type State struct {
	Status         Status
	Current, Total int64
	Err            error
}

// Options configure a new Pager.
type Options[T, K any] struct {
	Scope context.Context
	// Cache is the optional persistent mirror of the pager's local
	// state (spec §4.10 PagingCache); nil means purely in-memory.
	Cache PagingCache[T, K]
	// Loader is the optional remote page fetcher; nil means a purely
	// local/in-memory pager (spec §4.10 "The loader is optional").
	Loader   Loader[T, K]
	Merger   MergeStrategy[T, K]
	Identity IdentityProvider[T]
	PageSize int
	Logger   *logging.Logger
}

// Pager is the paging extension of spec §4.10.
type Pager[T, K any] struct {
	scope    context.Context
	cache    PagingCache[T, K]
	loader   Loader[T, K]
	merger   MergeStrategy[T, K]
	identity IdentityProvider[T]
	pageSize int
	log      *logging.Logger

	// opMu serializes refresh() and load_next() against each other
	// (spec §4.10 "refresh and load_next execute under one mutex");
	// held across the loader call itself, not just the state mutation.
	opMu sync.Mutex

	// mu guards local/remote/generation only — brief critical sections,
	// so Replace() (typically invoked from a cache-invalidation
	// listener) is never blocked behind an in-flight refresh/load_next.
	mu         sync.Mutex
	local      []T
	remote     PagingRemoteState[K]
	generation atomic.Uint64

	display *signal.Broadcaster[Paged[T]]
	states  *signal.Broadcaster[State]
}

// New builds a Pager and publishes its initial Idle state and empty
// display snapshot.
func New[T, K any](opts Options[T, K]) *Pager[T, K] {
	if opts.Merger != nil && opts.Identity == nil {
		panic("pager: a merge strategy requires an identity provider")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Noop
	}
	p := &Pager[T, K]{
		scope:    opts.Scope,
		cache:    opts.Cache,
		loader:   opts.Loader,
		merger:   opts.Merger,
		identity: opts.Identity,
		pageSize: opts.PageSize,
		log:      log.With("pager"),
		display:  signal.New[Paged[T]](),
		states:   signal.New[State](),
	}
	p.states.Publish(State{Status: Idle})
	p.publishDisplayLocked()

	if p.cache != nil {
		cancel := p.cache.OnInvalidate(func() { go p.handleInvalidate() })
		go func() {
			<-p.scope.Done()
			cancel()
		}()
	}
	return p
}

// Display returns the replayed Paged stream (spec §4.10 "display").
func (p *Pager[T, K]) Display() (<-chan Paged[T], func()) { return p.display.Subscribe() }

// State returns the replayed load/refresh progress stream.
func (p *Pager[T, K]) State() (<-chan State, func()) { return p.states.Subscribe() }

// Refresh loads the first page (or a merge-boundary page, when
// refreshKey is non-nil) and prepends it per spec §4.10's prepend
// algorithm.
func (p *Pager[T, K]) Refresh(ctx context.Context, count int, forceClearCache bool) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	refreshKey := p.remote.RefreshKey
	p.mu.Unlock()

	result, err := p.fetchRefresh(ctx, refreshKey, count)
	if err != nil {
		return err
	}
	result.ForceClearCacheOnRefresh = result.ForceClearCacheOnRefresh || forceClearCache

	p.mu.Lock()
	p.applyPrependLocked(result, refreshKey)
	p.mu.Unlock()

	p.persistAndPublish(ctx)
	return nil
}

// LoadNext fetches the next page and appends it per spec §4.10's
// append algorithm. It is a no-op if the remote state reports no
// further pages.
func (p *Pager[T, K]) LoadNext(ctx context.Context, count int) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	if !p.remote.HasNext {
		p.mu.Unlock()
		return nil
	}
	nextKey := p.remote.NextKey
	gen := p.generation.Load()
	p.mu.Unlock()

	result, err := p.fetchNext(ctx, nextKey, count)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.generation.Load() != gen {
		p.mu.Unlock()
		// Superseded by a Replace() while the loader call was in
		// flight: discard per spec §9's preferred "discard" resolution
		// for a load_next racing a full-list replace.
		p.log.Debugf("discarding load_next result: cache was replaced mid-flight")
		return nil
	}
	p.applyAppendLocked(result, nextKey)
	p.mu.Unlock()

	p.persistAndPublish(ctx)
	return nil
}

// Replace wipes the local list, installs result as the entirety of the
// cache, and bumps the generation counter so any load_next already in
// flight discards its result on return (spec §4.10 "Replace").
func (p *Pager[T, K]) Replace(ctx context.Context, result PageResult[T, K]) {
	p.mu.Lock()
	p.local = append([]T(nil), result.Items...)
	p.remote = remoteFromResult(result)
	p.generation.Add(1)
	p.mu.Unlock()

	p.persistReplaceAndPublish(ctx)
}

func (p *Pager[T, K]) fetchRefresh(ctx context.Context, refreshKey *K, count int) (PageResult[T, K], error) {
	if p.loader == nil {
		return PageResult[T, K]{}, nil
	}
	p.states.Publish(State{Status: Active})
	result, err := p.loader.Load(ctx, PageParams[K]{Kind: KindRefresh, Key: refreshKey, Count: count})
	if err != nil {
		p.states.Publish(State{Status: Idle, Err: err})
		return PageResult[T, K]{}, err
	}
	return result, nil
}

func (p *Pager[T, K]) fetchNext(ctx context.Context, nextKey *K, count int) (PageResult[T, K], error) {
	if p.loader == nil {
		return PageResult[T, K]{}, nil
	}
	p.states.Publish(State{Status: Active})
	result, err := p.loader.Load(ctx, PageParams[K]{Kind: KindNext, Key: nextKey, Count: count})
	if err != nil {
		p.states.Publish(State{Status: Idle, Err: err})
		return PageResult[T, K]{}, err
	}
	return result, nil
}

// applyPrependLocked must be called with mu held.
func (p *Pager[T, K]) applyPrependLocked(result PageResult[T, K], refreshKey *K) {
	switch {
	case result.ForceClearCacheOnRefresh:
		p.local = append([]T(nil), result.Items...)
		p.remote = remoteFromResult(result)

	case p.merger == nil:
		if refreshKey == nil {
			p.local = append([]T(nil), result.Items...)
			p.remote = remoteFromResult(result)
		} else {
			p.local = append(append([]T(nil), result.Items...), p.local...)
			p.remote = remoteCarryingRefresh(p.remote, result)
		}

	default:
		idx := p.merger.FindPrependIndex(result.Items, p.local, refreshKey)
		if idx < 0 {
			p.local = append([]T(nil), result.Items...)
			p.remote = remoteFromResult(result)
			return
		}
		kept := append([]T(nil), p.local[idx:]...)
		kept = p.identity.Delete(kept, result.Items)
		p.local = append(append([]T(nil), result.Items...), kept...)
		p.remote = remoteCarryingRefresh(p.remote, result)
	}
}

// applyAppendLocked must be called with mu held.
func (p *Pager[T, K]) applyAppendLocked(result PageResult[T, K], nextKey *K) {
	if p.merger == nil {
		p.local = append(p.local, result.Items...)
		p.remote = remoteCarryingNext(p.remote, result)
		return
	}
	idx := p.merger.FindAppendIndex(p.local, result.Items, nextKey)
	if idx < 0 {
		p.local = append([]T(nil), result.Items...)
		p.remote = remoteFromResult(result)
		return
	}
	kept := append([]T(nil), p.local[:idx]...)
	kept = p.identity.Delete(kept, result.Items)
	p.local = append(kept, result.Items...)
	p.remote = remoteCarryingNext(p.remote, result)
}

func remoteFromResult[T, K any](result PageResult[T, K]) PagingRemoteState[K] {
	return PagingRemoteState[K]{
		HasNext:    result.NextKey != nil,
		NextKey:    result.NextKey,
		RefreshKey: result.RefreshKey,
	}
}

func remoteCarryingRefresh[T, K any](existing PagingRemoteState[K], result PageResult[T, K]) PagingRemoteState[K] {
	return PagingRemoteState[K]{
		HasNext:    existing.HasNext,
		NextKey:    existing.NextKey,
		RefreshKey: result.RefreshKey,
	}
}

func remoteCarryingNext[T, K any](existing PagingRemoteState[K], result PageResult[T, K]) PagingRemoteState[K] {
	return PagingRemoteState[K]{
		HasNext:    result.NextKey != nil,
		NextKey:    result.NextKey,
		RefreshKey: existing.RefreshKey,
	}
}

// publishDisplayLocked must be called with mu held. Local-has-more is
// not separately modeled: this in-memory core never windows p.local
// below what it has already merged, so Paged.HasNext collapses to the
// remote signal (spec §3 "has_next is the OR of local and remote").
func (p *Pager[T, K]) publishDisplayLocked() {
	snapshot := append([]T(nil), p.local...)
	p.display.Publish(Paged[T]{Items: snapshot, HasNext: p.remote.HasNext})
}

// persistAndPublish snapshots local/remote under mu, then runs cache I/O
// unlocked: Exclusive can block on a remote round trip, and a concurrent
// Replace or invalidation must not wait behind it for mu.
func (p *Pager[T, K]) persistAndPublish(ctx context.Context) {
	p.mu.Lock()
	local := append([]T(nil), p.local...)
	remote := p.remote
	p.mu.Unlock()

	if p.cache != nil {
		if err := p.cache.Exclusive(ctx, false, func(ctx context.Context) error {
			if err := p.cache.DeleteAll(ctx); err != nil {
				return err
			}
			if err := p.cache.Append(ctx, local); err != nil {
				return err
			}
			return p.cache.WriteState(ctx, remote)
		}); err != nil {
			p.log.Warnf("pager cache persist failed: %v", err)
		}
	}

	p.mu.Lock()
	p.publishDisplayLocked()
	p.states.Publish(State{Status: Idle})
	p.mu.Unlock()
}

func (p *Pager[T, K]) persistReplaceAndPublish(ctx context.Context) {
	p.persistAndPublish(ctx)
}

// handleInvalidate re-reads at least pageSize items (spec §4.10 "cache
// invalidation listener").
func (p *Pager[T, K]) handleInvalidate() {
	if p.cache == nil {
		return
	}
	p.mu.Lock()
	want := p.pageSize
	if len(p.local) > want {
		want = len(p.local)
	}
	p.mu.Unlock()

	ctx := p.scope
	_ = p.cache.Exclusive(ctx, false, func(ctx context.Context) error {
		items, err := p.cache.Read(ctx, want)
		if err != nil {
			return err
		}
		state, err := p.cache.ReadState(ctx)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.local = items
		p.remote = state
		p.generation.Add(1)
		p.mu.Unlock()
		return nil
	})

	p.mu.Lock()
	p.publishDisplayLocked()
	p.mu.Unlock()
}
