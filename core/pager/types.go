// Package pager implements spec §4.10: the paging extension that
// coordinates a local paged view, an optional persistent cache and a
// remote page loader behind refresh()/load_next() operations and a
// display stream.
package pager

import "context"

// PageKind discriminates the two shapes of PageParams.
type PageKind int

const (
	KindRefresh PageKind = iota
	KindNext
)

// PageParams is the request passed to the remote Loader (spec §4.10
// "PageParams<K> = Refresh{key, count} | Next{key, count}").
type PageParams[K any] struct {
	Kind PageKind
	// Key is the refresh_key or next_key cursor; nil means "no cursor
	// yet" (e.g. a first-page refresh).
	Key   *K
	Count int
}

// PageResult is what the remote Loader returns for one page fetch.
type PageResult[T, K any] struct {
	Items     []T
	NextKey   *K
	RefreshKey *K
	// ForceClearCacheOnRefresh instructs the prepend algorithm to replace
	// the entire cache instead of merging, regardless of merger config.
	ForceClearCacheOnRefresh bool
}

// Loader fetches one page. It is optional: pure in-memory pagers supply
// nil.
type Loader[T, K any] interface {
	Load(ctx context.Context, params PageParams[K]) (PageResult[T, K], error)
}

// LoaderFunc adapts a plain function to a Loader.
type LoaderFunc[T, K any] func(ctx context.Context, params PageParams[K]) (PageResult[T, K], error)

func (f LoaderFunc[T, K]) Load(ctx context.Context, params PageParams[K]) (PageResult[T, K], error) {
	return f(ctx, params)
}

// PagingRemoteState is the persisted remote pagination cursor (spec §3).
type PagingRemoteState[K any] struct {
	HasNext    bool
	NextKey    *K
	RefreshKey *K
}

// Paged is an immutable snapshot of the local page list (spec §3).
type Paged[T any] struct {
	Items   []T
	HasNext bool
}

// PagingCache is the caller-supplied persistence/exclusion contract of
// spec §4.10. Every mutating method must only be called from inside
// Exclusive(false, ...).
type PagingCache[T, K any] interface {
	// Exclusive runs fn holding the cache's exclusive (readOnly=false) or
	// shared (readOnly=true) access, serialized against every other
	// Exclusive call on this cache.
	Exclusive(ctx context.Context, readOnly bool, fn func(ctx context.Context) error) error
	Read(ctx context.Context, maxItems int) ([]T, error)
	Prepend(ctx context.Context, items []T) error
	Append(ctx context.Context, items []T) error
	Delete(ctx context.Context, items []T) error
	DeleteAll(ctx context.Context) error
	WriteState(ctx context.Context, state PagingRemoteState[K]) error
	ReadState(ctx context.Context) (PagingRemoteState[K], error)
	// OnInvalidate registers a listener notified when external state
	// invalidates the cache; the returned cancel func unregisters it.
	OnInvalidate(listener func()) (cancel func())
}

// IdentityProvider removes items from from that are equal (by identity,
// however the caller defines it) to any item in items (spec §4.10).
type IdentityProvider[T any] interface {
	Delete(from []T, items []T) []T
}

// IdentityProviderFunc adapts a plain function to an IdentityProvider.
type IdentityProviderFunc[T any] func(from []T, items []T) []T

func (f IdentityProviderFunc[T]) Delete(from []T, items []T) []T { return f(from, items) }

// MergeStrategy decides where newly-fetched pages splice into the local
// list (spec §4.10). Returning -1 means "replace the entire cache".
type MergeStrategy[T, K any] interface {
	FindPrependIndex(prepend []T, list []T, forRefreshKey *K) int
	FindAppendIndex(list []T, nextPage []T, forNextKey *K) int
}
