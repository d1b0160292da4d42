package inflow

import "time"

// DataParam selects which data(...) stream spec §4.6 returns.
type DataParam int

const (
	// AutoRefresh keeps the update scheduler running for as long as at
	// least one subscriber holds this stream open.
	AutoRefresh DataParam = iota
	// CacheOnly observes the cache without influencing auto-refresh.
	CacheOnly
)

// StateParam selects which state(...) stream spec §4.6 returns.
type StateParam int

const (
	// RefreshState is the LoadState stream of the main refresh coalescer.
	RefreshState StateParam = iota
	// LoadNextState is only meaningful on the paging extension (see
	// package pager); a plain Inflow reports Initial forever.
	LoadNextState
)

// loadKind is the unexported discriminant behind LoadParam.
type loadKind int

const (
	kindRefresh loadKind = iota
	kindRefreshIfExpired
	kindRefreshForced
	kindLoadNext
)

// LoadParam selects the load(...) operation of spec §4.6. Build one
// with Refresh, RefreshIfExpired, RefreshForced or LoadNext.
type LoadParam struct {
	kind  loadKind
	bound time.Duration
}

// Refresh loads unless a call is already running, in which case it
// joins that call.
func Refresh() LoadParam { return LoadParam{kind: kindRefresh} }

// RefreshIfExpired completes immediately with the cached value when its
// remaining freshness exceeds bound, without touching the loader;
// otherwise it behaves like Refresh. bound must be >= 0.
func RefreshIfExpired(bound time.Duration) LoadParam {
	if bound < 0 {
		panic("inflow: RefreshIfExpired bound must be >= 0")
	}
	return LoadParam{kind: kindRefreshIfExpired, bound: bound}
}

// RefreshForced always loads; if a call is already running, one more
// round is appended after it completes (spec §4.4 load_forced()).
func RefreshForced() LoadParam { return LoadParam{kind: kindRefreshForced} }

// LoadNext is only supported by the paging extension (see package
// pager); calling it on a plain Inflow panics.
func LoadNext() LoadParam { return LoadParam{kind: kindLoadNext} }
