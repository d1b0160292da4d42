// Package lru implements spec §4.8: a bounded, thread-safe cache mapping
// a parameter P to a value V (in practice an *inflow.Inflow[T]) via a
// caller-supplied factory, with access-order eviction and an optional
// time-since-last-access expiry.
package lru

import (
	"container/list"
	"sync"
	"time"

	"github.com/alexvasilkov/inflow-go/core/clock"
)

type entry[P comparable, V any] struct {
	key        P
	value      V
	lastAccess time.Time
}

// Family is the LRU family of spec §4.8. The zero value is not usable;
// build one with New.
type Family[P comparable, V any] struct {
	mu                sync.Mutex
	maxSize           int
	expireAfterAccess time.Duration // 0 disables time-based eviction
	onRemove          func(P, V)
	clk               clock.Clock

	order *list.List // front = least-recently-used, back = most-recently-used
	index map[P]*list.Element
}

// New builds a Family. maxSize must be >= 1; expireAfterAccess must be
// >= 0 (0 disables time-based eviction).
func New[P comparable, V any](maxSize int, expireAfterAccess time.Duration) *Family[P, V] {
	if maxSize < 1 {
		panic("lru: maxSize must be >= 1")
	}
	if expireAfterAccess < 0 {
		panic("lru: expireAfterAccess must be >= 0")
	}
	return &Family[P, V]{
		maxSize:           maxSize,
		expireAfterAccess: expireAfterAccess,
		clk:               clock.Real,
		order:             list.New(),
		index:             make(map[P]*list.Element),
	}
}

// OnRemove registers the callback invoked for every entry evicted by
// capacity, time expiry, an explicit Remove, or Clear. It is called with
// the family's lock released.
func (f *Family[P, V]) OnRemove(cb func(P, V)) *Family[P, V] {
	f.mu.Lock()
	f.onRemove = cb
	f.mu.Unlock()
	return f
}

// Clock overrides the time source, for deterministic tests.
func (f *Family[P, V]) Clock(c clock.Clock) *Family[P, V] {
	f.mu.Lock()
	f.clk = c
	f.mu.Unlock()
	return f
}

// Get returns the cached value for key, calling factory to create and
// cache it on a miss. A hit moves the entry to the most-recently-used
// position. factory must not call back into the Family (no suspending
// work runs under the lock, per spec §5 "Shared-resource policy").
func (f *Family[P, V]) Get(key P, factory func(P) V) V {
	f.mu.Lock()
	now := f.clk.Now()

	if el, ok := f.index[key]; ok {
		e := el.Value.(*entry[P, V])
		e.lastAccess = now
		f.order.MoveToBack(el)
		v := e.value
		removed := f.evictLocked(now)
		f.mu.Unlock()
		f.notify(removed)
		return v
	}
	f.mu.Unlock()

	v := factory(key)

	f.mu.Lock()
	if el, ok := f.index[key]; ok {
		// Raced with a concurrent Get(key, ...); keep the winner already
		// installed and discard this factory result silently.
		e := el.Value.(*entry[P, V])
		e.lastAccess = now
		f.order.MoveToBack(el)
		winner := e.value
		removed := f.evictLocked(now)
		f.mu.Unlock()
		f.notify(removed)
		return winner
	}
	el := f.order.PushBack(&entry[P, V]{key: key, value: v, lastAccess: now})
	f.index[key] = el
	removed := f.evictLocked(now)
	f.mu.Unlock()
	f.notify(removed)
	return v
}

// Remove evicts key if present, invoking on_remove. Reports whether an
// entry was actually removed.
func (f *Family[P, V]) Remove(key P) bool {
	f.mu.Lock()
	el, ok := f.index[key]
	if !ok {
		f.mu.Unlock()
		return false
	}
	e := el.Value.(*entry[P, V])
	delete(f.index, key)
	f.order.Remove(el)
	f.mu.Unlock()
	f.notify([]evicted[P, V]{{e.key, e.value}})
	return true
}

// Clear evicts every entry, invoking on_remove for each.
func (f *Family[P, V]) Clear() {
	f.mu.Lock()
	var removed []evicted[P, V]
	for el := f.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[P, V])
		removed = append(removed, evicted[P, V]{e.key, e.value})
	}
	f.order.Init()
	f.index = make(map[P]*list.Element)
	f.mu.Unlock()
	f.notify(removed)
}

// Len reports the current entry count.
func (f *Family[P, V]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.order.Len()
}

type evicted[P comparable, V any] struct {
	key   P
	value V
}

// evictLocked must be called with f.mu held; it walks from the
// least-recently-used end, dropping entries over capacity or past the
// access-expiry deadline, and returns what it removed for notification
// outside the lock.
func (f *Family[P, V]) evictLocked(now time.Time) []evicted[P, V] {
	var removed []evicted[P, V]

	for f.order.Len() > f.maxSize {
		removed = append(removed, f.dropFrontLocked())
	}

	if f.expireAfterAccess > 0 {
		deadline := now.Add(-f.expireAfterAccess)
		for {
			front := f.order.Front()
			if front == nil {
				break
			}
			e := front.Value.(*entry[P, V])
			if e.lastAccess.After(deadline) {
				break // access-ordered: nothing further is stale
			}
			removed = append(removed, f.dropFrontLocked())
		}
	}
	return removed
}

// dropFrontLocked must be called with f.mu held and a non-empty order.
func (f *Family[P, V]) dropFrontLocked() evicted[P, V] {
	front := f.order.Front()
	e := front.Value.(*entry[P, V])
	delete(f.index, e.key)
	f.order.Remove(front)
	return evicted[P, V]{e.key, e.value}
}

func (f *Family[P, V]) notify(removed []evicted[P, V]) {
	if len(removed) == 0 {
		return
	}
	f.mu.Lock()
	cb := f.onRemove
	f.mu.Unlock()
	if cb == nil {
		return
	}
	for _, r := range removed {
		cb(r.key, r.value)
	}
}
