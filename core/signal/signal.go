// Package signal implements a small hot, replay-of-last broadcaster used
// internally to fan a single producer out to many observers: the loader
// coalescer's state machine (spec §4.4), the shared-hot event stream,
// the merged Inflow's switch stream and the pager's display/state
// streams are all single-producer/many-consumer with "always replay the
// latest value to a late joiner" semantics.
//
// Unlike a buffered channel, a Broadcaster never blocks the producer and
// never queues: a slow or stalled subscriber only ever sees the most
// recent value, the same way spec §4.2's shared-hot multiplexer replays
// exactly one cached value.
package signal

import "sync"

// Broadcaster fans a stream of values out to any number of subscribers,
// always holding the latest published value for replay to new
// subscribers.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	has    bool
	last   T
	done   bool
}

// New creates an empty Broadcaster.
func New[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[int]chan T)}
}

// Publish delivers v to every current subscriber and stores it for
// replay. A subscriber that hasn't drained the previous value simply
// loses it — only the latest value is ever guaranteed to be observed.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.last, b.has = v, true
	for _, ch := range b.subs {
		trySendLatest(ch, v)
	}
}

// Close marks the broadcaster as terminated: no further Publish calls
// have any effect and every subscriber channel is closed.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

// Subscribe registers a new observer, immediately replaying the latest
// published value (if any) into the returned channel. The returned
// cancel function must be called exactly once to stop receiving and
// release resources.
func (b *Broadcaster[T]) Subscribe() (ch <-chan T, cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(chan T, 1)
	if b.done {
		close(out)
		return out, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = out
	if b.has {
		out <- b.last
	}

	cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return out, cancel
}

// Last returns the latest published value, if any.
func (b *Broadcaster[T]) Last() (v T, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.has
}

// trySendLatest sends v on ch, dropping a previously buffered-but-unread
// value so the subscriber always sees the most recent publish.
func trySendLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
