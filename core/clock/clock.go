// Package clock provides an injectable notion of "now" so that expiration
// policies and the update scheduler can be driven by simulated time in
// tests instead of wall-clock time.
package clock

import "time"

// Clock abstracts time.Now and time.After for deterministic tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTimer(d time.Duration) Timer
}

// Timer mirrors the subset of time.Timer the core needs, so fakes don't
// have to allocate a real runtime timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// Real is the production Clock backed by the time package.
var Real Clock = realClock{}

type realClock struct{}

func (realClock) Now() time.Time                       { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct{ t *time.Timer }

func (r *realTimer) C() <-chan time.Time      { return r.t.C }
func (r *realTimer) Stop() bool               { return r.t.Stop() }
func (r *realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }
