// Package expiration implements the pure expiration policies of spec §4.1:
// a function mapping a cached value to "refresh in N" where N=0 means
// refresh now and N=Never means never refresh.
package expiration

import (
	"math"
	"time"

	"github.com/alexvasilkov/inflow-go/core/clock"
)

// Never is returned by a Policy when a value should never be refreshed.
const Never = time.Duration(math.MaxInt64)

// Policy is a pure function computing how long until value should be
// refreshed again, evaluated at the moment of observation.
type Policy[T any] func(value T) time.Duration

// PolicyNever never expires.
func PolicyNever[T any]() Policy[T] {
	return func(T) time.Duration { return Never }
}

// IfEmpty expires immediately while isEmpty holds, never otherwise.
func IfEmpty[T any](isEmpty func(T) bool) Policy[T] {
	return func(v T) time.Duration {
		if isEmpty(v) {
			return 0
		}
		return Never
	}
}

// At expires at the absolute instant returned by atFn, evaluated against c.
// A zero time.Time from atFn means "already expired"; Never means "never".
func At[T any](c clock.Clock, atFn func(T) time.Time) Policy[T] {
	return func(v T) time.Duration {
		at := atFn(v)
		switch {
		case at.IsZero():
			return 0
		case isNeverInstant(at):
			return Never
		default:
			d := at.Sub(c.Now())
			if d <= 0 {
				return 0
			}
			return d
		}
	}
}

// After expires duration after loadedAtFn, evaluated against c. duration
// must be > 0. A zero loadedAtFn result means "already expired"; Never
// duration or Never loadedAtFn both mean "never".
func After[T any](c clock.Clock, duration time.Duration, loadedAtFn func(T) time.Time) Policy[T] {
	if duration <= 0 {
		panic("expiration.After: duration must be > 0")
	}
	return func(v T) time.Duration {
		loadedAt := loadedAtFn(v)
		switch {
		case duration == Never:
			return Never
		case loadedAt.IsZero():
			return 0
		case isNeverInstant(loadedAt):
			return Never
		default:
			d := loadedAt.Add(duration).Sub(c.Now())
			if d <= 0 {
				return 0
			}
			return d
		}
	}
}

// IfExpiredCheck re-evaluates isExpired every interval (interval must be
// > 0): it returns 0 once isExpired holds, otherwise interval itself so the
// scheduler re-checks periodically.
func IfExpiredCheck[T any](interval time.Duration, isExpired func(T) bool) Policy[T] {
	if interval <= 0 {
		panic("expiration.IfExpiredCheck: interval must be > 0")
	}
	return func(v T) time.Duration {
		if isExpired(v) {
			return 0
		}
		return interval
	}
}

// neverInstant is what callers should return from an atFn/loadedAtFn to
// signal "never" explicitly, as opposed to the zero time.Time which means
// "already expired". It is a far-future instant (Unix second 1<<62).
var neverInstant = time.Unix(1<<62, 0)

// NeverInstant returns the sentinel instant meaning "never expires".
func NeverInstant() time.Time { return neverInstant }

func isNeverInstant(t time.Time) bool { return t.Equal(neverInstant) }
