package expiration_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alexvasilkov/inflow-go/core/clock"
	"github.com/alexvasilkov/inflow-go/core/expiration"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time                        { return f.now }
func (f *fakeClock) After(time.Duration) <-chan time.Time   { panic("unused") }
func (f *fakeClock) NewTimer(time.Duration) clock.Timer     { panic("unused") }

func TestIfEmpty(t *testing.T) {
	p := expiration.IfEmpty(func(v string) bool { return v == "" })
	assert.Equal(t, time.Duration(0), p(""))
	assert.Equal(t, expiration.Never, p("x"))
}

func TestAt(t *testing.T) {
	c := &fakeClock{now: time.Unix(1000, 0)}
	p := expiration.At[time.Time](c, func(v time.Time) time.Time { return v })

	assert.Equal(t, time.Duration(0), p(time.Time{}))
	assert.Equal(t, expiration.Never, p(expiration.NeverInstant()))
	assert.Equal(t, 10*time.Second, p(time.Unix(1010, 0)))
	assert.Equal(t, time.Duration(0), p(time.Unix(990, 0)))
}

func TestAfter(t *testing.T) {
	c := &fakeClock{now: time.Unix(1000, 0)}
	type entry struct{ loadedAt time.Time }
	p := expiration.After[entry](c, 50*time.Second, func(e entry) time.Time { return e.loadedAt })

	assert.Equal(t, time.Duration(0), p(entry{}))
	assert.Equal(t, 40*time.Second, p(entry{loadedAt: time.Unix(990, 0)}))
	assert.Equal(t, time.Duration(0), p(entry{loadedAt: time.Unix(900, 0)}))
}

func TestIfExpiredCheck(t *testing.T) {
	p := expiration.IfExpiredCheck(5*time.Second, func(v bool) bool { return v })
	assert.Equal(t, time.Duration(0), p(true))
	assert.Equal(t, 5*time.Second, p(false))
}
