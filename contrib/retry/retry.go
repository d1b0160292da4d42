// Package retry adapts cenkalti/backoff/v5 retry policies and
// sourcegraph/conc bounded concurrency onto contract.Loader, for
// callers whose remote source is flaky enough that a single failed
// loader call shouldn't surface all the way to an Inflow's observers.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/alexvasilkov/inflow-go/core/contract"
)

// Policy configures RetryingLoader's backoff schedule.
type Policy struct {
	InitialInterval     time.Duration
	RandomizationFactor float64
	Multiplier          float64
	MaxTries            uint
}

// DefaultPolicy mirrors a conservative exponential backoff: a half
// second starting interval, 50% jitter, doubling each attempt, capped
// at 5 tries.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval:     500 * time.Millisecond,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxTries:            5,
	}
}

// RetryingLoader wraps an upstream contract.Loader, retrying a failed
// Load call per Policy before giving up with the last observed error.
type RetryingLoader[T any] struct {
	Upstream contract.Loader[T]
	Policy   Policy
}

// Load implements contract.Loader.
func (r RetryingLoader[T]) Load(ctx context.Context, tracker contract.Tracker) (T, error) {
	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = r.Policy.InitialInterval
	boff.RandomizationFactor = r.Policy.RandomizationFactor
	boff.Multiplier = r.Policy.Multiplier

	opts := []backoff.RetryOption{backoff.WithBackOff(boff)}
	if r.Policy.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(r.Policy.MaxTries))
	}

	return backoff.Retry(ctx, func() (T, error) {
		return r.Upstream.Load(ctx, tracker)
	}, opts...)
}

// JitterDuration spreads d by +/- pct (0..1), so that many instances
// scheduled to retry at the same instant don't all hit the remote
// source in lockstep.
func JitterDuration(d time.Duration, pct float64) time.Duration {
	if pct <= 0 {
		return d
	}
	delta := int64(float64(d) * pct)
	if delta <= 0 {
		return d
	}
	offset := rand.Int63n(2*delta+1) - delta
	return d + time.Duration(offset)
}
