// Package replicainflow implements contract.CacheStream and
// contract.CacheWriter on a Redis stream, the way the example pack's
// redis_stream package replicates ticket-cache updates across
// processes over a redigo connection pool with XADD/XREAD.
package replicainflow

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/gomodule/redigo/redis"

	"github.com/alexvasilkov/inflow-go/contrib/codec"
	"github.com/alexvasilkov/inflow-go/core/contract"
)

const payloadField = "payload"

// PoolConfig configures NewPool's connection pool, mirroring the
// bounded-pool shape (MaxIdle/MaxActive/IdleTimeout) the example pack's
// read/write Redis pools use.
type PoolConfig struct {
	Addr                string
	MaxIdle, MaxActive  int
	IdleTimeout         time.Duration
	DialBackoffMaxTries uint64
}

// NewPool dials addr through a redigo pool whose Dial func retries with
// an exponential backoff, so a Redis restart during process startup
// doesn't fail every caller waiting on the pool at once.
func NewPool(cfg PoolConfig) *redis.Pool {
	maxIdle, maxActive, idleTimeout := cfg.MaxIdle, cfg.MaxActive, cfg.IdleTimeout
	if maxIdle <= 0 {
		maxIdle = 4
	}
	if maxActive <= 0 {
		maxActive = 16
	}
	if idleTimeout <= 0 {
		idleTimeout = 2 * time.Minute
	}

	return &redis.Pool{
		MaxIdle:     maxIdle,
		MaxActive:   maxActive,
		IdleTimeout: idleTimeout,
		TestOnBorrow: func(c redis.Conn, lastUsed time.Time) error {
			if time.Since(lastUsed) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
		Dial: func() (redis.Conn, error) {
			if cfg.DialBackoffMaxTries == 0 {
				return redis.Dial("tcp", cfg.Addr)
			}

			boff := backoff.NewExponentialBackOff()
			boff.InitialInterval = 50 * time.Millisecond
			boff.MaxInterval = 2 * time.Second
			bounded := backoff.WithMaxRetries(boff, cfg.DialBackoffMaxTries)

			var conn redis.Conn
			err := backoff.Retry(func() error {
				c, dialErr := redis.Dial("tcp", cfg.Addr)
				if dialErr != nil {
					return dialErr
				}
				conn = c
				return nil
			}, bounded)
			return conn, err
		},
	}
}

// Replica is a contract.CacheStream[T]/contract.CacheWriter[T] backed
// by a single Redis stream key: every Write appends an entry, and every
// Subscribe tails new entries from the moment it attaches, the way the
// example pack's outgoing/incoming replication queues exchange ticket
// updates without a central broadcaster.
type Replica[T any] struct {
	Pool   *redis.Pool
	Stream string
	Codec  codec.Codec

	mu        sync.RWMutex
	latest    T
	hasLatest bool
}

// Write appends value to Stream as a new entry.
func (r *Replica[T]) Write(ctx context.Context, value T) error {
	payload, err := r.Codec.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "replicainflow: encode")
	}

	conn, err := r.Pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, "replicainflow: get conn")
	}
	defer conn.Close()

	if _, err := conn.Do("XADD", r.Stream, "*", payloadField, payload); err != nil {
		return errors.Wrap(err, "replicainflow: xadd")
	}

	r.mu.Lock()
	r.latest, r.hasLatest = value, true
	r.mu.Unlock()
	return nil
}

// Subscribe emits the latest locally observed value (the zero value on
// a cold start), then blocks reading new stream entries and emitting
// each decoded payload until ctx is cancelled.
func (r *Replica[T]) Subscribe(ctx context.Context, emit func(T) error) error {
	r.mu.RLock()
	initial, hasInitial := r.latest, r.hasLatest
	r.mu.RUnlock()
	if hasInitial {
		if err := emit(initial); err != nil {
			return err
		}
	} else {
		var zero T
		if err := emit(zero); err != nil {
			return err
		}
	}

	lastID := "$"
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		entries, nextID, err := r.readNext(ctx, lastID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		lastID = nextID
		for _, payload := range entries {
			var v T
			if err := r.Codec.Unmarshal(payload, &v); err != nil {
				return errors.Wrap(err, "replicainflow: decode entry")
			}
			r.mu.Lock()
			r.latest, r.hasLatest = v, true
			r.mu.Unlock()
			if err := emit(v); err != nil {
				return err
			}
		}
	}
}

// readNext blocks for up to a second waiting for new entries after
// afterID, returning their payloads in order and the new cursor to
// resume from.
func (r *Replica[T]) readNext(ctx context.Context, afterID string) ([][]byte, string, error) {
	conn, err := r.Pool.GetContext(ctx)
	if err != nil {
		return nil, afterID, errors.Wrap(err, "replicainflow: get conn")
	}
	defer conn.Close()

	reply, err := redis.Values(conn.Do("XREAD", "BLOCK", 1000, "STREAMS", r.Stream, afterID))
	if errors.Is(err, redis.ErrNil) {
		return nil, afterID, nil
	}
	if err != nil {
		return nil, afterID, errors.Wrap(err, "replicainflow: xread")
	}
	if len(reply) == 0 {
		return nil, afterID, nil
	}

	streamReply, err := redis.Values(reply[0], nil)
	if err != nil || len(streamReply) != 2 {
		return nil, afterID, errors.Wrap(err, "replicainflow: malformed XREAD reply")
	}
	entries, err := redis.Values(streamReply[1], nil)
	if err != nil {
		return nil, afterID, errors.Wrap(err, "replicainflow: malformed entries")
	}

	payloads := make([][]byte, 0, len(entries))
	nextID := afterID
	for _, e := range entries {
		entry, err := redis.Values(e, nil)
		if err != nil || len(entry) != 2 {
			return nil, afterID, errors.Wrap(err, "replicainflow: malformed entry")
		}
		id, err := redis.String(entry[0], nil)
		if err != nil {
			return nil, afterID, err
		}
		nextID = id

		fields, err := redis.StringMap(entry[1], nil)
		if err != nil {
			return nil, afterID, err
		}
		payloads = append(payloads, []byte(fields[payloadField]))
	}
	return payloads, nextID, nil
}

var (
	_ contract.CacheStream[int] = (*Replica[int])(nil)
	_ contract.CacheWriter[int] = (*Replica[int])(nil)
)
