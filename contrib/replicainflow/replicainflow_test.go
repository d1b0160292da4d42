package replicainflow_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexvasilkov/inflow-go/contrib/codec"
	"github.com/alexvasilkov/inflow-go/contrib/replicainflow"
)

// requireLocalRedis skips when no Redis instance answers on localhost.
func requireLocalRedis(t *testing.T) *redis.Pool {
	t.Helper()
	pool := replicainflow.NewPool(replicainflow.PoolConfig{Addr: "localhost:6379"})
	conn, err := pool.GetContext(context.Background())
	if err != nil {
		t.Skipf("no local redis available: %v", err)
	}
	_ = conn.Close()
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func TestReplica_WriteThenSubscribeTailsNewEntries(t *testing.T) {
	pool := requireLocalRedis(t)
	stream := fmt.Sprintf("inflow-test:replica:%d", time.Now().UnixNano())

	conn, err := pool.GetContext(context.Background())
	require.NoError(t, err)
	_, _ = conn.Do("DEL", stream)
	_ = conn.Close()

	replica := &replicainflow.Replica[string]{Pool: pool, Stream: stream, Codec: codec.JSON{}}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	received := make(chan string, 4)
	go func() {
		_ = replica.Subscribe(ctx, func(v string) error {
			received <- v
			return nil
		})
	}()

	// First emission is the zero value: nothing written yet.
	assert.Equal(t, "", <-received)

	require.NoError(t, replica.Write(context.Background(), "hello"))
	assert.Equal(t, "hello", <-received)
}
