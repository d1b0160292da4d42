package invalidate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexvasilkov/inflow-go/core/clock"
	"github.com/alexvasilkov/inflow-go/core/contract"
	"github.com/alexvasilkov/inflow-go/core/expiration"
	"github.com/alexvasilkov/inflow-go/core/invalidate"
)

func TestGate_SubstitutesEmptyOnExpiry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	upstream := contract.CacheStreamFunc[string](func(ctx context.Context, emit func(string) error) error {
		if err := emit("fresh"); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	})

	loadedAt := time.Now()
	gate := &invalidate.Gate[string]{
		Upstream:   upstream,
		Policy:     expiration.After[string](clock.Real, 50*time.Millisecond, func(string) time.Time { return loadedAt }),
		EmptyValue: "",
	}

	var got []string
	done := make(chan struct{})
	go func() {
		_ = gate.Subscribe(ctx, func(v string) error {
			got = append(got, v)
			if len(got) == 2 {
				close(done)
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected empty substitution after expiry")
	}

	require.Len(t, got, 2)
	assert.Equal(t, "fresh", got[0])
	assert.Equal(t, "", got[1])
}
