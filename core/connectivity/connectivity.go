// Package connectivity offers small constructors for the
// contract.Connectivity signal of spec §2 component 2, on top of which
// the scheduler (spec §4.5) builds its "initial emission plus rising
// edges" trigger.
package connectivity

import (
	"context"

	"github.com/alexvasilkov/inflow-go/core/contract"
)

// Static reports a fixed, never-changing connectivity state. Useful in
// tests or single-process deployments with no real network boundary.
func Static(connected bool) contract.Connectivity {
	return contract.ConnectivityFunc(func(ctx context.Context, emit func(bool)) error {
		emit(connected)
		<-ctx.Done()
		return ctx.Err()
	})
}

// FromChannel adapts a channel of connectivity reports (as produced by,
// e.g., a platform network-reachability callback) into a
// contract.Connectivity. The channel's first available value becomes the
// "initial emission"; it is safe for ch to be nil (no events, ever
// connected, matching contract.AlwaysConnected).
func FromChannel(ch <-chan bool, initiallyConnected bool) contract.Connectivity {
	return contract.ConnectivityFunc(func(ctx context.Context, emit func(bool)) error {
		emit(initiallyConnected)
		if ch == nil {
			<-ctx.Done()
			return ctx.Err()
		}
		for {
			select {
			case v, ok := <-ch:
				if !ok {
					<-ctx.Done()
					return ctx.Err()
				}
				emit(v)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}
