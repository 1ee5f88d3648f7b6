// Package oracle provides adapters for the external randomness oracle. The
// raffle issues a request and receives the produced value later through an
// asynchronous delivery; nothing in this package blocks on the oracle.
package oracle

import (
	"context"

	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/oracle"
)

// Coordinator accepts randomness requests. Implementations must not invoke
// the consumer callback synchronously from RequestRandomness; delivery always
// happens on a separate goroutine or through the HTTP delivery route.
type Coordinator interface {
	// RequestRandomness submits a request and returns the oracle-assigned
	// request identifier used to correlate the later delivery.
	RequestRandomness(ctx context.Context, req domain.RandomnessRequest) (string, error)
}

// Consumer receives asynchronous randomness deliveries.
type Consumer interface {
	FulfillRandomness(ctx context.Context, requestID string, values []uint64) error
}
