package raffle

import (
	"context"
	"fmt"
	"sync"

	domainoracle "github.com/R3E-Network/raffle_layer/internal/app/domain/oracle"
	"github.com/R3E-Network/raffle_layer/internal/app/ledger"
)

// StubCoordinator accepts randomness requests and assigns sequential request
// IDs without ever delivering. Tests drive delivery explicitly through the
// service callback.
type StubCoordinator struct {
	mu       sync.Mutex
	requests []domainoracle.RandomnessRequest
	nextID   int
	err      error
}

// NewStubCoordinator creates an empty stub.
func NewStubCoordinator() *StubCoordinator {
	return &StubCoordinator{}
}

// FailWith makes subsequent requests return err.
func (c *StubCoordinator) FailWith(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *StubCoordinator) RequestRandomness(_ context.Context, req domainoracle.RandomnessRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	c.nextID++
	c.requests = append(c.requests, req)
	return fmt.Sprintf("req-%d", c.nextID), nil
}

// Requests returns a copy of all accepted requests.
func (c *StubCoordinator) Requests() []domainoracle.RandomnessRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domainoracle.RandomnessRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// FlakyLedger wraps a ledger and refuses transfers while tripped, simulating
// a payout the ledger reports as failed.
type FlakyLedger struct {
	ledger.Ledger

	mu          sync.Mutex
	refuse      bool
	transferErr error
}

// NewFlakyLedger wraps the given ledger.
func NewFlakyLedger(inner ledger.Ledger) *FlakyLedger {
	return &FlakyLedger{Ledger: inner}
}

// RefuseTransfers toggles refusal of all transfers (ok=false, no error).
func (l *FlakyLedger) RefuseTransfers(refuse bool) {
	l.mu.Lock()
	l.refuse = refuse
	l.mu.Unlock()
}

// ErrorTransfers makes transfers return the given transport error.
func (l *FlakyLedger) ErrorTransfers(err error) {
	l.mu.Lock()
	l.transferErr = err
	l.mu.Unlock()
}

func (l *FlakyLedger) Transfer(ctx context.Context, to string, amount int64) (bool, error) {
	l.mu.Lock()
	refuse, transferErr := l.refuse, l.transferErr
	l.mu.Unlock()
	if transferErr != nil {
		return false, transferErr
	}
	if refuse {
		return false, nil
	}
	return l.Ledger.Transfer(ctx, to, amount)
}
