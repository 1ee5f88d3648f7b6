package ledger

import (
	"context"
	"fmt"
	"sync"
)

// Memory is a thread-safe in-memory ledger. It backs local deployments and
// tests; production deployments substitute a chain-backed implementation.
type Memory struct {
	mu       sync.Mutex
	pool     int64
	accounts map[string]int64
}

var _ Ledger = (*Memory)(nil)

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{accounts: make(map[string]int64)}
}

func (m *Memory) Balance(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool, nil
}

func (m *Memory) Deposit(_ context.Context, from string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit amount must be positive, got %d", amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pool += amount
	return nil
}

func (m *Memory) Transfer(_ context.Context, to string, amount int64) (bool, error) {
	if to == "" {
		return false, fmt.Errorf("transfer recipient required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if amount < 0 || amount > m.pool {
		return false, nil
	}
	m.pool -= amount
	m.accounts[to] += amount
	return true, nil
}

// AccountBalance reports the amount paid out to a recipient so far.
func (m *Memory) AccountBalance(to string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[to]
}
