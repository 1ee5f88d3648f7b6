package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
)

// Memory is a thread-safe in-memory persistence layer implementing the
// RaffleStore interface. It is intended for tests and single-node
// deployments and deliberately keeps the implementation simple.
type Memory struct {
	mu      sync.RWMutex
	entries []raffle.EntryRecord
	rounds  map[string]raffle.RoundRecord
	order   []string
}

var _ RaffleStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{rounds: make(map[string]raffle.RoundRecord)}
}

func (m *Memory) RecordEntry(_ context.Context, entry raffle.EntryRecord) (raffle.EntryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.EnteredAt.IsZero() {
		entry.EnteredAt = time.Now().UTC()
	}
	m.entries = append(m.entries, entry)
	return entry, nil
}

func (m *Memory) ListEntries(_ context.Context, roundNumber int64, limit int) ([]raffle.EntryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]raffle.EntryRecord, 0, limit)
	for _, entry := range m.entries {
		if roundNumber > 0 && entry.RoundNumber != roundNumber {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) RecordRound(_ context.Context, round raffle.RoundRecord) (raffle.RoundRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if round.ID == "" {
		round.ID = uuid.NewString()
	}
	if round.ResolvedAt.IsZero() {
		round.ResolvedAt = time.Now().UTC()
	}
	m.rounds[round.ID] = round
	m.order = append(m.order, round.ID)
	return round, nil
}

func (m *Memory) GetRound(_ context.Context, id string) (raffle.RoundRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	round, ok := m.rounds[id]
	if !ok {
		return raffle.RoundRecord{}, ErrNotFound
	}
	return round, nil
}

func (m *Memory) ListRounds(_ context.Context, limit int) ([]raffle.RoundRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]raffle.RoundRecord, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, m.rounds[id])
	}
	// Most recent first.
	sort.Slice(result, func(i, j int) bool {
		return result[i].Number > result[j].Number
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) GetStats(_ context.Context) (raffle.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := raffle.Stats{TotalEntries: int64(len(m.entries))}
	var resolvedEntries int64
	for _, round := range m.rounds {
		stats.TotalRounds++
		stats.TotalPaidOut += round.Pot
		if round.Pot > stats.LargestPot {
			stats.LargestPot = round.Pot
		}
		resolvedEntries += int64(round.EntrantCount)
	}
	stats.CurrentEntries = stats.TotalEntries - resolvedEntries
	if stats.CurrentEntries < 0 {
		stats.CurrentEntries = 0
	}
	return stats, nil
}
