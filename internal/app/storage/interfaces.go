package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RaffleStore persists the raffle audit trail. The authoritative round state
// lives in memory inside the raffle service; the store is append-only
// history used for queries and reporting.
type RaffleStore interface {
	// Entry records
	RecordEntry(ctx context.Context, entry raffle.EntryRecord) (raffle.EntryRecord, error)
	ListEntries(ctx context.Context, roundNumber int64, limit int) ([]raffle.EntryRecord, error)

	// Resolved round records
	RecordRound(ctx context.Context, round raffle.RoundRecord) (raffle.RoundRecord, error)
	GetRound(ctx context.Context, id string) (raffle.RoundRecord, error)
	ListRounds(ctx context.Context, limit int) ([]raffle.RoundRecord, error)

	// Aggregates
	GetStats(ctx context.Context) (raffle.Stats, error)
}
