// Package raffle defines the domain model for the recurring raffle.
package raffle

import "time"

// State is the lifecycle state of the current round.
type State string

const (
	// StateOpen accepts new entries.
	StateOpen State = "open"
	// StateCalculating means randomness has been requested and the round is
	// closed until the oracle delivers.
	StateCalculating State = "calculating"
)

// Config holds the immutable raffle parameters fixed at construction.
type Config struct {
	// EntranceFee is the minimum amount a participant must pay per entry,
	// in the ledger's smallest unit.
	EntranceFee int64 `yaml:"entrance_fee"`
	// Interval is the minimum round duration before the round may close.
	Interval time.Duration `yaml:"interval"`
}

// Snapshot is a read-only view of the round state.
type Snapshot struct {
	State            State     `json:"state"`
	RoundNumber      int64     `json:"round_number"`
	EntrantCount     int       `json:"entrant_count"`
	Entrants         []string  `json:"entrants,omitempty"`
	RoundStartedAt   time.Time `json:"round_started_at"`
	RecentWinner     string    `json:"recent_winner,omitempty"`
	PendingRequestID string    `json:"pending_request_id,omitempty"`
}

// EntryRecord is the audit record of an accepted entry.
type EntryRecord struct {
	ID          string    `json:"id"`
	RoundNumber int64     `json:"round_number"`
	Participant string    `json:"participant"`
	AmountPaid  int64     `json:"amount_paid"`
	EnteredAt   time.Time `json:"entered_at"`
}

// RoundRecord is the audit record of a resolved round.
type RoundRecord struct {
	ID           string    `json:"id"`
	Number       int64     `json:"number"`
	Winner       string    `json:"winner"`
	WinnerIndex  int       `json:"winner_index"`
	EntrantCount int       `json:"entrant_count"`
	Pot          int64     `json:"pot"`
	RandomValue  uint64    `json:"random_value"`
	RequestID    string    `json:"request_id"`
	StartedAt    time.Time `json:"started_at"`
	ResolvedAt   time.Time `json:"resolved_at"`
}

// Stats aggregates lifetime raffle figures from the audit store.
type Stats struct {
	TotalEntries   int64 `json:"total_entries"`
	TotalRounds    int64 `json:"total_rounds"`
	TotalPaidOut   int64 `json:"total_paid_out"`
	LargestPot     int64 `json:"largest_pot"`
	CurrentEntries int64 `json:"current_entries"`
}
