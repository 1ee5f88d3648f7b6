// Package postgres implements the raffle audit store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/storage"
)

// Store implements storage.RaffleStore backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.RaffleStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type entryRow struct {
	ID          string    `db:"id"`
	RoundNumber int64     `db:"round_number"`
	Participant string    `db:"participant"`
	AmountPaid  int64     `db:"amount_paid"`
	EnteredAt   time.Time `db:"entered_at"`
}

type roundRow struct {
	ID           string    `db:"id"`
	Number       int64     `db:"number"`
	Winner       string    `db:"winner"`
	WinnerIndex  int       `db:"winner_index"`
	EntrantCount int       `db:"entrant_count"`
	Pot          int64     `db:"pot"`
	RandomValue  string    `db:"random_value"`
	RequestID    string    `db:"request_id"`
	StartedAt    time.Time `db:"started_at"`
	ResolvedAt   time.Time `db:"resolved_at"`
}

func (r roundRow) toDomain() raffle.RoundRecord {
	value, _ := strconv.ParseUint(r.RandomValue, 10, 64)
	return raffle.RoundRecord{
		ID:           r.ID,
		Number:       r.Number,
		Winner:       r.Winner,
		WinnerIndex:  r.WinnerIndex,
		EntrantCount: r.EntrantCount,
		Pot:          r.Pot,
		RandomValue:  value,
		RequestID:    r.RequestID,
		StartedAt:    r.StartedAt,
		ResolvedAt:   r.ResolvedAt,
	}
}

func (s *Store) RecordEntry(ctx context.Context, entry raffle.EntryRecord) (raffle.EntryRecord, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.EnteredAt.IsZero() {
		entry.EnteredAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raffle_entries (id, round_number, participant, amount_paid, entered_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.ID, entry.RoundNumber, entry.Participant, entry.AmountPaid, entry.EnteredAt)
	if err != nil {
		return raffle.EntryRecord{}, err
	}
	return entry, nil
}

func (s *Store) ListEntries(ctx context.Context, roundNumber int64, limit int) ([]raffle.EntryRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []entryRow
	var err error
	if roundNumber > 0 {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT id, round_number, participant, amount_paid, entered_at
			FROM raffle_entries
			WHERE round_number = $1
			ORDER BY entered_at
			LIMIT $2
		`, roundNumber, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT id, round_number, participant, amount_paid, entered_at
			FROM raffle_entries
			ORDER BY entered_at
			LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, err
	}

	entries := make([]raffle.EntryRecord, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, raffle.EntryRecord(row))
	}
	return entries, nil
}

func (s *Store) RecordRound(ctx context.Context, round raffle.RoundRecord) (raffle.RoundRecord, error) {
	if round.ID == "" {
		round.ID = uuid.NewString()
	}
	if round.ResolvedAt.IsZero() {
		round.ResolvedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raffle_rounds (id, number, winner, winner_index, entrant_count, pot, random_value, request_id, started_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, round.ID, round.Number, round.Winner, round.WinnerIndex, round.EntrantCount,
		round.Pot, strconv.FormatUint(round.RandomValue, 10), round.RequestID,
		round.StartedAt, round.ResolvedAt)
	if err != nil {
		return raffle.RoundRecord{}, err
	}
	return round, nil
}

func (s *Store) GetRound(ctx context.Context, id string) (raffle.RoundRecord, error) {
	var row roundRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, number, winner, winner_index, entrant_count, pot, random_value, request_id, started_at, resolved_at
		FROM raffle_rounds
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return raffle.RoundRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return raffle.RoundRecord{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListRounds(ctx context.Context, limit int) ([]raffle.RoundRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []roundRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, number, winner, winner_index, entrant_count, pot, random_value, request_id, started_at, resolved_at
		FROM raffle_rounds
		ORDER BY number DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}

	rounds := make([]raffle.RoundRecord, 0, len(rows))
	for _, row := range rows {
		rounds = append(rounds, row.toDomain())
	}
	return rounds, nil
}

func (s *Store) GetStats(ctx context.Context) (raffle.Stats, error) {
	var stats raffle.Stats

	err := s.db.GetContext(ctx, &stats.TotalEntries, `SELECT COUNT(*) FROM raffle_entries`)
	if err != nil {
		return raffle.Stats{}, err
	}

	row := s.db.QueryRowxContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(pot), 0), COALESCE(MAX(pot), 0), COALESCE(SUM(entrant_count), 0)
		FROM raffle_rounds
	`)
	var resolvedEntries int64
	if err := row.Scan(&stats.TotalRounds, &stats.TotalPaidOut, &stats.LargestPot, &resolvedEntries); err != nil {
		return raffle.Stats{}, err
	}

	stats.CurrentEntries = stats.TotalEntries - resolvedEntries
	if stats.CurrentEntries < 0 {
		stats.CurrentEntries = 0
	}
	return stats, nil
}
