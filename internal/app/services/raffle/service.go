// Package raffle implements the recurring raffle round: entries while the
// round is open, time-gated closure through a randomness request, and winner
// selection and payout when the oracle delivers.
package raffle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domainoracle "github.com/R3E-Network/raffle_layer/internal/app/domain/oracle"
	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/events"
	"github.com/R3E-Network/raffle_layer/internal/app/ledger"
	"github.com/R3E-Network/raffle_layer/internal/app/metrics"
	"github.com/R3E-Network/raffle_layer/internal/app/oracle"
	"github.com/R3E-Network/raffle_layer/internal/app/storage"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// Errors
var (
	ErrInsufficientFee  = errors.New("paid amount below entrance fee")
	ErrRoundNotOpen     = errors.New("round is not open")
	ErrStaleElapsedTime = errors.New("round interval has not elapsed")
	ErrUnknownRequest   = errors.New("unknown randomness request")
	ErrTransferFailed   = errors.New("winner payout refused by ledger")
	ErrNoEntrants       = errors.New("randomness delivered with no entrants")
)

// UpkeepNotNeededError rejects a closure attempt and carries the diagnostic
// values observed at rejection time.
type UpkeepNotNeededError struct {
	Balance      int64
	EntrantCount int
	State        domain.State
}

func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("upkeep not needed (balance=%d entrants=%d state=%s)",
		e.Balance, e.EntrantCount, e.State)
}

// upkeepDiagnostics is the opaque payload returned alongside the upkeep
// predicate. Callers treat it as bytes; it exists for interface parity with
// the external trigger.
type upkeepDiagnostics struct {
	State           domain.State `json:"state"`
	Balance         int64        `json:"balance"`
	EntrantCount    int          `json:"entrant_count"`
	IntervalElapsed bool         `json:"interval_elapsed"`
	Needed          bool         `json:"needed"`
}

// Service owns the single round state machine. Every operation runs
// atomically under one mutex, so no partial mutation is ever observable:
// the lock scope stands in for the transactional execution model the payout
// ordering was designed for. Adapters passed in here must never call back
// into the service.
type Service struct {
	cfg       domain.Config
	oracleReq domainoracle.RandomnessRequest

	coordinator oracle.Coordinator
	funds       ledger.Ledger
	store       storage.RaffleStore
	sink        events.Sink
	log         *logger.Logger
	now         func() time.Time

	mu               sync.Mutex
	state            domain.State
	roundNumber      int64
	entrants         []string
	roundStartedAt   time.Time
	recentWinner     string
	pendingRequestID string
}

var _ oracle.Consumer = (*Service)(nil)

// New constructs the raffle service. The entrance fee and interval are fixed
// for the service lifetime; the initial round opens immediately.
func New(cfg domain.Config, oracleReq domainoracle.RandomnessRequest, coordinator oracle.Coordinator, funds ledger.Ledger, store storage.RaffleStore, sink events.Sink, log *logger.Logger) (*Service, error) {
	if cfg.EntranceFee <= 0 {
		return nil, fmt.Errorf("entrance fee must be positive, got %d", cfg.EntranceFee)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", cfg.Interval)
	}
	if coordinator == nil {
		return nil, fmt.Errorf("oracle coordinator required")
	}
	if funds == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if store == nil {
		store = storage.NewMemory()
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	if log == nil {
		log = logger.NewDefault("raffle")
	}

	if oracleReq.Confirmations == 0 {
		oracleReq.Confirmations = domainoracle.DefaultConfirmations
	}
	oracleReq.NumValues = domainoracle.DefaultNumValues

	svc := &Service{
		cfg:         cfg,
		oracleReq:   oracleReq,
		coordinator: coordinator,
		funds:       funds,
		store:       store,
		sink:        sink,
		log:         log,
		now:         time.Now,
		state:       domain.StateOpen,
		roundNumber: 1,
	}
	svc.roundStartedAt = svc.now().UTC()
	return svc, nil
}

// Config returns the immutable raffle parameters.
func (s *Service) Config() domain.Config {
	return s.cfg
}

// Snapshot returns a copy of the current round state.
func (s *Service) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	entrants := make([]string, len(s.entrants))
	copy(entrants, s.entrants)
	return domain.Snapshot{
		State:            s.state,
		RoundNumber:      s.roundNumber,
		EntrantCount:     len(s.entrants),
		Entrants:         entrants,
		RoundStartedAt:   s.roundStartedAt,
		RecentWinner:     s.recentWinner,
		PendingRequestID: s.pendingRequestID,
	}
}

// Enter records a paid entry into the open round. Each accepted entry is a
// distinct slot with equal winning probability; a participant may hold any
// number of slots. The paid amount is retained by the ledger.
func (s *Service) Enter(ctx context.Context, participant string, amountPaid int64) (domain.EntryRecord, error) {
	participant = strings.TrimSpace(participant)
	if participant == "" {
		return domain.EntryRecord{}, fmt.Errorf("participant is required")
	}

	s.mu.Lock()
	if amountPaid < s.cfg.EntranceFee {
		s.mu.Unlock()
		metrics.RecordEntryRejected("insufficient_fee")
		return domain.EntryRecord{}, ErrInsufficientFee
	}
	if s.state != domain.StateOpen {
		s.mu.Unlock()
		metrics.RecordEntryRejected("round_not_open")
		return domain.EntryRecord{}, ErrRoundNotOpen
	}

	s.entrants = append(s.entrants, participant)
	roundNumber := s.roundNumber
	enteredAt := s.now().UTC()

	if err := s.funds.Deposit(ctx, participant, amountPaid); err != nil {
		// The slot only exists if the ledger retained the fee.
		s.entrants = s.entrants[:len(s.entrants)-1]
		s.mu.Unlock()
		return domain.EntryRecord{}, fmt.Errorf("retain entry fee: %w", err)
	}
	s.mu.Unlock()

	entry := domain.EntryRecord{
		RoundNumber: roundNumber,
		Participant: participant,
		AmountPaid:  amountPaid,
		EnteredAt:   enteredAt,
	}
	recorded, err := s.store.RecordEntry(ctx, entry)
	if err != nil {
		s.log.WithError(err).Warn("record entry failed")
		recorded = entry
	}

	metrics.RecordEntryAccepted()
	s.sink.Publish(events.Event{
		Type:        events.TypeEntryAccepted,
		Participant: participant,
		RoundNumber: roundNumber,
		Amount:      amountPaid,
		At:          enteredAt,
	})
	s.log.WithField("participant", participant).
		WithField("round", roundNumber).
		Info("entry accepted")

	return recorded, nil
}

// IsUpkeepNeeded reports whether the round is eligible to close: the round
// is open, the interval has elapsed, the ledger pool is funded, and at least
// one entrant exists. Read-only; callable at any cadence.
func (s *Service) IsUpkeepNeeded(ctx context.Context) (bool, []byte, error) {
	balance, err := s.funds.Balance(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("read ledger balance: %w", err)
	}

	s.mu.Lock()
	diag := upkeepDiagnostics{
		State:           s.state,
		Balance:         balance,
		EntrantCount:    len(s.entrants),
		IntervalElapsed: s.now().Sub(s.roundStartedAt) >= s.cfg.Interval,
	}
	s.mu.Unlock()

	diag.Needed = diag.State == domain.StateOpen &&
		diag.IntervalElapsed &&
		diag.Balance > 0 &&
		diag.EntrantCount > 0

	payload, err := json.Marshal(diag)
	if err != nil {
		return false, nil, fmt.Errorf("encode upkeep diagnostics: %w", err)
	}
	return diag.Needed, payload, nil
}

// PerformUpkeep closes the open round and requests randomness. Eligibility
// is re-evaluated here because the trigger's observation may be stale by the
// time the call executes. The CALCULATING transition is committed before the
// oracle request is issued, so concurrent closure or entry attempts are
// rejected for the whole pending-randomness window. Coordinators deliver
// asynchronously, never from inside RequestRandomness.
func (s *Service) PerformUpkeep(ctx context.Context) (string, error) {
	balance, err := s.funds.Balance(ctx)
	if err != nil {
		return "", fmt.Errorf("read ledger balance: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.StateOpen ||
		s.now().Sub(s.roundStartedAt) < s.cfg.Interval ||
		balance <= 0 ||
		len(s.entrants) == 0 {
		return "", &UpkeepNotNeededError{
			Balance:      balance,
			EntrantCount: len(s.entrants),
			State:        s.state,
		}
	}

	// Re-checked on its own so insufficient elapsed time is always rejected
	// even if another path ever bypasses the composite predicate.
	if s.now().Sub(s.roundStartedAt) < s.cfg.Interval {
		return "", ErrStaleElapsedTime
	}

	s.state = domain.StateCalculating

	requestID, err := s.coordinator.RequestRandomness(ctx, s.oracleReq)
	if err != nil {
		// No request is in flight, so the round reopens.
		s.state = domain.StateOpen
		return "", fmt.Errorf("request randomness: %w", err)
	}
	s.pendingRequestID = requestID

	metrics.RecordRoundClosed()
	s.log.WithField("round", s.roundNumber).
		WithField("request_id", requestID).
		WithField("entrants", len(s.entrants)).
		Info("round closed, randomness requested")

	return requestID, nil
}

// FulfillRandomness is the oracle delivery callback. It selects the winner
// with values[0] mod entrant count, resets the round, and pays the full
// pooled balance to the winner. State is reset before the transfer; if the
// ledger refuses the payout every mutation made here is rolled back, so a
// failed payout never leaves the round silently reopened.
func (s *Service) FulfillRandomness(ctx context.Context, requestID string, values []uint64) error {
	_, err := s.fulfill(ctx, requestID, values)
	return err
}

// Resolve is FulfillRandomness returning the recorded round, used by the
// HTTP delivery route.
func (s *Service) Resolve(ctx context.Context, requestID string, values []uint64) (domain.RoundRecord, error) {
	return s.fulfill(ctx, requestID, values)
}

func (s *Service) fulfill(ctx context.Context, requestID string, values []uint64) (domain.RoundRecord, error) {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.StateCalculating || requestID == "" || requestID != s.pendingRequestID {
		return domain.RoundRecord{}, ErrUnknownRequest
	}
	if len(values) == 0 {
		return domain.RoundRecord{}, fmt.Errorf("empty randomness delivery for request %s", requestID)
	}
	if len(s.entrants) == 0 {
		// Unreachable while closure is gated on a non-empty entrant list.
		return domain.RoundRecord{}, ErrNoEntrants
	}

	balance, err := s.funds.Balance(ctx)
	if err != nil {
		return domain.RoundRecord{}, fmt.Errorf("read ledger balance: %w", err)
	}

	winnerIndex := int(values[0] % uint64(len(s.entrants)))
	winner := s.entrants[winnerIndex]

	prev := roundState{
		state:            s.state,
		roundNumber:      s.roundNumber,
		entrants:         s.entrants,
		roundStartedAt:   s.roundStartedAt,
		recentWinner:     s.recentWinner,
		pendingRequestID: s.pendingRequestID,
	}

	// Effects before the transfer. The unsigned modulo makes the same
	// delivery produce the same winner regardless of timing; the slight
	// selection bias when the entrant count does not divide 2^64 is an
	// accepted property of the design.
	resolvedAt := s.now().UTC()
	s.recentWinner = winner
	s.state = domain.StateOpen
	s.entrants = nil
	s.roundStartedAt = resolvedAt
	s.pendingRequestID = ""
	s.roundNumber = prev.roundNumber + 1

	ok, err := s.funds.Transfer(ctx, winner, balance)
	if err != nil || !ok {
		s.restore(prev)
		metrics.RecordPayoutFailure()
		if err != nil {
			s.log.WithError(err).WithField("winner", winner).Error("winner payout errored")
			return domain.RoundRecord{}, fmt.Errorf("winner payout: %w", err)
		}
		s.log.WithField("winner", winner).Error("winner payout refused")
		return domain.RoundRecord{}, ErrTransferFailed
	}

	record := domain.RoundRecord{
		Number:       prev.roundNumber,
		Winner:       winner,
		WinnerIndex:  winnerIndex,
		EntrantCount: len(prev.entrants),
		Pot:          balance,
		RandomValue:  values[0],
		RequestID:    requestID,
		StartedAt:    prev.roundStartedAt,
		ResolvedAt:   resolvedAt,
	}
	recorded, err := s.store.RecordRound(ctx, record)
	if err != nil {
		s.log.WithError(err).Warn("record resolved round failed")
		recorded = record
	}

	// Published after the transfer: in-process events cannot be unwound, so
	// deferring publication keeps the observable outcome all-or-nothing.
	s.sink.Publish(events.Event{
		Type:        events.TypeWinnerPicked,
		Winner:      winner,
		RoundNumber: prev.roundNumber,
		Amount:      balance,
		At:          resolvedAt,
	})

	metrics.RecordRoundResolved(time.Since(start))
	s.log.WithField("round", prev.roundNumber).
		WithField("winner", winner).
		WithField("pot", balance).
		Info("winner picked")

	return recorded, nil
}

// roundState captures every field fulfill mutates so a refused payout can
// restore the round exactly as it was at resolution start.
type roundState struct {
	state            domain.State
	roundNumber      int64
	entrants         []string
	roundStartedAt   time.Time
	recentWinner     string
	pendingRequestID string
}

func (s *Service) restore(prev roundState) {
	s.state = prev.state
	s.roundNumber = prev.roundNumber
	s.entrants = prev.entrants
	s.roundStartedAt = prev.roundStartedAt
	s.recentWinner = prev.recentWinner
	s.pendingRequestID = prev.pendingRequestID
}
