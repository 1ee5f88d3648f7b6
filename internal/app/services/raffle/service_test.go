package raffle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domainoracle "github.com/R3E-Network/raffle_layer/internal/app/domain/oracle"
	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/events"
	"github.com/R3E-Network/raffle_layer/internal/app/ledger"
	"github.com/R3E-Network/raffle_layer/internal/app/storage"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
	// queue, when non-empty, overrides t one call at a time.
	queue []time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		return next
	}
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testFixture struct {
	svc   *Service
	coord *StubCoordinator
	funds *FlakyLedger
	pool  *ledger.Memory
	clock *fakeClock
	store *storage.Memory
	bus   *events.Bus
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()

	coord := NewStubCoordinator()
	pool := ledger.NewMemory()
	funds := NewFlakyLedger(pool)
	store := storage.NewMemory()
	bus := events.NewBus()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}

	svc, err := New(
		domain.Config{EntranceFee: 10, Interval: time.Minute},
		domainoracle.RandomnessRequest{KeyID: "key-1", SubscriptionID: "sub-1", CallbackGasLimit: 100_000},
		coord, funds, store, bus, logger.NewDefault("raffle-test"),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.now = clock.Now
	svc.roundStartedAt = clock.Now().UTC()

	return &testFixture{svc: svc, coord: coord, funds: funds, pool: pool, clock: clock, store: store, bus: bus}
}

// close moves the fixture's round into CALCULATING and returns the request ID.
func (f *testFixture) close(t *testing.T) string {
	t.Helper()
	f.clock.Advance(time.Minute)
	requestID, err := f.svc.PerformUpkeep(context.Background())
	if err != nil {
		t.Fatalf("perform upkeep: %v", err)
	}
	return requestID
}

func TestEnterAcceptsPaidEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	entry, err := f.svc.Enter(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if entry.Participant != "alice" || entry.RoundNumber != 1 {
		t.Fatalf("unexpected entry %+v", entry)
	}

	// Overpayment is retained, and the same participant may hold several slots.
	if _, err := f.svc.Enter(ctx, "bob", 25); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := f.svc.Enter(ctx, "alice", 10); err != nil {
		t.Fatalf("enter: %v", err)
	}

	snap := f.svc.Snapshot()
	if snap.EntrantCount != 3 {
		t.Fatalf("expected 3 entrant slots, got %d", snap.EntrantCount)
	}
	want := []string{"alice", "bob", "alice"}
	for i, p := range want {
		if snap.Entrants[i] != p {
			t.Fatalf("slot %d = %s, expected %s (insertion order must hold)", i, snap.Entrants[i], p)
		}
	}

	bal, _ := f.funds.Balance(ctx)
	if bal != 45 {
		t.Fatalf("ledger should retain 45, got %d", bal)
	}
}

func TestEnterRejectsUnderpayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.svc.Enter(ctx, "alice", 9); !errors.Is(err, ErrInsufficientFee) {
		t.Fatalf("expected ErrInsufficientFee, got %v", err)
	}

	snap := f.svc.Snapshot()
	if snap.EntrantCount != 0 {
		t.Fatalf("rejected entry must not change state, got %d entrants", snap.EntrantCount)
	}
	bal, _ := f.funds.Balance(ctx)
	if bal != 0 {
		t.Fatalf("rejected entry must not be retained, balance %d", bal)
	}
}

func TestEnterRejectsWhileCalculating(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.svc.Enter(ctx, "alice", 10); err != nil {
		t.Fatalf("enter: %v", err)
	}
	f.close(t)

	if _, err := f.svc.Enter(ctx, "bob", 10); !errors.Is(err, ErrRoundNotOpen) {
		t.Fatalf("expected ErrRoundNotOpen, got %v", err)
	}
	if got := f.svc.Snapshot().EntrantCount; got != 1 {
		t.Fatalf("expected 1 entrant, got %d", got)
	}
}

// TestUpkeepPredicateMatrix exercises all 16 combinations of the four
// closure predicates and checks both the evaluator and that PerformUpkeep
// never succeeds when the evaluator says no.
func TestUpkeepPredicateMatrix(t *testing.T) {
	ctx := context.Background()

	for mask := 0; mask < 16; mask++ {
		open := mask&1 != 0
		elapsed := mask&2 != 0
		funded := mask&4 != 0
		hasEntrants := mask&8 != 0
		name := fmt.Sprintf("open=%v elapsed=%v funded=%v entrants=%v", open, elapsed, funded, hasEntrants)

		t.Run(name, func(t *testing.T) {
			f := newFixture(t)

			if !open {
				f.svc.state = domain.StateCalculating
			}
			if elapsed {
				f.clock.Advance(time.Minute)
			}
			if funded {
				require.NoError(t, f.pool.Deposit(ctx, "seed", 10))
			}
			if hasEntrants {
				f.svc.entrants = append(f.svc.entrants, "alice")
			}

			needed, payload, err := f.svc.IsUpkeepNeeded(ctx)
			require.NoError(t, err)
			require.Equal(t, open && elapsed && funded && hasEntrants, needed)
			require.NotEmpty(t, payload)

			if needed {
				return
			}

			_, err = f.svc.PerformUpkeep(ctx)
			var notNeeded *UpkeepNotNeededError
			require.ErrorAs(t, err, &notNeeded)
			require.Equal(t, len(f.svc.entrants), notNeeded.EntrantCount)
			if !open {
				require.Equal(t, domain.StateCalculating, notNeeded.State)
			}
		})
	}
}

func TestPerformUpkeepClosesRound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.svc.Enter(ctx, "alice", 10); err != nil {
		t.Fatalf("enter: %v", err)
	}
	requestID := f.close(t)

	snap := f.svc.Snapshot()
	if snap.State != domain.StateCalculating {
		t.Fatalf("expected calculating, got %s", snap.State)
	}
	if snap.PendingRequestID != requestID {
		t.Fatalf("pending request %s, expected %s", snap.PendingRequestID, requestID)
	}

	reqs := f.coord.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 oracle request, got %d", len(reqs))
	}
	if reqs[0].Confirmations != 3 || reqs[0].NumValues != 1 {
		t.Fatalf("request must carry fixed confirmations=3 num_values=1, got %+v", reqs[0])
	}
	if reqs[0].KeyID != "key-1" || reqs[0].SubscriptionID != "sub-1" {
		t.Fatalf("unexpected request identity %+v", reqs[0])
	}

	// No re-triggering during the pending-randomness window.
	if _, err := f.svc.PerformUpkeep(ctx); err == nil {
		t.Fatal("second upkeep must be rejected while calculating")
	}
}

func TestPerformUpkeepReopensOnOracleFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.svc.Enter(ctx, "alice", 10); err != nil {
		t.Fatalf("enter: %v", err)
	}
	f.clock.Advance(time.Minute)

	f.coord.FailWith(errors.New("coordinator offline"))
	if _, err := f.svc.PerformUpkeep(ctx); err == nil {
		t.Fatal("expected oracle failure to surface")
	}

	// No request is in flight, so the round must reopen for entries.
	snap := f.svc.Snapshot()
	if snap.State != domain.StateOpen {
		t.Fatalf("expected open after oracle failure, got %s", snap.State)
	}
	if snap.PendingRequestID != "" {
		t.Fatalf("expected no pending request, got %s", snap.PendingRequestID)
	}

	f.coord.FailWith(nil)
	if _, err := f.svc.PerformUpkeep(ctx); err != nil {
		t.Fatalf("retry after oracle recovery: %v", err)
	}
}

func TestStaleElapsedTimeRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.svc.Enter(ctx, "alice", 10); err != nil {
		t.Fatalf("enter: %v", err)
	}

	// The composite predicate and the redundant time check read the clock
	// separately; feed the first read an elapsed time and the second a
	// regressed one to prove the second check still rejects on its own.
	start := f.clock.Now()
	f.clock.mu.Lock()
	f.clock.queue = []time.Time{start.Add(2 * time.Minute), start}
	f.clock.mu.Unlock()

	if _, err := f.svc.PerformUpkeep(ctx); !errors.Is(err, ErrStaleElapsedTime) {
		t.Fatalf("expected ErrStaleElapsedTime, got %v", err)
	}
	if got := f.svc.Snapshot().State; got != domain.StateOpen {
		t.Fatalf("stale rejection must not close the round, state %s", got)
	}
}

func TestWinnerSelectionModulo(t *testing.T) {
	cases := []struct {
		entrants int
		random   uint64
	}{
		{1, 0},
		{1, 7},
		{3, 2},
		{3, 3},
		{5, 12},
		{7, 18446744073709551615}, // max uint64
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("n=%d r=%d", tc.entrants, tc.random), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)

			for i := 0; i < tc.entrants; i++ {
				if _, err := f.svc.Enter(ctx, fmt.Sprintf("p%d", i), 10); err != nil {
					t.Fatalf("enter: %v", err)
				}
			}
			requestID := f.close(t)

			record, err := f.svc.Resolve(ctx, requestID, []uint64{tc.random})
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}

			wantIndex := int(tc.random % uint64(tc.entrants))
			wantWinner := fmt.Sprintf("p%d", wantIndex)
			if record.WinnerIndex != wantIndex || record.Winner != wantWinner {
				t.Fatalf("winner %s (index %d), expected %s (index %d)",
					record.Winner, record.WinnerIndex, wantWinner, wantIndex)
			}

			// The winner receives the entire pre-resolution pot.
			wantPot := int64(tc.entrants) * 10
			if record.Pot != wantPot {
				t.Fatalf("pot %d, expected %d", record.Pot, wantPot)
			}
			if got := f.pool.AccountBalance(wantWinner); got != wantPot {
				t.Fatalf("winner holds %d, expected %d", got, wantPot)
			}
			bal, _ := f.funds.Balance(ctx)
			if bal != 0 {
				t.Fatalf("pool should be empty after payout, got %d", bal)
			}
		})
	}
}

func TestResolutionResetsRound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.svc.Enter(ctx, "alice", 10); err != nil {
		t.Fatalf("enter: %v", err)
	}
	requestID := f.close(t)
	resolutionTime := f.clock.Now().UTC()

	record, err := f.svc.Resolve(ctx, requestID, []uint64{42})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	snap := f.svc.Snapshot()
	if snap.State != domain.StateOpen {
		t.Fatalf("expected open after resolution, got %s", snap.State)
	}
	if snap.EntrantCount != 0 {
		t.Fatalf("entrants must be cleared, got %d", snap.EntrantCount)
	}
	if !snap.RoundStartedAt.Equal(resolutionTime) {
		t.Fatalf("round start %s, expected resolution time %s", snap.RoundStartedAt, resolutionTime)
	}
	if snap.RecentWinner != "alice" {
		t.Fatalf("recent winner %s, expected alice", snap.RecentWinner)
	}
	if snap.RoundNumber != 2 {
		t.Fatalf("round number %d, expected 2", snap.RoundNumber)
	}
	if snap.PendingRequestID != "" {
		t.Fatalf("pending request must be cleared, got %s", snap.PendingRequestID)
	}

	// Resolution is recorded for audit.
	stored, err := f.store.GetRound(ctx, record.ID)
	if err != nil {
		t.Fatalf("get recorded round: %v", err)
	}
	if stored.Winner != "alice" || stored.RandomValue != 42 {
		t.Fatalf("unexpected stored round %+v", stored)
	}
}

// TestScenarioSingleEntrantRound walks the scenario from the design docs:
// fee 10, interval 60s, one accepted and one rejected entry, close, deliver
// randomness 7, winner index 7 mod 1 = 0.
func TestScenarioSingleEntrantRound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.svc.Enter(ctx, "A", 10); err != nil {
		t.Fatalf("enter A: %v", err)
	}
	if _, err := f.svc.Enter(ctx, "B", 5); !errors.Is(err, ErrInsufficientFee) {
		t.Fatalf("expected B rejected with ErrInsufficientFee, got %v", err)
	}
	if got := f.svc.Snapshot().EntrantCount; got != 1 {
		t.Fatalf("entrant count %d, expected 1", got)
	}

	f.clock.Advance(60 * time.Second)
	needed, _, err := f.svc.IsUpkeepNeeded(ctx)
	if err != nil || !needed {
		t.Fatalf("expected upkeep needed, got %v err=%v", needed, err)
	}

	requestID, err := f.svc.PerformUpkeep(ctx)
	if err != nil {
		t.Fatalf("perform upkeep: %v", err)
	}
	if got := f.svc.Snapshot().State; got != domain.StateCalculating {
		t.Fatalf("state %s, expected calculating", got)
	}

	record, err := f.svc.Resolve(ctx, requestID, []uint64{7})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if record.Winner != "A" || record.WinnerIndex != 0 {
		t.Fatalf("winner %+v, expected A at index 0", record)
	}
	if got := f.pool.AccountBalance("A"); got != 10 {
		t.Fatalf("A holds %d, expected 10", got)
	}

	snap := f.svc.Snapshot()
	if snap.State != domain.StateOpen || snap.EntrantCount != 0 {
		t.Fatalf("round must reopen empty, got %+v", snap)
	}
}

func TestZeroEntrantClosureRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.clock.Advance(time.Hour)

	needed, payload, err := f.svc.IsUpkeepNeeded(ctx)
	if err != nil {
		t.Fatalf("is upkeep needed: %v", err)
	}
	if needed {
		t.Fatal("upkeep must not be needed with no entrants")
	}

	var diag struct {
		Balance      int64        `json:"balance"`
		EntrantCount int          `json:"entrant_count"`
		State        domain.State `json:"state"`
	}
	if err := json.Unmarshal(payload, &diag); err != nil {
		t.Fatalf("decode diagnostics: %v", err)
	}
	if diag.Balance != 0 || diag.EntrantCount != 0 || diag.State != domain.StateOpen {
		t.Fatalf("unexpected diagnostics %+v", diag)
	}

	_, err = f.svc.PerformUpkeep(ctx)
	var notNeeded *UpkeepNotNeededError
	if !errors.As(err, &notNeeded) {
		t.Fatalf("expected UpkeepNotNeededError, got %v", err)
	}
	if notNeeded.Balance != 0 || notNeeded.EntrantCount != 0 || notNeeded.State != domain.StateOpen {
		t.Fatalf("unexpected rejection diagnostics %+v", notNeeded)
	}
}

func TestTransferFailureRollsBackResolution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, p := range []string{"alice", "bob", "carol"} {
		if _, err := f.svc.Enter(ctx, p, 10); err != nil {
			t.Fatalf("enter %s: %v", p, err)
		}
	}
	requestID := f.close(t)
	before := f.svc.Snapshot()

	f.funds.RefuseTransfers(true)
	if _, err := f.svc.Resolve(ctx, requestID, []uint64{1}); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	// Nothing half-applied: the round is exactly as it was at resolution start.
	after := f.svc.Snapshot()
	if after.State != domain.StateCalculating {
		t.Fatalf("state %s, expected calculating preserved", after.State)
	}
	if after.EntrantCount != before.EntrantCount {
		t.Fatalf("entrants %d, expected %d", after.EntrantCount, before.EntrantCount)
	}
	for i := range before.Entrants {
		if after.Entrants[i] != before.Entrants[i] {
			t.Fatalf("entrant %d changed: %s vs %s", i, after.Entrants[i], before.Entrants[i])
		}
	}
	if after.PendingRequestID != requestID {
		t.Fatalf("pending request %s, expected %s", after.PendingRequestID, requestID)
	}
	if after.RoundNumber != before.RoundNumber {
		t.Fatalf("round number %d, expected %d", after.RoundNumber, before.RoundNumber)
	}
	if !after.RoundStartedAt.Equal(before.RoundStartedAt) {
		t.Fatalf("round start changed: %s vs %s", after.RoundStartedAt, before.RoundStartedAt)
	}
	if after.RecentWinner != before.RecentWinner {
		t.Fatalf("recent winner changed: %s vs %s", after.RecentWinner, before.RecentWinner)
	}
	bal, _ := f.funds.Balance(ctx)
	if bal != 30 {
		t.Fatalf("pool must stay intact, got %d", bal)
	}

	// A transport error rolls back the same way.
	f.funds.RefuseTransfers(false)
	f.funds.ErrorTransfers(errors.New("ledger unreachable"))
	if _, err := f.svc.Resolve(ctx, requestID, []uint64{1}); err == nil || errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
	if got := f.svc.Snapshot().State; got != domain.StateCalculating {
		t.Fatalf("state %s after transport error, expected calculating", got)
	}

	// Once the ledger recovers, redelivery of the same request resolves.
	f.funds.ErrorTransfers(nil)
	record, err := f.svc.Resolve(ctx, requestID, []uint64{1})
	if err != nil {
		t.Fatalf("redelivery after recovery: %v", err)
	}
	if record.Winner != "bob" {
		t.Fatalf("winner %s, expected bob (1 mod 3)", record.Winner)
	}
}

func TestMismatchedDeliveriesIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Delivery while the round is open.
	if err := f.svc.FulfillRandomness(ctx, "req-ghost", []uint64{1}); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("expected ErrUnknownRequest while open, got %v", err)
	}

	if _, err := f.svc.Enter(ctx, "alice", 10); err != nil {
		t.Fatalf("enter: %v", err)
	}
	requestID := f.close(t)
	before := f.svc.Snapshot()

	// Stale or mismatched request IDs must not mutate anything.
	if err := f.svc.FulfillRandomness(ctx, "req-stale", []uint64{1}); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("expected ErrUnknownRequest, got %v", err)
	}
	if err := f.svc.FulfillRandomness(ctx, "", []uint64{1}); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("expected ErrUnknownRequest for empty id, got %v", err)
	}

	after := f.svc.Snapshot()
	if after.State != before.State || after.EntrantCount != before.EntrantCount || after.PendingRequestID != before.PendingRequestID {
		t.Fatalf("mismatched delivery mutated state: %+v vs %+v", after, before)
	}

	// An empty delivery for the right request is rejected without mutation.
	if err := f.svc.FulfillRandomness(ctx, requestID, nil); err == nil || errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("expected empty-delivery rejection, got %v", err)
	}
	if got := f.svc.Snapshot().State; got != domain.StateCalculating {
		t.Fatalf("state %s, expected calculating", got)
	}
}

func TestNoEntrantsInvariant(t *testing.T) {
	f := newFixture(t)

	// Force the unreachable shape directly: a pending request with no
	// entrants behind it.
	f.svc.mu.Lock()
	f.svc.state = domain.StateCalculating
	f.svc.pendingRequestID = "req-broken"
	f.svc.entrants = nil
	f.svc.mu.Unlock()

	if err := f.svc.FulfillRandomness(context.Background(), "req-broken", []uint64{5}); !errors.Is(err, ErrNoEntrants) {
		t.Fatalf("expected ErrNoEntrants, got %v", err)
	}
}

func TestObservableEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ch, cancel := f.bus.Subscribe(8)
	defer cancel()

	if _, err := f.svc.Enter(ctx, "alice", 10); err != nil {
		t.Fatalf("enter: %v", err)
	}
	requestID := f.close(t)
	if _, err := f.svc.Resolve(ctx, requestID, []uint64{0}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var got []events.Event
	for len(got) < 2 {
		select {
		case evt := <-ch:
			got = append(got, evt)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d events", len(got))
		}
	}

	if got[0].Type != events.TypeEntryAccepted || got[0].Participant != "alice" {
		t.Fatalf("unexpected first event %+v", got[0])
	}
	if got[1].Type != events.TypeWinnerPicked || got[1].Winner != "alice" || got[1].Amount != 10 {
		t.Fatalf("unexpected second event %+v", got[1])
	}
}

func TestNewValidatesConfig(t *testing.T) {
	coord := NewStubCoordinator()
	funds := ledger.NewMemory()

	cases := []struct {
		name string
		cfg  domain.Config
	}{
		{"zero fee", domain.Config{EntranceFee: 0, Interval: time.Minute}},
		{"negative fee", domain.Config{EntranceFee: -1, Interval: time.Minute}},
		{"zero interval", domain.Config{EntranceFee: 10, Interval: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg, domainoracle.RandomnessRequest{}, coord, funds, nil, nil, nil); err == nil {
				t.Fatal("expected config validation error")
			}
		})
	}

	if _, err := New(domain.Config{EntranceFee: 10, Interval: time.Minute}, domainoracle.RandomnessRequest{}, nil, funds, nil, nil, nil); err == nil {
		t.Fatal("expected error for missing coordinator")
	}
	if _, err := New(domain.Config{EntranceFee: 10, Interval: time.Minute}, domainoracle.RandomnessRequest{}, coord, nil, nil, nil, nil); err == nil {
		t.Fatal("expected error for missing ledger")
	}
}
