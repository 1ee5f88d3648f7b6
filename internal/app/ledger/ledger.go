// Package ledger abstracts the value-holding collaborator. The raffle keeps
// no balances of its own; the ledger owns the pooled funds and executes the
// winner payout.
package ledger

import "context"

// Ledger holds the pooled round balance and moves value.
type Ledger interface {
	// Balance reports the current pooled balance for the open round.
	Balance(ctx context.Context) (int64, error)
	// Deposit credits the pool with a participant's entry fee.
	Deposit(ctx context.Context, from string, amount int64) error
	// Transfer moves amount from the pool to the recipient. A refused
	// transfer is reported as ok=false, not as an error; err is reserved
	// for transport-level failures.
	Transfer(ctx context.Context, to string, amount int64) (ok bool, err error)
}
