package system

import "context"

// Service represents a lifecycle-managed component. Background workers such
// as the upkeep scheduler and the oracle simulator implement this interface
// so the manager can start and stop them deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
