// Package app assembles the raffle service, its oracle adapter, and the
// lifecycle-managed background workers into one application object.
package app

import (
	"context"
	"fmt"
	"time"

	domainoracle "github.com/R3E-Network/raffle_layer/internal/app/domain/oracle"
	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/events"
	"github.com/R3E-Network/raffle_layer/internal/app/ledger"
	"github.com/R3E-Network/raffle_layer/internal/app/oracle"
	rafflesvc "github.com/R3E-Network/raffle_layer/internal/app/services/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/storage"
	"github.com/R3E-Network/raffle_layer/internal/app/system"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. A nil store defaults to the
// in-memory implementation.
type Stores struct {
	Raffle storage.RaffleStore
}

// Options configures the application. A nil Coordinator enables the local
// oracle simulator; a nil Funds ledger defaults to the in-memory pool.
type Options struct {
	Raffle         domain.Config
	Oracle         domainoracle.RandomnessRequest
	Coordinator    oracle.Coordinator
	Funds          ledger.Ledger
	UpkeepSchedule string
	SimulatorDelay time.Duration
}

// Application ties the raffle service together and manages its lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Raffle *rafflesvc.Service
	Upkeep *rafflesvc.UpkeepScheduler
	Bus    *events.Bus
	Funds  ledger.Ledger
	Store  storage.RaffleStore
}

// New builds a fully initialised application.
func New(opts Options, stores Stores, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if stores.Raffle == nil {
		stores.Raffle = storage.NewMemory()
	}
	if opts.Funds == nil {
		opts.Funds = ledger.NewMemory()
	}

	manager := system.NewManager()
	bus := events.NewBus()

	var simulator *oracle.Simulator
	coordinator := opts.Coordinator
	if coordinator == nil {
		log.Warn("no oracle coordinator configured; using local simulator")
		simulator = oracle.NewSimulator(opts.SimulatorDelay, log.WithField("component", "oracle-simulator"))
		coordinator = simulator
	}

	raffle, err := rafflesvc.New(opts.Raffle, opts.Oracle, coordinator, opts.Funds, stores.Raffle, bus, log.WithField("component", "raffle"))
	if err != nil {
		return nil, fmt.Errorf("build raffle service: %w", err)
	}

	if simulator != nil {
		simulator.WithConsumer(raffle)
		manager.Register(simulator)
	}

	upkeep := rafflesvc.NewUpkeepScheduler(raffle, opts.UpkeepSchedule, log.WithField("component", "upkeep"))
	manager.Register(upkeep)

	return &Application{
		manager: manager,
		log:     log,
		Raffle:  raffle,
		Upkeep:  upkeep,
		Bus:     bus,
		Funds:   opts.Funds,
		Store:   stores.Raffle,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) {
	a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.StartAll(ctx)
}

// Stop stops all services in reverse start order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.StopAll(ctx)
}
