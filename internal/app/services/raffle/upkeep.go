package raffle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/raffle_layer/internal/app/system"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

var _ system.Service = (*UpkeepScheduler)(nil)

// UpkeepScheduler is the external trigger: on each scheduled tick it checks
// IsUpkeepNeeded and, when the round is eligible, calls PerformUpkeep. Both
// calls re-validate, so overlapping ticks or a second scheduler instance are
// harmless.
type UpkeepScheduler struct {
	service  *Service
	log      *logger.Logger
	schedule string

	mu      sync.Mutex
	runner  *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewUpkeepScheduler constructs a scheduler. The schedule accepts standard
// cron expressions and @every intervals; empty defaults to every 15 seconds.
func NewUpkeepScheduler(service *Service, schedule string, log *logger.Logger) *UpkeepScheduler {
	if log == nil {
		log = logger.NewDefault("raffle-upkeep")
	}
	if schedule == "" {
		schedule = "@every 15s"
	}
	return &UpkeepScheduler{
		service:  service,
		log:      log,
		schedule: schedule,
	}
}

func (u *UpkeepScheduler) Name() string { return "raffle-upkeep" }

func (u *UpkeepScheduler) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.service == nil {
		u.log.Warn("no raffle service configured; upkeep scheduler disabled")
		return nil
	}
	if u.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	runner := cron.New()
	if _, err := runner.AddFunc(u.schedule, func() { u.tick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("parse upkeep schedule %q: %w", u.schedule, err)
	}
	runner.Start()

	u.runner = runner
	u.ctx = runCtx
	u.cancel = cancel
	u.running = true

	u.log.WithField("schedule", u.schedule).Info("upkeep scheduler started")
	return nil
}

func (u *UpkeepScheduler) Stop(ctx context.Context) error {
	u.mu.Lock()
	if !u.running {
		u.mu.Unlock()
		return nil
	}
	runner := u.runner
	cancel := u.cancel
	u.runner = nil
	u.cancel = nil
	u.running = false
	u.mu.Unlock()

	cancel()
	stopCtx := runner.Stop()

	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	u.log.Info("upkeep scheduler stopped")
	return nil
}

// Tick runs one upkeep evaluation immediately. Exposed so operators can
// force a check without waiting for the schedule.
func (u *UpkeepScheduler) Tick(ctx context.Context) {
	u.tick(ctx)
}

func (u *UpkeepScheduler) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	needed, _, err := u.service.IsUpkeepNeeded(ctx)
	if err != nil {
		u.log.WithError(err).Warn("upkeep check failed")
		return
	}
	if !needed {
		return
	}

	requestID, err := u.service.PerformUpkeep(ctx)
	if err != nil {
		var notNeeded *UpkeepNotNeededError
		if errors.As(err, &notNeeded) || errors.Is(err, ErrStaleElapsedTime) {
			// Another trigger won the race between check and execution.
			u.log.WithError(err).Debug("upkeep no longer needed")
			return
		}
		u.log.WithError(err).Warn("perform upkeep failed")
		return
	}

	u.log.WithField("request_id", requestID).Info("upkeep performed")
}
