// Package runtime wires configuration, logging, persistence, the raffle
// application, and the HTTP server into a runnable daemon.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/raffle_layer/internal/app"
	domainoracle "github.com/R3E-Network/raffle_layer/internal/app/domain/oracle"
	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/httpapi"
	"github.com/R3E-Network/raffle_layer/internal/app/oracle"
	"github.com/R3E-Network/raffle_layer/internal/app/storage/postgres"
	"github.com/R3E-Network/raffle_layer/internal/config"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// Application manages the daemon lifecycle.
type Application struct {
	cfg    *config.Config
	log    *logger.Logger
	app    *app.Application
	server *http.Server
	db     *sqlx.DB
}

// NewApplication constructs a daemon instance from the loaded configuration.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newApplication(cfg)
}

func newApplication(cfg *config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	stores, db, err := buildStores(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	var coordinator oracle.Coordinator
	if !cfg.Oracle.Simulate {
		httpClient := &http.Client{Timeout: 10 * time.Second}
		coordinator, err = oracle.NewHTTPCoordinator(httpClient, cfg.Oracle.Endpoint, cfg.Oracle.APIKey, log.WithField("component", "oracle-http"))
		if err != nil {
			return nil, fmt.Errorf("configure oracle coordinator: %w", err)
		}
	}

	application, err := app.New(app.Options{
		Raffle: domain.Config{
			EntranceFee: cfg.Raffle.EntranceFee,
			Interval:    cfg.Raffle.Interval.Std(),
		},
		Oracle: domainoracle.RandomnessRequest{
			KeyID:            cfg.Oracle.KeyID,
			SubscriptionID:   cfg.Oracle.SubscriptionID,
			Confirmations:    cfg.Oracle.Confirmations,
			CallbackGasLimit: cfg.Oracle.CallbackGasLimit,
		},
		Coordinator:    coordinator,
		UpkeepSchedule: cfg.Upkeep.Schedule,
		SimulatorDelay: cfg.Oracle.SimulatorDelay.Std(),
	}, stores, log)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("build application: %w", err)
	}

	handler := httpapi.NewHandler(application, httpapi.Config{
		EntryRatePerSecond: cfg.API.EntryRatePerSecond,
		EntryBurst:         cfg.API.EntryBurst,
	}, log.WithField("component", "httpapi"))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Application{
		cfg:    cfg,
		log:    log,
		app:    application,
		server: server,
		db:     db,
	}, nil
}

// Run starts the background services and the HTTP server, then blocks until
// the context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server and background services.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var firstErr error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}
	if err := a.app.Stop(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return firstErr
}

func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, *sqlx.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("no database configured; audit records are kept in memory")
		return app.Stores{}, nil, nil
	}

	db, err := sqlx.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return app.Stores{}, nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("ping database: %w", err)
	}

	if err := postgres.Migrate(db); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("run migrations: %w", err)
	}

	return app.Stores{Raffle: postgres.New(db)}, db, nil
}
