package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/config"
)

func TestNewApplicationWithDefaults(t *testing.T) {
	cfg, err := config.LoadFromPath(t.TempDir() + "/missing.yaml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Server.Port = 0 // ephemeral port

	app, err := newApplication(cfg)
	if err != nil {
		t.Fatalf("build application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	// Give the server a moment to come up, then shut down cleanly.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	if err := app.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewApplicationRequiresEndpointWithoutSimulation(t *testing.T) {
	cfg, err := config.LoadFromPath(t.TempDir() + "/missing.yaml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Oracle.Simulate = false
	cfg.Oracle.Endpoint = ""

	if _, err := newApplication(cfg); err == nil {
		t.Fatal("expected error without oracle endpoint")
	}
}
