package oracle

import (
	"context"
	"sync"
	"testing"
	"time"

	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/oracle"
)

type capturingConsumer struct {
	mu        sync.Mutex
	requestID string
	values    []uint64
	delivered chan struct{}
}

func newCapturingConsumer() *capturingConsumer {
	return &capturingConsumer{delivered: make(chan struct{}, 1)}
}

func (c *capturingConsumer) FulfillRandomness(_ context.Context, requestID string, values []uint64) error {
	c.mu.Lock()
	c.requestID = requestID
	c.values = values
	c.mu.Unlock()
	c.delivered <- struct{}{}
	return nil
}

func TestSimulatorDeliversAsynchronously(t *testing.T) {
	ctx := context.Background()
	consumer := newCapturingConsumer()

	sim := NewSimulator(5*time.Millisecond, nil)
	sim.WithConsumer(consumer)
	if err := sim.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sim.Stop(ctx)

	id, err := sim.RequestRandomness(ctx, domain.RandomnessRequest{NumValues: 1})
	if err != nil {
		t.Fatalf("request randomness: %v", err)
	}
	if id == "" {
		t.Fatal("expected a request id")
	}

	// RequestRandomness must return before delivery happens.
	select {
	case <-consumer.delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	if consumer.requestID != id {
		t.Fatalf("delivery for %s, expected %s", consumer.requestID, id)
	}
	if len(consumer.values) != 1 {
		t.Fatalf("expected 1 value, got %d", len(consumer.values))
	}
}

func TestSimulatorRejectsWhenStopped(t *testing.T) {
	sim := NewSimulator(time.Millisecond, nil)
	sim.WithConsumer(newCapturingConsumer())

	if _, err := sim.RequestRandomness(context.Background(), domain.RandomnessRequest{}); err == nil {
		t.Fatal("expected error before Start")
	}
}
