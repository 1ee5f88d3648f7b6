package oracle

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/oracle"
	"github.com/R3E-Network/raffle_layer/internal/app/system"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

var _ system.Service = (*Simulator)(nil)
var _ Coordinator = (*Simulator)(nil)

// Simulator is a local randomness oracle for development and tests. It
// accepts requests and delivers crypto/rand values to the consumer after a
// short delay, preserving the asynchronous request/delivery shape of the
// real coordinator.
type Simulator struct {
	log   *logger.Logger
	delay time.Duration

	mu       sync.Mutex
	consumer Consumer
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
	queue    chan pendingDelivery
}

type pendingDelivery struct {
	requestID string
	numValues uint32
	due       time.Time
}

// NewSimulator constructs a simulator delivering after the given delay.
func NewSimulator(delay time.Duration, log *logger.Logger) *Simulator {
	if log == nil {
		log = logger.NewDefault("oracle-simulator")
	}
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	return &Simulator{
		log:   log,
		delay: delay,
		queue: make(chan pendingDelivery, 64),
	}
}

// WithConsumer registers the delivery target.
func (s *Simulator) WithConsumer(consumer Consumer) {
	s.mu.Lock()
	s.consumer = consumer
	s.mu.Unlock()
}

func (s *Simulator) Name() string { return "oracle-simulator" }

func (s *Simulator) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.consumer == nil {
		s.mu.Unlock()
		s.log.Warn("no randomness consumer configured; simulator disabled")
		return nil
	}
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case pending := <-s.queue:
				if wait := time.Until(pending.due); wait > 0 {
					select {
					case <-runCtx.Done():
						return
					case <-time.After(wait):
					}
				}
				s.deliver(runCtx, pending)
			}
		}
	}()

	s.log.Info("oracle simulator started")
	return nil
}

func (s *Simulator) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("oracle simulator stopped")
	return nil
}

// RequestRandomness queues an asynchronous delivery and returns immediately
// with the assigned request identifier.
func (s *Simulator) RequestRandomness(_ context.Context, req domain.RandomnessRequest) (string, error) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return "", fmt.Errorf("oracle simulator not running")
	}

	numValues := req.NumValues
	if numValues == 0 {
		numValues = domain.DefaultNumValues
	}

	requestID := uuid.NewString()
	select {
	case s.queue <- pendingDelivery{requestID: requestID, numValues: numValues, due: time.Now().Add(s.delay)}:
	default:
		return "", fmt.Errorf("oracle simulator queue full")
	}
	return requestID, nil
}

func (s *Simulator) deliver(ctx context.Context, pending pendingDelivery) {
	s.mu.Lock()
	consumer := s.consumer
	s.mu.Unlock()
	if consumer == nil {
		return
	}

	values := make([]uint64, pending.numValues)
	for i := range values {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			s.log.WithError(err).Error("read randomness source failed")
			return
		}
		values[i] = binary.BigEndian.Uint64(buf[:])
	}

	deliverCtx, cancelDeliver := context.WithTimeout(ctx, 5*time.Second)
	defer cancelDeliver()

	if err := consumer.FulfillRandomness(deliverCtx, pending.requestID, values); err != nil {
		s.log.WithError(err).
			WithField("request_id", pending.requestID).
			Warn("randomness delivery rejected")
	}
}
