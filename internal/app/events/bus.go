// Package events fans out observable raffle events to in-process
// subscribers. Events are for external indexing and monitoring; nothing in
// the raffle consumes them.
package events

import (
	"sync"
	"time"
)

// Event types emitted by the raffle.
const (
	TypeEntryAccepted = "entry_accepted"
	TypeWinnerPicked  = "winner_picked"
)

// Event is a single observable occurrence.
type Event struct {
	Type        string    `json:"type"`
	Participant string    `json:"participant,omitempty"`
	Winner      string    `json:"winner,omitempty"`
	RoundNumber int64     `json:"round_number"`
	Amount      int64     `json:"amount,omitempty"`
	At          time.Time `json:"at"`
}

// Sink receives published events.
type Sink interface {
	Publish(evt Event)
}

// Bus is a non-blocking fanout of events to subscribers. A subscriber whose
// buffer is full misses events rather than stalling the publisher.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

var _ Sink = (*Bus)(nil)

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Publish delivers the event to all current subscribers without blocking.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe registers a buffered subscriber channel. The returned cancel
// function removes the subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Publish(Event) {}
