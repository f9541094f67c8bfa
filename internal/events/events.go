// Package events delivers sale events to indexers: the event log, a message
// queue and live WebSocket subscribers.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"presale-ledger/internal/domain"
	"presale-ledger/internal/storage"
)

// Sink receives committed events. Delivery is fire-and-forget from the
// ledger's point of view: a failing sink never rolls back a sale operation.
type Sink interface {
	Publish(ctx context.Context, events []domain.Event) error
}

// New returns an event of kind with a fresh id.
func New(kind domain.EventKind, saleID string, timestamp int64) domain.Event {
	return domain.Event{
		EventID:   uuid.NewString(),
		SaleID:    saleID,
		Kind:      kind,
		Timestamp: timestamp,
	}
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(context.Context, []domain.Event) error { return nil }

// Multi fans out to every sink and joins their errors.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

type multi []Sink

func (m multi) Publish(ctx context.Context, events []domain.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StoreSink appends events to an EventStore.
type StoreSink struct {
	store storage.EventStore
}

// NewStoreSink creates a StoreSink.
func NewStoreSink(store storage.EventStore) *StoreSink {
	return &StoreSink{store: store}
}

// Publish appends events to the store.
func (s *StoreSink) Publish(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	return s.store.Append(ctx, events)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

// Publish records events.
func (r *Recorder) Publish(_ context.Context, events []domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds of recorded events in order.
func (r *Recorder) Kinds() []domain.EventKind {
	events := r.Events()
	kinds := make([]domain.EventKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}
