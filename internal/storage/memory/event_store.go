package memory

import (
	"context"
	"sort"
	"sync"

	"presale-ledger/internal/domain"
	"presale-ledger/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu     sync.RWMutex
	events []domain.Event
	seen   map[string]struct{} // event ids
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{seen: make(map[string]struct{})}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

// Append adds events. Duplicate event ids are ignored.
func (s *EventStore) Append(_ context.Context, events []domain.Event) error {
	for _, e := range events {
		if e.EventID == "" || e.SaleID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if _, dup := s.seen[e.EventID]; dup {
			continue
		}
		s.seen[e.EventID] = struct{}{}
		s.events = append(s.events, e)
	}
	return nil
}

// ListBySale returns the events of a sale ordered by timestamp ASC.
func (s *EventStore) ListBySale(_ context.Context, saleID string) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Event
	for _, e := range s.events {
		if e.SaleID == saleID {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})
	return result, nil
}
