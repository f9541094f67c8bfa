package memory

import (
	"context"
	"sync"
	"time"

	"presale-ledger/internal/storage"
)

// minSweep is the key count below which expired nonces are not swept.
const minSweep = 1024

// NonceStore is an in-memory implementation of storage.NonceStore.
// Expired keys are dropped once the map doubles since the last sweep.
type NonceStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	sweepAt int
	now     func() time.Time
}

// NewNonceStore creates a new in-memory nonce store.
func NewNonceStore() *NonceStore {
	return &NonceStore{expires: make(map[string]time.Time), sweepAt: minSweep, now: time.Now}
}

// Compile-time interface check.
var _ storage.NonceStore = (*NonceStore)(nil)

// Consume marks key as used for ttl. A ttl <= 0 never expires.
func (s *NonceStore) Consume(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, used := s.expires[key]; used && (exp.IsZero() || now.Before(exp)) {
		return false, nil
	}

	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	s.expires[key] = exp
	if len(s.expires) >= s.sweepAt {
		s.sweep(now)
	}
	return true, nil
}

func (s *NonceStore) sweep(now time.Time) {
	for k, exp := range s.expires {
		if !exp.IsZero() && !now.Before(exp) {
			delete(s.expires, k)
		}
	}
	s.sweepAt = max(minSweep, 2*len(s.expires))
}

// Len returns the number of remembered keys.
func (s *NonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expires)
}
