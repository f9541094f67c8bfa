package memory

import (
	"context"
	"sort"
	"sync"

	"presale-ledger/internal/domain"
	"presale-ledger/internal/storage"
)

type contributorKey struct {
	saleID      string
	contributor domain.PublicKey
}

// SaleStore is an in-memory implementation of storage.SaleStore.
// Updates on one sale are serialized by a per-sale lock.
type SaleStore struct {
	mu           sync.RWMutex
	sales        map[string]*domain.Sale                      // keyed by sale_id
	contributors map[contributorKey]*domain.ContributorRecord // keyed by (sale_id, contributor)

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewSaleStore creates a new in-memory sale store.
func NewSaleStore() *SaleStore {
	return &SaleStore{
		sales:        make(map[string]*domain.Sale),
		contributors: make(map[contributorKey]*domain.ContributorRecord),
		locks:        make(map[string]*sync.Mutex),
	}
}

// Compile-time interface check.
var _ storage.SaleStore = (*SaleStore)(nil)

// Create adds a new sale. Returns ErrDuplicateKey if sale_id exists.
func (s *SaleStore) Create(_ context.Context, sale *domain.Sale) error {
	if sale == nil || sale.Config.SaleID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sales[sale.Config.SaleID]; exists {
		return storage.ErrDuplicateKey
	}
	s.sales[sale.Config.SaleID] = sale.Clone()
	return nil
}

// Get retrieves a sale. Returns ErrNotFound if not exists.
func (s *SaleStore) Get(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.sales[saleID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return sale.Clone(), nil
}

// List returns all sales ordered by sale_id ASC.
func (s *SaleStore) List(_ context.Context) ([]*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		result = append(result, sale.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Config.SaleID < result[j].Config.SaleID
	})
	return result, nil
}

// GetContributor retrieves one record. Returns ErrNotFound if not exists.
func (s *SaleStore) GetContributor(_ context.Context, saleID string, contributor domain.PublicKey) (*domain.ContributorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.contributors[contributorKey{saleID, contributor}]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return rec.Clone(), nil
}

// ListContributors returns the records of a sale ordered by created_at ASC.
func (s *SaleStore) ListContributors(_ context.Context, saleID string) ([]*domain.ContributorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ContributorRecord
	for key, rec := range s.contributors {
		if key.saleID == saleID {
			result = append(result, rec.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].Contributor.String() < result[j].Contributor.String()
	})
	return result, nil
}

func (s *SaleStore) saleLock(saleID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[saleID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[saleID] = l
	}
	return l
}

// Update runs fn with exclusive access to saleID and commits staged writes
// only when fn succeeds.
func (s *SaleStore) Update(ctx context.Context, saleID string, fn func(tx storage.SaleTx) error) error {
	lock := s.saleLock(saleID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	sale, err := s.Get(ctx, saleID)
	if err != nil {
		return err
	}

	tx := &saleTx{store: s, sale: sale, staged: make(map[domain.PublicKey]*domain.ContributorRecord)}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.saleDirty {
		s.sales[saleID] = tx.sale.Clone()
	}
	for contributor, rec := range tx.staged {
		s.contributors[contributorKey{saleID, contributor}] = rec
	}
	return nil
}

// saleTx stages writes until SaleStore.Update commits them.
type saleTx struct {
	store     *SaleStore
	sale      *domain.Sale
	saleDirty bool
	staged    map[domain.PublicKey]*domain.ContributorRecord
}

func (tx *saleTx) Sale() *domain.Sale {
	return tx.sale.Clone()
}

func (tx *saleTx) SaveSale(sale *domain.Sale) error {
	if sale == nil || sale.Config.SaleID != tx.sale.Config.SaleID {
		return storage.ErrInvalidInput
	}
	tx.sale = sale.Clone()
	tx.saleDirty = true
	return nil
}

func (tx *saleTx) Contributor(contributor domain.PublicKey) (*domain.ContributorRecord, error) {
	if rec, ok := tx.staged[contributor]; ok {
		return rec.Clone(), nil
	}
	return tx.store.GetContributor(context.Background(), tx.sale.Config.SaleID, contributor)
}

func (tx *saleTx) SaveContributor(rec *domain.ContributorRecord) error {
	if rec == nil || rec.SaleID != tx.sale.Config.SaleID || rec.Contributor.IsZero() {
		return storage.ErrInvalidInput
	}
	tx.staged[rec.Contributor] = rec.Clone()
	return nil
}
