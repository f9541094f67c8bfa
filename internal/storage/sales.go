package storage

import (
	"context"
	"time"

	"presale-ledger/internal/domain"
)

// SaleStore provides access to sales and their contributor records.
type SaleStore interface {
	// Create adds a new sale. Returns ErrDuplicateKey if sale_id exists.
	Create(ctx context.Context, sale *domain.Sale) error

	// Get retrieves a sale. Returns ErrNotFound if not exists.
	Get(ctx context.Context, saleID string) (*domain.Sale, error)

	// List returns all sales ordered by sale_id ASC.
	List(ctx context.Context) ([]*domain.Sale, error)

	// GetContributor retrieves one record. Returns ErrNotFound if not exists.
	GetContributor(ctx context.Context, saleID string, contributor domain.PublicKey) (*domain.ContributorRecord, error)

	// ListContributors returns the records of a sale ordered by created_at ASC.
	ListContributors(ctx context.Context, saleID string) ([]*domain.ContributorRecord, error)

	// Update runs fn inside one serialized transaction on saleID. Writes made
	// through tx are committed only if fn returns nil. Returns ErrNotFound if
	// the sale does not exist.
	Update(ctx context.Context, saleID string, fn func(tx SaleTx) error) error
}

// SaleTx is the view of one sale inside SaleStore.Update.
type SaleTx interface {
	// Sale returns a mutable copy of the locked sale.
	Sale() *domain.Sale

	// SaveSale stages sale for commit.
	SaveSale(sale *domain.Sale) error

	// Contributor returns a copy of the record. Returns ErrNotFound if not exists.
	Contributor(contributor domain.PublicKey) (*domain.ContributorRecord, error)

	// SaveContributor stages an insert or update of rec for commit.
	SaveContributor(rec *domain.ContributorRecord) error
}

// EventStore is an append-only log of sale events.
type EventStore interface {
	// Append adds events. Duplicate event ids are ignored.
	Append(ctx context.Context, events []domain.Event) error

	// ListBySale returns the events of a sale ordered by timestamp ASC.
	ListBySale(ctx context.Context, saleID string) ([]domain.Event, error)
}

// NonceStore records consumed attestation nonces.
type NonceStore interface {
	// Consume marks key as used for ttl. Returns false if it was already used.
	Consume(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
