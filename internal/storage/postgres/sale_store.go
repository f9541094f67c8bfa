package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"presale-ledger/internal/domain"
	"presale-ledger/internal/storage"
)

// SaleStore implements storage.SaleStore using PostgreSQL. Update locks the
// sale row with SELECT ... FOR UPDATE for the whole transaction.
type SaleStore struct {
	pool *Pool
}

// NewSaleStore creates a new SaleStore.
func NewSaleStore(pool *Pool) *SaleStore {
	return &SaleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SaleStore = (*SaleStore)(nil)

const saleColumns = `
	sale_id, authority, token_mint, treasury, fee_wallet, oracle_authority,
	total_tokens, private_allocation, public_allocation, price_usd_micro, token_decimals,
	min_buy_usd, max_per_wallet_usd, lp_min_threshold_usd, lp_target_usd, accepted_assets,
	daily_release_bps, vesting_days, cliff_seconds, fee_bps, end_time, paused,
	sold_tokens, sold_private, sold_public, total_raised_usd, contributors, phase,
	is_active, is_finalized, refund_enabled, created_at, updated_at`

const contributorColumns = `
	sale_id, contributor, contribution_native, contribution_usd, claimable_tokens,
	claimed_tokens, purchased_tokens, payments, vesting_start_ts, cliff_seconds,
	daily_release_bps, vesting_days, last_claim_at, created_at, updated_at`

// Create adds a new sale. Returns ErrDuplicateKey if sale_id exists.
func (s *SaleStore) Create(ctx context.Context, sale *domain.Sale) error {
	if sale == nil || sale.Config.SaleID == "" {
		return storage.ErrInvalidInput
	}

	query := `INSERT INTO sales (` + saleColumns + `) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33
	)`

	_, err := s.pool.Exec(ctx, query, saleArgs(sale)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isConstraintError(err) {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

// Get retrieves a sale. Returns ErrNotFound if not exists.
func (s *SaleStore) Get(ctx context.Context, saleID string) (*domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE sale_id = $1`

	sale, err := scanSale(s.pool.QueryRow(ctx, query, saleID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get sale: %w", err)
	}
	return sale, nil
}

// List returns all sales ordered by sale_id ASC.
func (s *SaleStore) List(ctx context.Context) ([]*domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales ORDER BY sale_id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	var result []*domain.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		result = append(result, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sales: %w", err)
	}
	return result, nil
}

// GetContributor retrieves one record. Returns ErrNotFound if not exists.
func (s *SaleStore) GetContributor(ctx context.Context, saleID string, contributor domain.PublicKey) (*domain.ContributorRecord, error) {
	query := `SELECT ` + contributorColumns + ` FROM contributors WHERE sale_id = $1 AND contributor = $2`

	rec, err := scanContributor(s.pool.QueryRow(ctx, query, saleID, contributor.String()))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get contributor: %w", err)
	}
	return rec, nil
}

// ListContributors returns the records of a sale ordered by created_at ASC.
func (s *SaleStore) ListContributors(ctx context.Context, saleID string) ([]*domain.ContributorRecord, error) {
	query := `SELECT ` + contributorColumns + ` FROM contributors
		WHERE sale_id = $1
		ORDER BY created_at ASC, contributor ASC`

	rows, err := s.pool.Query(ctx, query, saleID)
	if err != nil {
		return nil, fmt.Errorf("list contributors: %w", err)
	}
	defer rows.Close()

	var result []*domain.ContributorRecord
	for rows.Next() {
		rec, err := scanContributor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contributor: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contributors: %w", err)
	}
	return result, nil
}

// Update runs fn in a transaction holding the sale row lock. Concurrent
// updates of the same sale queue on the lock.
func (s *SaleStore) Update(ctx context.Context, saleID string, fn func(tx storage.SaleTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT ` + saleColumns + ` FROM sales WHERE sale_id = $1 FOR UPDATE`
	sale, err := scanSale(tx.QueryRow(ctx, query, saleID))
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("lock sale: %w", err)
	}

	if err := fn(&saleTx{ctx: ctx, tx: tx, sale: sale}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// saleTx writes through to the open transaction; nothing is visible to
// other sessions before commit.
type saleTx struct {
	ctx  context.Context
	tx   pgx.Tx
	sale *domain.Sale
}

func (t *saleTx) Sale() *domain.Sale {
	return t.sale.Clone()
}

func (t *saleTx) SaveSale(sale *domain.Sale) error {
	if sale == nil || sale.Config.SaleID != t.sale.Config.SaleID {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE sales SET
			paused = $2, end_time = $3,
			sold_tokens = $4, sold_private = $5, sold_public = $6,
			total_raised_usd = $7, contributors = $8, phase = $9,
			is_active = $10, is_finalized = $11, refund_enabled = $12, updated_at = $13
		WHERE sale_id = $1
	`
	_, err := t.tx.Exec(t.ctx, query,
		sale.Config.SaleID, sale.Config.Paused, sale.Config.EndTime,
		sale.State.SoldTokens, sale.State.SoldPrivate, sale.State.SoldPublic,
		sale.State.TotalRaisedUSD, sale.State.Contributors, string(sale.State.Phase),
		sale.State.IsActive, sale.State.IsFinalized, sale.State.RefundEnabled, sale.UpdatedAt,
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		return fmt.Errorf("update sale: %w", err)
	}
	t.sale = sale.Clone()
	return nil
}

func (t *saleTx) Contributor(contributor domain.PublicKey) (*domain.ContributorRecord, error) {
	query := `SELECT ` + contributorColumns + ` FROM contributors
		WHERE sale_id = $1 AND contributor = $2
		FOR UPDATE`

	rec, err := scanContributor(t.tx.QueryRow(t.ctx, query, t.sale.Config.SaleID, contributor.String()))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get contributor: %w", err)
	}
	return rec, nil
}

func (t *saleTx) SaveContributor(rec *domain.ContributorRecord) error {
	if rec == nil || rec.SaleID != t.sale.Config.SaleID || rec.Contributor.IsZero() {
		return storage.ErrInvalidInput
	}

	payments, err := json.Marshal(paymentsOrEmpty(rec.Payments))
	if err != nil {
		return fmt.Errorf("marshal payments: %w", err)
	}

	query := `
		INSERT INTO contributors (` + contributorColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (sale_id, contributor) DO UPDATE SET
			contribution_native = EXCLUDED.contribution_native,
			contribution_usd = EXCLUDED.contribution_usd,
			claimable_tokens = EXCLUDED.claimable_tokens,
			claimed_tokens = EXCLUDED.claimed_tokens,
			purchased_tokens = EXCLUDED.purchased_tokens,
			payments = EXCLUDED.payments,
			vesting_start_ts = EXCLUDED.vesting_start_ts,
			cliff_seconds = EXCLUDED.cliff_seconds,
			daily_release_bps = EXCLUDED.daily_release_bps,
			vesting_days = EXCLUDED.vesting_days,
			last_claim_at = EXCLUDED.last_claim_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err = t.tx.Exec(t.ctx, query,
		rec.SaleID, rec.Contributor.String(), rec.ContributionNative, rec.ContributionUSD,
		rec.ClaimableTokens, rec.ClaimedTokens, rec.PurchasedTokens, payments, rec.VestingStartTS, rec.CliffSeconds,
		int32(rec.DailyReleaseBps), rec.VestingDays, rec.LastClaimAt, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert contributor: %w", err)
	}
	return nil
}

func paymentsOrEmpty(p []domain.Payment) []domain.Payment {
	if p == nil {
		return []domain.Payment{}
	}
	return p
}
