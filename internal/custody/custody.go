// Package custody moves funds between contributors, the sale escrow, the
// treasury and the fee wallet.
package custody

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"presale-ledger/internal/domain"
	"presale-ledger/internal/presale"
)

// EscrowSeed prefixes every escrow derivation.
var EscrowSeed = []byte("escrow")

// Transferer moves fungible assets atomically or fails.
type Transferer interface {
	Transfer(ctx context.Context, from, to domain.PublicKey, amount uint64, asset domain.Asset) error
}

// NativeLedger debits and credits native balances as one atomic pair.
type NativeLedger interface {
	MoveNative(ctx context.Context, from, to domain.PublicKey, amount uint64) error
}

// BalanceReader reads a holder's balance of asset.
type BalanceReader interface {
	Balance(ctx context.Context, holder domain.PublicKey, asset domain.Asset) (uint64, error)
}

// DeriveEscrow returns the program-derived escrow authority of a sale. It has
// no private key; only the program controls it.
func DeriveEscrow(programID domain.PublicKey, saleID string) (domain.PublicKey, error) {
	saleHash := sha256.Sum256([]byte(saleID))
	seeds := [][]byte{EscrowSeed, saleHash[:]}

	address, _, err := solana.FindProgramAddress(seeds, solana.PublicKeyFromBytes(programID[:]))
	if err != nil {
		return domain.PublicKey{}, fmt.Errorf("failed to find escrow PDA for sale %s: %w", saleID, err)
	}
	return domain.PublicKey(address), nil
}

// Options configures a Custody.
type Options struct {
	Native    NativeLedger
	Tokens    Transferer
	Balances  BalanceReader
	ProgramID domain.PublicKey
	Logger    logrus.FieldLogger
}

// Custody executes fund movements for committed ledger decisions.
type Custody struct {
	native    NativeLedger
	tokens    Transferer
	balances  BalanceReader
	programID domain.PublicKey
	log       logrus.FieldLogger

	escrows sync.Map // saleID -> domain.PublicKey
}

// New creates a Custody.
func New(opts Options) (*Custody, error) {
	if opts.Native == nil || opts.Tokens == nil {
		return nil, errors.New("custody: native ledger and token transferer are required")
	}
	if opts.ProgramID.IsZero() {
		return nil, errors.New("custody: program id is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Custody{
		native:    opts.Native,
		tokens:    opts.Tokens,
		balances:  opts.Balances,
		programID: opts.ProgramID,
		log:       opts.Logger.WithField("component", "custody"),
	}, nil
}

// Escrow returns the escrow authority of saleID.
func (c *Custody) Escrow(saleID string) (domain.PublicKey, error) {
	if v, ok := c.escrows.Load(saleID); ok {
		return v.(domain.PublicKey), nil
	}
	escrow, err := DeriveEscrow(c.programID, saleID)
	if err != nil {
		return domain.PublicKey{}, err
	}
	c.escrows.Store(saleID, escrow)
	return escrow, nil
}

func (c *Custody) move(ctx context.Context, from, to domain.PublicKey, amount uint64, asset domain.Asset) error {
	if amount == 0 {
		return nil
	}
	if asset.IsNative() {
		return c.native.MoveNative(ctx, from, to, amount)
	}
	return c.tokens.Transfer(ctx, from, to, amount, asset)
}

// Collect moves a contribution from payer into the sale escrow.
func (c *Custody) Collect(ctx context.Context, saleID string, payer domain.PublicKey, asset domain.Asset, amount uint64) error {
	escrow, err := c.Escrow(saleID)
	if err != nil {
		return err
	}
	if err := c.move(ctx, payer, escrow, amount, asset); err != nil {
		return fmt.Errorf("collect %d %s from %s: %w", amount, asset, payer, err)
	}
	return nil
}

// Release moves vested sale tokens from escrow to contributor.
func (c *Custody) Release(ctx context.Context, cfg *domain.SaleConfig, contributor domain.PublicKey, amount uint64) error {
	escrow, err := c.Escrow(cfg.SaleID)
	if err != nil {
		return err
	}
	if err := c.move(ctx, escrow, contributor, amount, domain.FungibleAsset(cfg.TokenMint)); err != nil {
		return fmt.Errorf("release %d tokens to %s: %w", amount, contributor, err)
	}
	return nil
}

// Refund pays every payment back to contributor. If any leg fails the
// completed legs are reversed so no partial refund is observable.
func (c *Custody) Refund(ctx context.Context, saleID string, contributor domain.PublicKey, payments []domain.Payment) error {
	escrow, err := c.Escrow(saleID)
	if err != nil {
		return err
	}

	for i, p := range payments {
		if err := c.move(ctx, escrow, contributor, p.Amount, p.Asset); err != nil {
			c.compensate(ctx, contributor, escrow, payments[:i])
			return fmt.Errorf("refund %d %s to %s: %w", p.Amount, p.Asset, contributor, err)
		}
	}
	return nil
}

// compensate reverses legs already moved from escrow to holder.
func (c *Custody) compensate(ctx context.Context, holder, escrow domain.PublicKey, legs []domain.Payment) {
	for i := len(legs) - 1; i >= 0; i-- {
		p := legs[i]
		if err := c.move(context.WithoutCancel(ctx), holder, escrow, p.Amount, p.Asset); err != nil {
			c.log.WithFields(logrus.Fields{
				"holder": holder.String(),
				"asset":  p.Asset.String(),
				"amount": p.Amount,
			}).WithError(err).Error("Failed to reverse transfer leg")
		}
	}
}

// SweepResult is one asset moved out of escrow.
type SweepResult struct {
	Asset    domain.Asset
	Treasury uint64
	Fee      uint64
}

// Sweep moves every escrowed payment asset to the treasury, routing
// FeeBps of each to the fee wallet when one is configured. The sale token
// stays in escrow for vesting.
func (c *Custody) Sweep(ctx context.Context, cfg *domain.SaleConfig) ([]SweepResult, error) {
	if c.balances == nil {
		return nil, errors.New("custody: balance reader is required to sweep")
	}
	escrow, err := c.Escrow(cfg.SaleID)
	if err != nil {
		return nil, err
	}

	assets := []domain.Asset{domain.NativeAsset()}
	for _, mint := range cfg.AcceptedAssets.Mints() {
		if mint != cfg.TokenMint {
			assets = append(assets, domain.FungibleAsset(mint))
		}
	}

	var results []SweepResult
	for _, asset := range assets {
		balance, err := c.balances.Balance(ctx, escrow, asset)
		if err != nil {
			return results, fmt.Errorf("read escrow balance of %s: %w", asset, err)
		}
		if balance == 0 {
			continue
		}

		var fee uint64
		if !cfg.FeeWallet.IsZero() {
			if fee, err = presale.BpsOf(balance, cfg.FeeBps); err != nil {
				return results, err
			}
		}
		net := balance - fee

		if err := c.move(ctx, escrow, cfg.FeeWallet, fee, asset); err != nil {
			return results, fmt.Errorf("sweep fee %d %s: %w", fee, asset, err)
		}
		if err := c.move(ctx, escrow, cfg.Treasury, net, asset); err != nil {
			c.compensate(ctx, cfg.FeeWallet, escrow, []domain.Payment{{Asset: asset, Amount: fee}})
			return results, fmt.Errorf("sweep %d %s to treasury: %w", net, asset, err)
		}
		results = append(results, SweepResult{Asset: asset, Treasury: net, Fee: fee})
	}
	return results, nil
}
