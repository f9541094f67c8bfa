package custody

import (
	"context"
	"fmt"
	"sync"

	"presale-ledger/internal/domain"
	"presale-ledger/internal/presale"
)

type holding struct {
	holder domain.PublicKey
	asset  domain.Asset
}

// Bank is an in-memory balance book implementing NativeLedger, Transferer
// and BalanceReader. Every move is atomic.
type Bank struct {
	mu       sync.Mutex
	balances map[holding]uint64
}

// NewBank creates an empty Bank.
func NewBank() *Bank {
	return &Bank{balances: make(map[holding]uint64)}
}

var (
	_ NativeLedger  = (*Bank)(nil)
	_ Transferer    = (*Bank)(nil)
	_ BalanceReader = (*Bank)(nil)
)

// Deposit credits holder with amount of asset.
func (b *Bank) Deposit(holder domain.PublicKey, asset domain.Asset, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := holding{holder, asset}
	sum, err := presale.CheckedAdd(b.balances[key], amount)
	if err != nil {
		return err
	}
	b.balances[key] = sum
	return nil
}

// Balance returns holder's balance of asset.
func (b *Bank) Balance(_ context.Context, holder domain.PublicKey, asset domain.Asset) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[holding{holder, asset}], nil
}

// MoveNative moves native units from one holder to another.
func (b *Bank) MoveNative(ctx context.Context, from, to domain.PublicKey, amount uint64) error {
	return b.Transfer(ctx, from, to, amount, domain.NativeAsset())
}

// Transfer moves amount of asset from one holder to another.
func (b *Bank) Transfer(ctx context.Context, from, to domain.PublicKey, amount uint64, asset domain.Asset) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	src, dst := holding{from, asset}, holding{to, asset}
	if b.balances[src] < amount {
		return fmt.Errorf("%w: %s holds %d %s, needs %d", presale.ErrInsufficientFunds, from, b.balances[src], asset, amount)
	}
	if from == to {
		return nil
	}
	credited, err := presale.CheckedAdd(b.balances[dst], amount)
	if err != nil {
		return err
	}
	b.balances[src] -= amount
	b.balances[dst] = credited
	return nil
}
