package custody

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presale-ledger/internal/domain"
	"presale-ledger/internal/domain/domaintest"
	"presale-ledger/internal/presale"
)

var programID = domaintest.Key(99)

// flakyTokens fails fungible transfers of one asset.
type flakyTokens struct {
	*Bank
	failAsset domain.Asset
}

func (f *flakyTokens) Transfer(ctx context.Context, from, to domain.PublicKey, amount uint64, asset domain.Asset) error {
	if asset == f.failAsset {
		return errors.New("transfer program rejected instruction")
	}
	return f.Bank.Transfer(ctx, from, to, amount, asset)
}

func newCustody(t *testing.T, bank *Bank, tokens Transferer) *Custody {
	t.Helper()
	if tokens == nil {
		tokens = bank
	}
	c, err := New(Options{Native: bank, Tokens: tokens, Balances: bank, ProgramID: programID})
	require.NoError(t, err)
	return c
}

func balance(t *testing.T, bank *Bank, holder domain.PublicKey, asset domain.Asset) uint64 {
	t.Helper()
	b, err := bank.Balance(context.Background(), holder, asset)
	require.NoError(t, err)
	return b
}

func TestDeriveEscrow(t *testing.T) {
	a1, err := DeriveEscrow(programID, "sale-a")
	require.NoError(t, err)
	a2, err := DeriveEscrow(programID, "sale-a")
	require.NoError(t, err)
	b, err := DeriveEscrow(programID, "sale-b")
	require.NoError(t, err)
	other, err := DeriveEscrow(domaintest.Key(98), "sale-a")
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
	assert.NotEqual(t, a1, other)
	assert.False(t, a1.IsZero())
}

func TestNew_RequiresCapabilities(t *testing.T) {
	_, err := New(Options{ProgramID: programID})
	assert.Error(t, err)

	bank := NewBank()
	_, err = New(Options{Native: bank, Tokens: bank})
	assert.Error(t, err)
}

func TestCollectAndRelease(t *testing.T) {
	ctx := context.Background()
	bank := NewBank()
	c := newCustody(t, bank, nil)
	cfg := domaintest.SaleConfig("s1")
	token := domain.FungibleAsset(cfg.TokenMint)

	escrow, err := c.Escrow("s1")
	require.NoError(t, err)
	require.NoError(t, bank.Deposit(escrow, token, 1_000))
	require.NoError(t, bank.Deposit(domaintest.Alice, domain.NativeAsset(), 500))

	require.NoError(t, c.Collect(ctx, "s1", domaintest.Alice, domain.NativeAsset(), 300))
	assert.Equal(t, uint64(200), balance(t, bank, domaintest.Alice, domain.NativeAsset()))
	assert.Equal(t, uint64(300), balance(t, bank, escrow, domain.NativeAsset()))

	err = c.Collect(ctx, "s1", domaintest.Alice, domain.NativeAsset(), 201)
	assert.ErrorIs(t, err, presale.ErrInsufficientFunds)
	assert.Equal(t, uint64(200), balance(t, bank, domaintest.Alice, domain.NativeAsset()))

	require.NoError(t, c.Release(ctx, &cfg, domaintest.Alice, 250))
	assert.Equal(t, uint64(250), balance(t, bank, domaintest.Alice, token))
	assert.Equal(t, uint64(750), balance(t, bank, escrow, token))
}

func TestRefund_ReversesCompletedLegs(t *testing.T) {
	ctx := context.Background()
	bank := NewBank()
	usdc := domain.FungibleAsset(domaintest.USDC)
	usdt := domain.FungibleAsset(domaintest.USDT)
	c := newCustody(t, bank, &flakyTokens{Bank: bank, failAsset: usdt})

	escrow, err := c.Escrow("s1")
	require.NoError(t, err)
	require.NoError(t, bank.Deposit(escrow, domain.NativeAsset(), 100))
	require.NoError(t, bank.Deposit(escrow, usdc, 40))
	require.NoError(t, bank.Deposit(escrow, usdt, 10))

	payments := []domain.Payment{
		{Asset: domain.NativeAsset(), Amount: 100},
		{Asset: usdc, Amount: 40},
		{Asset: usdt, Amount: 10},
	}
	err = c.Refund(ctx, "s1", domaintest.Bob, payments)
	require.Error(t, err)

	assert.Zero(t, balance(t, bank, domaintest.Bob, domain.NativeAsset()))
	assert.Zero(t, balance(t, bank, domaintest.Bob, usdc))
	assert.Equal(t, uint64(100), balance(t, bank, escrow, domain.NativeAsset()))
	assert.Equal(t, uint64(40), balance(t, bank, escrow, usdc))

	require.NoError(t, c.Refund(ctx, "s1", domaintest.Bob, payments[:2]))
	assert.Equal(t, uint64(100), balance(t, bank, domaintest.Bob, domain.NativeAsset()))
	assert.Equal(t, uint64(40), balance(t, bank, domaintest.Bob, usdc))
}

func TestSweep_SplitsFee(t *testing.T) {
	ctx := context.Background()
	bank := NewBank()
	c := newCustody(t, bank, nil)
	cfg := domaintest.SaleConfig("s1")
	usdc := domain.FungibleAsset(domaintest.USDC)
	token := domain.FungibleAsset(cfg.TokenMint)

	escrow, err := c.Escrow("s1")
	require.NoError(t, err)
	require.NoError(t, bank.Deposit(escrow, domain.NativeAsset(), 1_000_001))
	require.NoError(t, bank.Deposit(escrow, usdc, 400))
	require.NoError(t, bank.Deposit(escrow, token, 5_000))

	results, err := c.Sweep(ctx, &cfg)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, SweepResult{Asset: domain.NativeAsset(), Treasury: 975_001, Fee: 25_000}, results[0])
	assert.Equal(t, SweepResult{Asset: usdc, Treasury: 390, Fee: 10}, results[1])
	assert.Equal(t, uint64(975_001), balance(t, bank, cfg.Treasury, domain.NativeAsset()))
	assert.Equal(t, uint64(25_000), balance(t, bank, cfg.FeeWallet, domain.NativeAsset()))
	assert.Equal(t, uint64(5_000), balance(t, bank, escrow, token))

	again, err := c.Sweep(ctx, &cfg)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestSweep_NoFeeWallet(t *testing.T) {
	bank := NewBank()
	c := newCustody(t, bank, nil)
	cfg := domaintest.SaleConfig("s1")
	cfg.FeeWallet = domain.PublicKey{}

	escrow, err := c.Escrow("s1")
	require.NoError(t, err)
	require.NoError(t, bank.Deposit(escrow, domain.NativeAsset(), 1_000))

	results, err := c.Sweep(context.Background(), &cfg)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(1_000), results[0].Treasury)
	assert.Zero(t, results[0].Fee)
}
