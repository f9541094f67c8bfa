// Package domaintest provides fixtures for tests that need sales and keys.
package domaintest

import (
	"bytes"
	"crypto/ed25519"

	"presale-ledger/internal/domain"
)

// Key returns a deterministic key filled with b.
func Key(b byte) domain.PublicKey {
	var k domain.PublicKey
	for i := range k {
		k[i] = b
	}
	k[0] = b ^ 0x5a
	return k
}

// Fixed keys used across tests.
var (
	Authority = Key(1)
	TokenMint = Key(2)
	Treasury  = Key(3)
	FeeWallet = Key(4)
	USDC      = Key(5)
	USDT      = Key(6)
	Alice     = Key(10)
	Bob       = Key(11)
	Carol     = Key(12)
)

// Oracle returns a deterministic ed25519 oracle key pair.
func Oracle() (ed25519.PrivateKey, domain.PublicKey) {
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{0x42}, ed25519.SeedSize))
	var pk domain.PublicKey
	copy(pk[:], priv.Public().(ed25519.PublicKey))
	return priv, pk
}

// SaleConfig returns a valid config: $0.10 per 9-decimal token, $10 minimum,
// $500 per wallet, 5% daily over 20 days, USDC accepted.
func SaleConfig(saleID string) domain.SaleConfig {
	_, oracle := Oracle()
	assets, err := domain.NewAssetSet(USDC)
	if err != nil {
		panic(err)
	}
	return domain.SaleConfig{
		SaleID:            saleID,
		Authority:         Authority,
		TokenMint:         TokenMint,
		Treasury:          Treasury,
		FeeWallet:         FeeWallet,
		OracleAuthority:   oracle,
		TotalTokens:       100_000 * 1_000_000_000,
		PriceUSDMicro:     100_000,
		TokenDecimals:     9,
		MinBuyUSD:         10,
		MaxPerWalletUSD:   500,
		LPMinThresholdUSD: 1_000,
		LPTargetUSD:       5_000,
		AcceptedAssets:    assets,
		DailyReleaseBps:   500,
		VestingDays:       20,
		FeeBps:            250,
	}
}

// Sale returns a fresh active sale built from SaleConfig.
func Sale(saleID string) *domain.Sale {
	return &domain.Sale{Config: SaleConfig(saleID), State: domain.NewSaleState()}
}
