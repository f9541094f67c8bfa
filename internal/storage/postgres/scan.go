package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"presale-ledger/internal/domain"
)

func saleArgs(sale *domain.Sale) []any {
	c, st := &sale.Config, &sale.State
	return []any{
		c.SaleID, c.Authority.String(), c.TokenMint.String(), c.Treasury.String(),
		c.FeeWallet.String(), c.OracleAuthority.String(),
		c.TotalTokens, c.PrivateAllocation, c.PublicAllocation, c.PriceUSDMicro, int16(c.TokenDecimals),
		c.MinBuyUSD, c.MaxPerWalletUSD, c.LPMinThresholdUSD, c.LPTargetUSD, c.AcceptedAssets.Strings(),
		int32(c.DailyReleaseBps), int32(c.VestingDays), c.CliffSeconds, int32(c.FeeBps), c.EndTime, c.Paused,
		st.SoldTokens, st.SoldPrivate, st.SoldPublic, st.TotalRaisedUSD, st.Contributors, string(st.Phase),
		st.IsActive, st.IsFinalized, st.RefundEnabled, sale.CreatedAt, sale.UpdatedAt,
	}
}

// scanSale scans a single row in saleColumns order.
func scanSale(row pgx.Row) (*domain.Sale, error) {
	var (
		sale                                              domain.Sale
		authority, tokenMint, treasury, feeWallet, oracle string
		accepted                                          []string
		tokenDecimals                                     int16
		dailyReleaseBps, vestingDays, feeBps              int32
		phase                                             string
	)
	c, st := &sale.Config, &sale.State

	err := row.Scan(
		&c.SaleID, &authority, &tokenMint, &treasury, &feeWallet, &oracle,
		&c.TotalTokens, &c.PrivateAllocation, &c.PublicAllocation, &c.PriceUSDMicro, &tokenDecimals,
		&c.MinBuyUSD, &c.MaxPerWalletUSD, &c.LPMinThresholdUSD, &c.LPTargetUSD, &accepted,
		&dailyReleaseBps, &vestingDays, &c.CliffSeconds, &feeBps, &c.EndTime, &c.Paused,
		&st.SoldTokens, &st.SoldPrivate, &st.SoldPublic, &st.TotalRaisedUSD, &st.Contributors, &phase,
		&st.IsActive, &st.IsFinalized, &st.RefundEnabled, &sale.CreatedAt, &sale.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	keys := []struct {
		dst *domain.PublicKey
		src string
	}{
		{&c.Authority, authority},
		{&c.TokenMint, tokenMint},
		{&c.Treasury, treasury},
		{&c.FeeWallet, feeWallet},
		{&c.OracleAuthority, oracle},
	}
	for _, k := range keys {
		if err := k.dst.UnmarshalText([]byte(k.src)); err != nil {
			return nil, fmt.Errorf("decode key of sale %s: %w", c.SaleID, err)
		}
	}

	if c.AcceptedAssets, err = domain.ParseAssetSet(accepted); err != nil {
		return nil, fmt.Errorf("decode accepted assets of sale %s: %w", c.SaleID, err)
	}
	c.TokenDecimals = uint8(tokenDecimals)
	c.DailyReleaseBps = uint16(dailyReleaseBps)
	c.VestingDays = uint16(vestingDays)
	c.FeeBps = uint16(feeBps)
	st.Phase = domain.Phase(phase)

	return &sale, nil
}

// scanContributor scans a single row in contributorColumns order.
func scanContributor(row pgx.Row) (*domain.ContributorRecord, error) {
	var (
		rec             domain.ContributorRecord
		contributor     string
		payments        []byte
		dailyReleaseBps int32
	)

	err := row.Scan(
		&rec.SaleID, &contributor, &rec.ContributionNative, &rec.ContributionUSD, &rec.ClaimableTokens,
		&rec.ClaimedTokens, &rec.PurchasedTokens, &payments, &rec.VestingStartTS, &rec.CliffSeconds, &dailyReleaseBps,
		&rec.VestingDays, &rec.LastClaimAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rec.Contributor, err = domain.ParsePublicKey(contributor); err != nil {
		return nil, fmt.Errorf("decode contributor: %w", err)
	}
	if err := json.Unmarshal(payments, &rec.Payments); err != nil {
		return nil, fmt.Errorf("decode payments of %s: %w", contributor, err)
	}
	if len(rec.Payments) == 0 {
		rec.Payments = nil
	}
	rec.DailyReleaseBps = uint16(dailyReleaseBps)

	return &rec, nil
}
