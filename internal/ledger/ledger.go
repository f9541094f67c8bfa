// Package ledger is the per-sale and per-contributor bookkeeping. It is the
// only writer of sale totals and per-wallet totals.
package ledger

import (
	"fmt"

	"presale-ledger/internal/domain"
	"presale-ledger/internal/presale"
)

// Contribution is a valued payment ready to be recorded.
type Contribution struct {
	Asset    domain.Asset
	Amount   uint64 // base units of Asset
	USDValue uint64 // whole USD
	Now      int64  // unix seconds
}

// Result describes an accepted contribution.
type Result struct {
	TokensReserved    uint64
	Phase             domain.Phase
	FirstContribution bool
}

// TokensForUSD returns floor(usd * 10^6 * 10^decimals / priceMicro).
func TokensForUSD(cfg *domain.SaleConfig, usd uint64) (uint64, error) {
	scale, err := presale.Pow10(6 + cfg.TokenDecimals)
	if err != nil {
		return 0, err
	}
	return presale.MulDiv(usd, scale, cfg.PriceUSDMicro)
}

// RecordContribution applies c to state and rec. On error neither is
// modified. Lifecycle gating is the caller's job.
func RecordContribution(cfg *domain.SaleConfig, state *domain.SaleState, rec *domain.ContributorRecord, c Contribution) (Result, error) {
	if !c.Asset.IsNative() && !cfg.AcceptedAssets.Contains(c.Asset.Mint) {
		return Result{}, fmt.Errorf("%w: %s", presale.ErrUnsupportedAsset, c.Asset)
	}
	if c.USDValue < cfg.MinBuyUSD || c.USDValue == 0 {
		return Result{}, fmt.Errorf("%w: $%d < $%d", presale.ErrMinBuyNotMet, c.USDValue, cfg.MinBuyUSD)
	}
	projectedUSD, err := presale.CheckedAdd(rec.ContributionUSD, c.USDValue)
	if err != nil {
		return Result{}, err
	}
	if projectedUSD > cfg.MaxPerWalletUSD {
		return Result{}, fmt.Errorf("%w: $%d > $%d", presale.ErrPerWalletCapExceeded, projectedUSD, cfg.MaxPerWalletUSD)
	}

	tokens, err := TokensForUSD(cfg, c.USDValue)
	if err != nil {
		return Result{}, err
	}
	if tokens == 0 {
		return Result{}, fmt.Errorf("%w: $%d buys no tokens", presale.ErrMinBuyNotMet, c.USDValue)
	}

	// Stage every new value before touching state or rec.
	next := *state
	phaseSold, err := presale.CheckedAdd(state.PhaseSold(state.Phase), tokens)
	if err != nil {
		return Result{}, err
	}
	if phaseSold > cfg.PhaseAllocation(state.Phase) {
		return Result{}, fmt.Errorf("%w: %s tier %d > %d", presale.ErrPhaseCapExceeded, state.Phase, phaseSold, cfg.PhaseAllocation(state.Phase))
	}
	if state.Phase == domain.PhasePrivate {
		next.SoldPrivate = phaseSold
	} else {
		next.SoldPublic = phaseSold
	}
	if next.SoldTokens, err = presale.CheckedAdd(state.SoldTokens, tokens); err != nil {
		return Result{}, err
	}
	if next.SoldTokens > cfg.TotalTokens {
		return Result{}, fmt.Errorf("%w: sold %d > %d", presale.ErrPhaseCapExceeded, next.SoldTokens, cfg.TotalTokens)
	}
	if next.TotalRaisedUSD, err = presale.CheckedAdd(state.TotalRaisedUSD, c.USDValue); err != nil {
		return Result{}, err
	}

	updated := rec.Clone()
	updated.ContributionUSD = projectedUSD
	if updated.ClaimableTokens, err = presale.CheckedAdd(rec.ClaimableTokens, tokens); err != nil {
		return Result{}, err
	}
	if updated.PurchasedTokens, err = presale.CheckedAdd(rec.PurchasedTokens, tokens); err != nil {
		return Result{}, err
	}
	if _, err = updated.Entitlement(); err != nil {
		return Result{}, err
	}
	if c.Asset.IsNative() {
		if updated.ContributionNative, err = presale.CheckedAdd(rec.ContributionNative, c.Amount); err != nil {
			return Result{}, err
		}
	}
	if err = addPayment(updated, c.Asset, c.Amount); err != nil {
		return Result{}, err
	}

	first := rec.ContributionUSD == 0 && len(rec.Payments) == 0
	if first {
		next.Contributors, err = presale.CheckedAdd(state.Contributors, 1)
		if err != nil {
			return Result{}, err
		}
	}
	if updated.CreatedAt == 0 {
		updated.CreatedAt = c.Now
	}
	// The vesting clock starts once and is never reset by top-ups.
	if !updated.HasVesting() {
		updated.VestingStartTS = c.Now
		updated.CliffSeconds = cfg.CliffSeconds
		updated.DailyReleaseBps = cfg.DailyReleaseBps
		updated.VestingDays = uint64(cfg.VestingDays)
	}
	updated.UpdatedAt = c.Now

	*state = next
	*rec = *updated
	return Result{TokensReserved: tokens, Phase: state.Phase, FirstContribution: first}, nil
}

func addPayment(rec *domain.ContributorRecord, asset domain.Asset, amount uint64) error {
	for i := range rec.Payments {
		if rec.Payments[i].Asset == asset {
			sum, err := presale.CheckedAdd(rec.Payments[i].Amount, amount)
			if err != nil {
				return err
			}
			rec.Payments[i].Amount = sum
			return nil
		}
	}
	rec.Payments = append(rec.Payments, domain.Payment{Asset: asset, Amount: amount})
	return nil
}
