// Package lifecycle is the sale state machine: Active, then Finalized in
// success or failure, with an orthogonal paused flag.
package lifecycle

import (
	"fmt"

	"presale-ledger/internal/domain"
	"presale-ledger/internal/presale"
)

// Authorize fails with ErrUnauthorized unless caller is the sale authority.
func Authorize(cfg *domain.SaleConfig, caller domain.PublicKey) error {
	if caller.IsZero() || caller != cfg.Authority {
		return presale.ErrUnauthorized
	}
	return nil
}

// CheckAcceptingContributions reports whether a contribution may be recorded.
func CheckAcceptingContributions(cfg *domain.SaleConfig, state *domain.SaleState) error {
	switch {
	case state.IsFinalized:
		return presale.ErrPresaleFinalized
	case !state.IsActive:
		return presale.ErrPresaleNotActive
	case cfg.Paused:
		return presale.ErrPaused
	}
	return nil
}

// Pause suspends contributions. Pausing a paused sale is a no-op.
func Pause(cfg *domain.SaleConfig, state *domain.SaleState, caller domain.PublicKey) error {
	if err := Authorize(cfg, caller); err != nil {
		return err
	}
	if state.IsFinalized {
		return presale.ErrPresaleFinalized
	}
	cfg.Paused = true
	return nil
}

// Unpause resumes contributions.
func Unpause(cfg *domain.SaleConfig, state *domain.SaleState, caller domain.PublicKey) error {
	if err := Authorize(cfg, caller); err != nil {
		return err
	}
	if state.IsFinalized {
		return presale.ErrPresaleFinalized
	}
	cfg.Paused = false
	return nil
}

// Finalize closes the sale. It succeeds when TotalRaisedUSD reached
// LPMinThresholdUSD and opens refunds otherwise. Irreversible.
func Finalize(cfg *domain.SaleConfig, state *domain.SaleState, caller domain.PublicKey) (domain.SaleStatus, error) {
	if err := Authorize(cfg, caller); err != nil {
		return "", err
	}
	if state.IsFinalized {
		return "", presale.ErrPresaleFinalized
	}
	if !state.IsActive {
		return "", presale.ErrPresaleNotActive
	}

	state.IsActive = false
	state.IsFinalized = true
	state.RefundEnabled = state.TotalRaisedUSD < cfg.LPMinThresholdUSD
	return state.Status(), nil
}

// LPEligible reports whether raised funds reached the liquidity target.
// Liquidity creation itself happens elsewhere.
func LPEligible(cfg *domain.SaleConfig, state *domain.SaleState) bool {
	return state.IsFinalized && !state.RefundEnabled && cfg.LPTargetUSD > 0 && state.TotalRaisedUSD >= cfg.LPTargetUSD
}

// SetPhase moves the sale to phase p while it is still open.
func SetPhase(cfg *domain.SaleConfig, state *domain.SaleState, caller domain.PublicKey, p domain.Phase) error {
	if err := Authorize(cfg, caller); err != nil {
		return err
	}
	if !p.IsValid() {
		return fmt.Errorf("%w: unknown phase %q", presale.ErrInvalidConfig, p)
	}
	if state.IsFinalized {
		return presale.ErrPresaleFinalized
	}
	state.Phase = p
	return nil
}

// CheckWithdraw allows treasury sweeps only after a successful sale.
func CheckWithdraw(cfg *domain.SaleConfig, state *domain.SaleState, caller domain.PublicKey) error {
	if err := Authorize(cfg, caller); err != nil {
		return err
	}
	if state.Status() != domain.SaleStatusSucceeded {
		return presale.ErrFundsLocked
	}
	return nil
}

// RefundResult is what a refund pays back.
type RefundResult struct {
	Payments []domain.Payment
	Tokens   uint64
	USDValue uint64
}

// Refund zeroes the paid-in share of rec and releases its tokens and USD
// from the sale totals. An authority grant on the same record is kept.
// The returned payments are what custody must send back. state and rec are
// unchanged on error.
func Refund(state *domain.SaleState, rec *domain.ContributorRecord, now int64) (RefundResult, error) {
	if !state.IsFinalized || !state.RefundEnabled {
		return RefundResult{}, presale.ErrRefundNotEnabled
	}
	// Grants set by the authority carry no payments and are not refundable.
	if len(rec.Payments) == 0 {
		return RefundResult{}, presale.ErrNothingToRefund
	}
	if rec.ClaimedTokens > 0 {
		return RefundResult{}, presale.ErrAlreadyClaimed
	}

	var err error
	next := *state
	if next.SoldTokens, err = presale.CheckedSub(state.SoldTokens, rec.PurchasedTokens); err != nil {
		return RefundResult{}, err
	}
	claimable, err := presale.CheckedSub(rec.ClaimableTokens, rec.PurchasedTokens)
	if err != nil {
		return RefundResult{}, err
	}
	if next.TotalRaisedUSD, err = presale.CheckedSub(state.TotalRaisedUSD, rec.ContributionUSD); err != nil {
		return RefundResult{}, err
	}

	res := RefundResult{
		Payments: rec.Clone().Payments,
		Tokens:   rec.PurchasedTokens,
		USDValue: rec.ContributionUSD,
	}
	*state = next
	rec.ClaimableTokens = claimable
	rec.PurchasedTokens = 0
	rec.ContributionUSD = 0
	rec.ContributionNative = 0
	rec.Payments = nil
	rec.UpdatedAt = now
	return res, nil
}
