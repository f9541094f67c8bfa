package api

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"

	"presale-ledger/internal/config"
	"presale-ledger/internal/custody"
	"presale-ledger/internal/domain"
	"presale-ledger/internal/lifecycle"
	"presale-ledger/internal/sale"
	"presale-ledger/internal/vesting"
)

// CreateSaleRequest is the body of POST /v1/sales.
// Keys are base58, PriceUSD is a decimal string such as "0.05".
type CreateSaleRequest struct {
	SaleID            string           `json:"sale_id" binding:"required"`
	Authority         domain.PublicKey `json:"authority"`
	TokenMint         domain.PublicKey `json:"token_mint"`
	Treasury          domain.PublicKey `json:"treasury"`
	FeeWallet         domain.PublicKey `json:"fee_wallet"`
	OracleAuthority   domain.PublicKey `json:"oracle_authority"`
	TotalTokens       uint64           `json:"total_tokens"`
	PrivateAllocation uint64           `json:"private_allocation"`
	PublicAllocation  uint64           `json:"public_allocation"`
	PriceUSD          string           `json:"price_usd" binding:"required"`
	TokenDecimals     uint8            `json:"token_decimals"`
	MinBuyUSD         uint64           `json:"min_buy_usd"`
	MaxPerWalletUSD   uint64           `json:"max_per_wallet_usd"`
	LPMinThresholdUSD uint64           `json:"lp_min_threshold_usd"`
	LPTargetUSD       uint64           `json:"lp_target_usd"`
	AcceptedAssets    domain.AssetSet  `json:"accepted_assets"`
	DailyReleaseBps   uint16           `json:"daily_release_bps"`
	VestingDays       uint16           `json:"vesting_days"`
	CliffSeconds      uint64           `json:"cliff_seconds"`
	FeeBps            uint16           `json:"fee_bps"`
	EndTime           int64            `json:"end_time"`
}

// Config converts the request to a sale configuration.
func (r *CreateSaleRequest) Config() (domain.SaleConfig, error) {
	price, err := config.ParsePriceMicro(r.PriceUSD)
	if err != nil {
		return domain.SaleConfig{}, err
	}
	return domain.SaleConfig{
		SaleID:            r.SaleID,
		Authority:         r.Authority,
		TokenMint:         r.TokenMint,
		Treasury:          r.Treasury,
		FeeWallet:         r.FeeWallet,
		OracleAuthority:   r.OracleAuthority,
		TotalTokens:       r.TotalTokens,
		PrivateAllocation: r.PrivateAllocation,
		PublicAllocation:  r.PublicAllocation,
		PriceUSDMicro:     price,
		TokenDecimals:     r.TokenDecimals,
		MinBuyUSD:         r.MinBuyUSD,
		MaxPerWalletUSD:   r.MaxPerWalletUSD,
		LPMinThresholdUSD: r.LPMinThresholdUSD,
		LPTargetUSD:       r.LPTargetUSD,
		AcceptedAssets:    r.AcceptedAssets,
		DailyReleaseBps:   r.DailyReleaseBps,
		VestingDays:       r.VestingDays,
		CliffSeconds:      r.CliffSeconds,
		FeeBps:            r.FeeBps,
		EndTime:           r.EndTime,
	}, nil
}

// AttestationRequest carries an oracle attestation with a base58 signature.
type AttestationRequest struct {
	USDValue  uint64 `json:"usd_value"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature" binding:"required"`
}

// ContributeRequest is the body of POST /v1/sales/:id/contributions.
// Native payments are priced by the server's feed or by Attestation.
type ContributeRequest struct {
	Contributor domain.PublicKey    `json:"contributor"`
	Asset       domain.Asset        `json:"asset"`
	Amount      uint64              `json:"amount"`
	Attestation *AttestationRequest `json:"attestation,omitempty"`
}

func (r *ContributeRequest) toService(saleID string) (sale.ContributeRequest, error) {
	if r.Contributor.IsZero() {
		return sale.ContributeRequest{}, errors.New("contributor is required")
	}
	if !r.Asset.Kind.IsValid() {
		return sale.ContributeRequest{}, errors.New("asset is required")
	}
	req := sale.ContributeRequest{
		SaleID:      saleID,
		Contributor: r.Contributor,
		Asset:       r.Asset,
		Amount:      r.Amount,
	}
	if r.Attestation != nil {
		sig, err := base58.Decode(r.Attestation.Signature)
		if err != nil {
			return sale.ContributeRequest{}, fmt.Errorf("decode attestation signature: %w", err)
		}
		if len(sig) != domain.AttestationSignatureLength {
			return sale.ContributeRequest{}, fmt.Errorf("attestation signature must be %d bytes, got %d", domain.AttestationSignatureLength, len(sig))
		}
		att := &domain.Attestation{USDValue: r.Attestation.USDValue, Nonce: r.Attestation.Nonce}
		copy(att.Signature[:], sig)
		req.Attestation = att
	}
	return req, nil
}

// ContributeResponse describes an accepted contribution.
type ContributeResponse struct {
	USDValue       uint64       `json:"usd_value"`
	TokensReserved uint64       `json:"tokens_reserved"`
	Phase          domain.Phase `json:"phase"`
	Source         string       `json:"source"`
	AttestationID  string       `json:"attestation_id,omitempty"`
}

func newContributeResponse(res sale.ContributeResult) ContributeResponse {
	return ContributeResponse{
		USDValue:       res.USDValue,
		TokensReserved: res.TokensReserved,
		Phase:          res.Phase,
		Source:         res.Source.String(),
		AttestationID:  res.AttestationID,
	}
}

// ContributorRequest names the contributor of a claim or refund.
type ContributorRequest struct {
	Contributor domain.PublicKey `json:"contributor"`
}

// ClaimResponse describes a vesting claim.
type ClaimResponse struct {
	Amount    uint64 `json:"amount"`
	Claimed   uint64 `json:"claimed"`
	Remaining uint64 `json:"remaining"`
}

// RefundResponse lists what was returned to the contributor.
type RefundResponse struct {
	Payments []domain.Payment `json:"payments"`
	Tokens   uint64           `json:"tokens"`
	USDValue uint64           `json:"usd_value"`
}

func newRefundResponse(res lifecycle.RefundResult) RefundResponse {
	payments := res.Payments
	if payments == nil {
		payments = []domain.Payment{}
	}
	return RefundResponse{Payments: payments, Tokens: res.Tokens, USDValue: res.USDValue}
}

// PhaseRequest is the body of POST /v1/sales/:id/phase.
type PhaseRequest struct {
	Phase domain.Phase `json:"phase" binding:"required"`
}

// FinalizeResponse carries the outcome of finalization.
type FinalizeResponse struct {
	Status domain.SaleStatus `json:"status"`
}

// SweepResponse is one withdrawn asset.
type SweepResponse struct {
	Asset    domain.Asset `json:"asset"`
	Treasury uint64       `json:"treasury"`
	Fee      uint64       `json:"fee"`
}

func newSweepResponses(results []custody.SweepResult) []SweepResponse {
	out := make([]SweepResponse, len(results))
	for i, r := range results {
		out[i] = SweepResponse{Asset: r.Asset, Treasury: r.Treasury, Fee: r.Fee}
	}
	return out
}

// VestingRequest is the body of POST /v1/sales/:id/vesting.
type VestingRequest struct {
	Contributor     domain.PublicKey `json:"contributor"`
	TotalAmount     uint64           `json:"total_amount"`
	StartTimestamp  int64            `json:"start_timestamp"`
	CliffSeconds    uint64           `json:"cliff_seconds"`
	DailyReleaseBps uint16           `json:"daily_release_bps"`
	TotalDays       uint64           `json:"total_days"`
}

func (r *VestingRequest) params() vesting.Params {
	return vesting.Params{
		TotalAmount:     r.TotalAmount,
		StartTimestamp:  r.StartTimestamp,
		CliffSeconds:    r.CliffSeconds,
		DailyReleaseBps: r.DailyReleaseBps,
		TotalDays:       r.TotalDays,
	}
}

// QuoteResponse is what a claim would release now.
type QuoteResponse struct {
	ElapsedDays uint64 `json:"elapsed_days"`
	Vested      uint64 `json:"vested"`
	Claimable   uint64 `json:"claimable"`
}

// ContributorResponse is a contributor record with a claim preview.
type ContributorResponse struct {
	SaleID             string           `json:"sale_id"`
	Contributor        domain.PublicKey `json:"contributor"`
	ContributionNative uint64           `json:"contribution_native"`
	ContributionUSD    uint64           `json:"contribution_usd"`
	ClaimableTokens    uint64           `json:"claimable_tokens"`
	ClaimedTokens      uint64           `json:"claimed_tokens"`
	PurchasedTokens    uint64           `json:"purchased_tokens"`
	Payments           []domain.Payment `json:"payments"`
	VestingStart       int64            `json:"vesting_start,omitempty"`
	CliffSeconds       uint64           `json:"cliff_seconds"`
	DailyReleaseBps    uint16           `json:"daily_release_bps"`
	VestingDays        uint64           `json:"vesting_days"`
	LastClaimAt        int64            `json:"last_claim_at,omitempty"`
	Claim              *QuoteResponse   `json:"claim,omitempty"`
	ClaimBlockedBy     string           `json:"claim_blocked_by,omitempty"`
}

func newContributorResponse(rec *domain.ContributorRecord) ContributorResponse {
	payments := rec.Payments
	if payments == nil {
		payments = []domain.Payment{}
	}
	return ContributorResponse{
		SaleID:             rec.SaleID,
		Contributor:        rec.Contributor,
		ContributionNative: rec.ContributionNative,
		ContributionUSD:    rec.ContributionUSD,
		ClaimableTokens:    rec.ClaimableTokens,
		ClaimedTokens:      rec.ClaimedTokens,
		PurchasedTokens:    rec.PurchasedTokens,
		Payments:           payments,
		VestingStart:       rec.VestingStartTS,
		CliffSeconds:       rec.CliffSeconds,
		DailyReleaseBps:    rec.DailyReleaseBps,
		VestingDays:        rec.VestingDays,
		LastClaimAt:        rec.LastClaimAt,
	}
}

func newContributorView(view *sale.ContributorView) ContributorResponse {
	resp := newContributorResponse(view.Record)
	if q := view.Quote; q != nil {
		resp.Claim = &QuoteResponse{ElapsedDays: q.ElapsedDays, Vested: q.Vested, Claimable: q.Claimable}
	}
	resp.ClaimBlockedBy = view.QuoteError
	return resp
}
