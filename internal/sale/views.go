package sale

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"

	"presale-ledger/internal/domain"
	"presale-ledger/internal/lifecycle"
	"presale-ledger/internal/presale"
	"presale-ledger/internal/vesting"
)

// Status is a read-only summary of a sale.
type Status struct {
	SaleID          string            `json:"sale_id"`
	Status          domain.SaleStatus `json:"status"`
	Phase           domain.Phase      `json:"phase"`
	Paused          bool              `json:"paused"`
	PriceUSD        string            `json:"price_usd"`
	TotalTokens     uint64            `json:"total_tokens"`
	SoldTokens      uint64            `json:"sold_tokens"`
	RemainingTokens uint64            `json:"remaining_tokens"`
	TotalRaisedUSD  uint64            `json:"total_raised_usd"`
	LPTargetUSD     uint64            `json:"lp_target_usd"`
	Progress        string            `json:"progress_percent"`
	Contributors    uint64            `json:"contributors"`
	RefundEnabled   bool              `json:"refund_enabled"`
	LPEligible      bool              `json:"lp_eligible"`
	EndTime         int64             `json:"end_time,omitempty"`
}

// Status returns the summary of saleID.
func (s *Service) Status(ctx context.Context, saleID string) (*Status, error) {
	sale, err := s.store.Get(ctx, saleID)
	if err != nil {
		return nil, err
	}
	return NewStatus(sale), nil
}

// NewStatus summarizes sale.
func NewStatus(sale *domain.Sale) *Status {
	cfg, state := &sale.Config, &sale.State

	var remaining uint64
	if state.SoldTokens < cfg.TotalTokens {
		remaining = cfg.TotalTokens - state.SoldTokens
	}

	return &Status{
		SaleID:          cfg.SaleID,
		Status:          state.Status(),
		Phase:           state.Phase,
		Paused:          cfg.Paused,
		PriceUSD:        FormatMicroUSD(cfg.PriceUSDMicro),
		TotalTokens:     cfg.TotalTokens,
		SoldTokens:      state.SoldTokens,
		RemainingTokens: remaining,
		TotalRaisedUSD:  state.TotalRaisedUSD,
		LPTargetUSD:     cfg.LPTargetUSD,
		Progress:        ProgressPercent(state.TotalRaisedUSD, cfg.LPTargetUSD),
		Contributors:    state.Contributors,
		RefundEnabled:   state.RefundEnabled,
		LPEligible:      lifecycle.LPEligible(cfg, state),
		EndTime:         cfg.EndTime,
	}
}

func fromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// ProgressPercent returns raised as a percentage of target with two
// decimals, truncated. A sale without a target reports "0.00".
func ProgressPercent(raised, target uint64) string {
	if target == 0 {
		return "0.00"
	}
	pct := fromUint64(raised).Mul(decimal.NewFromInt(100)).Div(fromUint64(target))
	return pct.Truncate(2).StringFixed(2)
}

// FormatMicroUSD renders a micro-USD amount as a decimal string.
func FormatMicroUSD(micro uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(micro), -6).String()
}

// ContributorView is a contributor record plus what could be claimed now.
type ContributorView struct {
	Record *domain.ContributorRecord
	Quote  *vesting.Quote
	// QuoteError is the error code that would block a claim now, if any.
	QuoteError string
}

// Contributor returns the record of pk with a claim preview at the current time.
func (s *Service) Contributor(ctx context.Context, saleID string, pk domain.PublicKey) (*ContributorView, error) {
	rec, err := s.store.GetContributor(ctx, saleID, pk)
	if err != nil {
		return nil, err
	}
	view := &ContributorView{Record: rec}

	schedule, err := rec.Schedule()
	if err == nil {
		var q vesting.Quote
		if q, err = vesting.Preview(schedule, s.now().Unix()); err == nil {
			view.Quote = &q
		}
	}
	if err != nil {
		view.QuoteError = presale.Code(err)
		if view.QuoteError == "" {
			return nil, err
		}
	}
	return view, nil
}

// Contributors returns every record of saleID.
func (s *Service) Contributors(ctx context.Context, saleID string) ([]*domain.ContributorRecord, error) {
	if _, err := s.store.Get(ctx, saleID); err != nil {
		return nil, err
	}
	return s.store.ListContributors(ctx, saleID)
}
