package domain

// EventKind identifies an observable sale event.
type EventKind string

const (
	EventContributionRecorded EventKind = "CONTRIBUTION_RECORDED"
	EventVestingClaimed       EventKind = "VESTING_CLAIMED"
	EventVestingInitialized   EventKind = "VESTING_INITIALIZED"
	EventFundsToTreasury      EventKind = "FUNDS_TRANSFERRED_TO_TREASURY"
	EventSalePaused           EventKind = "SALE_PAUSED"
	EventSaleUnpaused         EventKind = "SALE_UNPAUSED"
	EventSaleSucceeded        EventKind = "SALE_SUCCEEDED"
	EventSaleFailed           EventKind = "SALE_FAILED"
	EventRefundIssued         EventKind = "REFUND_ISSUED"
	EventPhaseChanged         EventKind = "PHASE_CHANGED"
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a fire-and-forget record for external indexers.
// Fields that do not apply to a kind are left zero.
type Event struct {
	EventID        string    `json:"event_id"`
	SaleID         string    `json:"sale_id"`
	Kind           EventKind `json:"kind"`
	Contributor    string    `json:"contributor,omitempty"`
	Asset          string    `json:"asset,omitempty"`
	Phase          string    `json:"phase,omitempty"`
	USDValue       uint64    `json:"usd_value,omitempty"`
	Tokens         uint64    `json:"tokens,omitempty"`
	Amount         uint64    `json:"amount,omitempty"`
	Fee            uint64    `json:"fee,omitempty"`
	TotalRaisedUSD uint64    `json:"total_raised_usd,omitempty"`
	TotalSold      uint64    `json:"total_sold,omitempty"`
	LPEligible     bool      `json:"lp_eligible,omitempty"`
	AttestationID  string    `json:"attestation_id,omitempty"`
	Timestamp      int64     `json:"timestamp"` // unix seconds
}
