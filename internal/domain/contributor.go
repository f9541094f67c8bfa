package domain

import "presale-ledger/internal/presale"

// Payment is the cumulative amount a contributor paid in one asset.
type Payment struct {
	Asset  Asset  `json:"asset"`
	Amount uint64 `json:"amount"`
}

// ContributorRecord is the per-buyer, per-sale bookkeeping.
// Keyed by (SaleID, Contributor).
type ContributorRecord struct {
	SaleID      string
	Contributor PublicKey

	ContributionNative uint64 // cumulative native base units paid
	ContributionUSD    uint64 // cumulative whole USD, <= SaleConfig.MaxPerWalletUSD
	ClaimableTokens    uint64 // entitled but not yet claimed
	ClaimedTokens      uint64 // already released
	PurchasedTokens    uint64 // share of the entitlement bought with Payments
	Payments           []Payment

	// Vesting parameters, copied from SaleConfig at first contribution or set by the authority
	VestingStartTS  int64 // unix seconds, 0 = vesting not started
	CliffSeconds    uint64
	DailyReleaseBps uint16
	VestingDays     uint64

	LastClaimAt int64 // unix seconds
	CreatedAt   int64
	UpdatedAt   int64
}

// NewContributorRecord returns an empty record for contributor in sale.
func NewContributorRecord(saleID string, contributor PublicKey) *ContributorRecord {
	return &ContributorRecord{SaleID: saleID, Contributor: contributor}
}

// Entitlement returns the lifetime grant: claimable plus claimed.
func (r *ContributorRecord) Entitlement() (uint64, error) {
	return presale.CheckedAdd(r.ClaimableTokens, r.ClaimedTokens)
}

// PaidIn returns the amount paid in asset.
func (r *ContributorRecord) PaidIn(asset Asset) uint64 {
	for _, p := range r.Payments {
		if p.Asset == asset {
			return p.Amount
		}
	}
	return 0
}

// HasVesting reports whether a vesting schedule has started.
func (r *ContributorRecord) HasVesting() bool {
	return r.VestingStartTS != 0
}

// Schedule derives the vesting schedule view of the record.
func (r *ContributorRecord) Schedule() (VestingSchedule, error) {
	total, err := r.Entitlement()
	if err != nil {
		return VestingSchedule{}, err
	}
	return VestingSchedule{
		StartTimestamp:  r.VestingStartTS,
		CliffSeconds:    r.CliffSeconds,
		DailyReleaseBps: r.DailyReleaseBps,
		TotalDays:       r.VestingDays,
		TotalAmount:     total,
		ClaimedAmount:   r.ClaimedTokens,
	}, nil
}

// Clone returns a deep copy safe to mutate.
func (r *ContributorRecord) Clone() *ContributorRecord {
	c := *r
	if r.Payments != nil {
		c.Payments = make([]Payment, len(r.Payments))
		copy(c.Payments, r.Payments)
	}
	return &c
}

// VestingSchedule is the linear release schedule of one contributor.
type VestingSchedule struct {
	StartTimestamp  int64  // unix seconds, 0 = never started
	CliffSeconds    uint64 // 0 = no cliff
	DailyReleaseBps uint16 // fraction released per elapsed day
	TotalDays       uint64 // full vesting after this many days
	TotalAmount     uint64 // lifetime grant
	ClaimedAmount   uint64 // already released
}
