package domain

import (
	"fmt"
	"math"

	"presale-ledger/internal/presale"
)

// Phase is the allocation tier a sale is currently selling from.
type Phase string

const (
	PhasePrivate Phase = "PRIVATE"
	PhasePublic  Phase = "PUBLIC"
)

// String returns the string representation of Phase.
func (p Phase) String() string {
	return string(p)
}

// IsValid checks if the phase is a valid value.
func (p Phase) IsValid() bool {
	return p == PhasePrivate || p == PhasePublic
}

// SaleStatus is the lifecycle state derived from the sale flags.
type SaleStatus string

const (
	SaleStatusActive    SaleStatus = "ACTIVE"
	SaleStatusSucceeded SaleStatus = "SUCCEEDED"
	SaleStatusFailed    SaleStatus = "FAILED"
)

// String returns the string representation of SaleStatus.
func (s SaleStatus) String() string {
	return string(s)
}

// MaxTokenDecimals bounds the token decimals so that 10^6 * 10^decimals fits in 64 bits.
const MaxTokenDecimals = 12

// SaleConfig is the per-sale configuration. Only Paused is mutated after creation.
type SaleConfig struct {
	SaleID string // PRIMARY KEY

	// Identity
	Authority       PublicKey // sale owner, required for administrative operations
	TokenMint       PublicKey // token being sold
	Treasury        PublicKey // destination of withdrawn funds
	FeeWallet       PublicKey // receives the fee share on withdraw (zero = no fee routing)
	OracleAuthority PublicKey // ed25519 key that signs attestations

	// Economics
	TotalTokens       uint64 // phase cap in token base units
	PrivateAllocation uint64 // optional private tier (base units)
	PublicAllocation  uint64 // optional public tier (base units)
	PriceUSDMicro     uint64 // micro-USD per whole token
	TokenDecimals     uint8  // token base-unit exponent
	MinBuyUSD         uint64 // whole USD
	MaxPerWalletUSD   uint64 // whole USD
	LPMinThresholdUSD uint64 // raised USD needed for success
	LPTargetUSD       uint64 // raised USD at which liquidity creation becomes eligible

	AcceptedAssets AssetSet

	// Vesting defaults copied to a contributor at first contribution
	DailyReleaseBps uint16
	VestingDays     uint16
	CliffSeconds    uint64

	FeeBps uint16

	EndTime int64 // unix seconds, 0 = no scheduled finalization

	Paused bool
}

// Validate checks the configuration invariants.
func (c *SaleConfig) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", presale.ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.SaleID == "" {
		return fail("sale id is required")
	}
	if c.Authority.IsZero() {
		return fail("authority is required")
	}
	if c.TokenMint.IsZero() {
		return fail("token mint is required")
	}
	if c.Treasury.IsZero() {
		return fail("treasury is required")
	}
	if c.TotalTokens == 0 {
		return fail("total tokens must be positive")
	}
	if c.TotalTokens > math.MaxInt64 {
		return fail("total tokens %d exceeds storable range", c.TotalTokens)
	}
	allocated, err := presale.CheckedAdd(c.PrivateAllocation, c.PublicAllocation)
	if err != nil || allocated > c.TotalTokens {
		return fail("allocations %d+%d exceed total tokens %d", c.PrivateAllocation, c.PublicAllocation, c.TotalTokens)
	}
	if c.PriceUSDMicro == 0 {
		return fail("price must be positive")
	}
	if c.TokenDecimals > MaxTokenDecimals {
		return fail("token decimals %d exceeds %d", c.TokenDecimals, MaxTokenDecimals)
	}
	if c.MaxPerWalletUSD == 0 {
		return fail("max per wallet must be positive")
	}
	if c.MinBuyUSD > c.MaxPerWalletUSD {
		return fail("min buy %d exceeds max per wallet %d", c.MinBuyUSD, c.MaxPerWalletUSD)
	}
	if c.AcceptedAssets.Len() > MaxAcceptedAssets {
		return fail("accepted asset count %d exceeds %d", c.AcceptedAssets.Len(), MaxAcceptedAssets)
	}
	for name, bps := range map[string]uint16{"daily release": c.DailyReleaseBps, "fee": c.FeeBps} {
		if bps > presale.BpsDenominator {
			return fail("%s bps %d exceeds %d", name, bps, presale.BpsDenominator)
		}
	}
	if c.EndTime < 0 {
		return fail("end time must not be negative")
	}
	return nil
}

// HasAllocationTiers reports whether per-phase tiers are configured.
func (c *SaleConfig) HasAllocationTiers() bool {
	return c.PrivateAllocation > 0 || c.PublicAllocation > 0
}

// PhaseAllocation returns the tier cap for phase, or TotalTokens when tiers are not configured.
func (c *SaleConfig) PhaseAllocation(p Phase) uint64 {
	if !c.HasAllocationTiers() {
		return c.TotalTokens
	}
	if p == PhasePrivate {
		return c.PrivateAllocation
	}
	return c.PublicAllocation
}

// SaleState holds the running totals and lifecycle flags of a sale.
type SaleState struct {
	SoldTokens     uint64 // cumulative, <= SaleConfig.TotalTokens
	SoldPrivate    uint64 // sold during PhasePrivate
	SoldPublic     uint64 // sold during PhasePublic
	TotalRaisedUSD uint64 // cumulative whole USD
	Contributors   uint64 // distinct buyers
	Phase          Phase

	IsActive      bool
	IsFinalized   bool
	RefundEnabled bool
}

// NewSaleState returns the initial state: active, private phase, nothing sold.
func NewSaleState() SaleState {
	return SaleState{Phase: PhasePrivate, IsActive: true}
}

// Status derives the lifecycle state from the flags.
func (s *SaleState) Status() SaleStatus {
	switch {
	case !s.IsFinalized:
		return SaleStatusActive
	case s.RefundEnabled:
		return SaleStatusFailed
	default:
		return SaleStatusSucceeded
	}
}

// PhaseSold returns the tokens sold during phase p.
func (s *SaleState) PhaseSold(p Phase) uint64 {
	if p == PhasePrivate {
		return s.SoldPrivate
	}
	return s.SoldPublic
}

// Sale is the single persisted aggregate of configuration plus running state.
type Sale struct {
	Config    SaleConfig
	State     SaleState
	CreatedAt int64 // unix seconds
	UpdatedAt int64 // unix seconds
}

// Clone returns a copy safe to mutate.
func (s *Sale) Clone() *Sale {
	c := *s
	return &c
}
