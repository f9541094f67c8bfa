// Package presale holds the error taxonomy and checked arithmetic shared by the
// valuation, ledger, vesting, lifecycle and custody components.
package presale

import "errors"

// Input and economic violations.
var (
	ErrPerWalletCapExceeded = errors.New("per-wallet cap exceeded")
	ErrPhaseCapExceeded     = errors.New("phase cap exceeded")
	ErrMinBuyNotMet         = errors.New("minimum buy not met")
	ErrMaxPurchaseExceeded  = errors.New("maximum purchase amount exceeded")
	ErrUnsupportedAsset     = errors.New("unsupported payment asset")
)

// Arithmetic.
var ErrOverflow = errors.New("math overflow")

// Oracle and valuation.
var (
	ErrOracleMissing               = errors.New("oracle missing or stale")
	ErrInvalidOracleKey            = errors.New("invalid oracle key format")
	ErrInvalidAttestationSignature = errors.New("invalid attestation signature")
	ErrAttestationReplayed         = errors.New("attestation nonce already consumed")
	ErrInvalidFeed                 = errors.New("invalid price feed record")
)

// State and lifecycle.
var (
	ErrPaused           = errors.New("presale is paused")
	ErrPresaleNotActive = errors.New("presale is not active")
	ErrPresaleFinalized = errors.New("presale is already finalized")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrFundsLocked      = errors.New("funds are locked until the sale succeeds")
	ErrInvalidConfig    = errors.New("invalid sale configuration")
)

// Vesting and claims.
var (
	ErrNoVesting       = errors.New("no vesting started")
	ErrCliffNotReached = errors.New("vesting cliff not reached")
	ErrNothingToClaim  = errors.New("nothing to claim")
)

// Refunds.
var (
	ErrRefundNotEnabled = errors.New("refund not enabled")
	ErrNothingToRefund  = errors.New("nothing to refund")
	ErrAlreadyClaimed   = errors.New("tokens already claimed")
)

// Custody.
var ErrInsufficientFunds = errors.New("insufficient funds")

// codes maps every sentinel to its stable wire code. Order matters only for
// readability; Code walks it with errors.Is.
var codes = []struct {
	err  error
	code string
}{
	{ErrPerWalletCapExceeded, "PerWalletCapExceeded"},
	{ErrPhaseCapExceeded, "PhaseCapExceeded"},
	{ErrMinBuyNotMet, "MinBuyNotMet"},
	{ErrMaxPurchaseExceeded, "MaxPurchaseExceeded"},
	{ErrUnsupportedAsset, "UnsupportedAsset"},
	{ErrOverflow, "Overflow"},
	{ErrOracleMissing, "OracleMissing"},
	{ErrInvalidOracleKey, "InvalidOracleKey"},
	{ErrInvalidAttestationSignature, "InvalidAttestationSignature"},
	{ErrAttestationReplayed, "AttestationReplayed"},
	{ErrInvalidFeed, "InvalidFeed"},
	{ErrPaused, "Paused"},
	{ErrPresaleNotActive, "PresaleNotActive"},
	{ErrPresaleFinalized, "PresaleFinalized"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrFundsLocked, "FundsLocked"},
	{ErrInvalidConfig, "InvalidConfig"},
	{ErrNoVesting, "NoVesting"},
	{ErrCliffNotReached, "CliffNotReached"},
	{ErrNothingToClaim, "NothingToClaim"},
	{ErrRefundNotEnabled, "RefundNotEnabled"},
	{ErrNothingToRefund, "NothingToRefund"},
	{ErrAlreadyClaimed, "AlreadyClaimed"},
	{ErrInsufficientFunds, "InsufficientFunds"},
}

// Code returns the stable code for a taxonomy error, or "" if err does not
// wrap one. ErrOracleMissing wins over a wrapped ErrInvalidFeed.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}
