// Package valuation converts a payment into whole-USD value from either a
// binary price feed or an oracle-signed attestation.
package valuation

import (
	"fmt"

	"presale-ledger/internal/domain"
	"presale-ledger/internal/presale"
)

// Source names where a valuation came from.
type Source string

const (
	SourcePriceFeed   Source = "price_feed"
	SourceAttestation Source = "attestation"
	SourceParity      Source = "parity"
)

// String returns the string representation of Source.
func (s Source) String() string {
	return string(s)
}

// Request is one payment to value.
type Request struct {
	Contributor domain.PublicKey
	Amount      uint64 // base units of Asset
	Asset       domain.Asset
	PriceFeed   []byte              // raw record from a FeedSource, optional
	Attestation *domain.Attestation // optional
}

// Valuation is the outcome of ValueContribution.
type Valuation struct {
	USDValue    uint64
	Source      Source
	Attestation *domain.Attestation // set when Source == SourceAttestation
}

// ValueContribution values req at time now.
//
// Native payments prefer a fresh feed and fall back to an attestation; a
// feed that is malformed or stale is treated as absent. Fungible payments
// use an attestation when supplied, otherwise 1:1 parity with USD.
// MinBuy is not enforced here.
func ValueContribution(req Request, oracle domain.PublicKey, now int64) (Valuation, error) {
	if req.Asset.IsNative() {
		return valueNative(req, oracle, now)
	}
	if req.Attestation != nil {
		return fromAttestation(req, oracle)
	}
	return Valuation{USDValue: req.Amount, Source: SourceParity}, nil
}

func valueNative(req Request, oracle domain.PublicKey, now int64) (Valuation, error) {
	var feedErr error
	if len(req.PriceFeed) > 0 {
		feed, err := DecodePriceFeed(req.PriceFeed)
		if err == nil {
			err = CheckFresh(feed, now)
		}
		if err == nil {
			usd, err := FeedUSDValue(req.Amount, feed)
			if err != nil {
				return Valuation{}, err
			}
			return Valuation{USDValue: usd, Source: SourcePriceFeed}, nil
		}
		feedErr = err
	}

	if req.Attestation != nil {
		return fromAttestation(req, oracle)
	}
	if feedErr != nil {
		return Valuation{}, fmt.Errorf("%w: %w", presale.ErrOracleMissing, feedErr)
	}
	return Valuation{}, presale.ErrOracleMissing
}

func fromAttestation(req Request, oracle domain.PublicKey) (Valuation, error) {
	usd, err := VerifyAttestation(*req.Attestation, req.Contributor, oracle)
	if err != nil {
		return Valuation{}, err
	}
	att := *req.Attestation
	return Valuation{USDValue: usd, Source: SourceAttestation, Attestation: &att}, nil
}
