package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"presale-ledger/internal/domain"
)

// ComputeAttestationID computes a deterministic attestation_id using SHA256.
// Formula: SHA256(oracle|contributor|nonce|usd_value)
// Returns hex-encoded hash (64 characters).
func ComputeAttestationID(
	oracle domain.PublicKey,
	contributor domain.PublicKey,
	nonce uint64,
	usdValue uint64,
) string {
	data := fmt.Sprintf("%s|%s|%d|%d",
		oracle.String(),
		contributor.String(),
		nonce,
		usdValue,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
