package valuation

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"filippo.io/edwards25519"

	"presale-ledger/internal/domain"
	"presale-ledger/internal/presale"
)

// AttestationMessageSize is the length of the signed message.
const AttestationMessageSize = domain.PublicKeyLength + 8 + 8

// AttestationMessage builds contributor || nonce (LE) || usd_value (LE).
func AttestationMessage(contributor domain.PublicKey, nonce, usdValue uint64) []byte {
	msg := make([]byte, AttestationMessageSize)
	copy(msg, contributor[:])
	binary.LittleEndian.PutUint64(msg[32:40], nonce)
	binary.LittleEndian.PutUint64(msg[40:48], usdValue)
	return msg
}

// ParseOracleKey checks that key is a usable ed25519 verification key:
// non-zero and a valid compressed curve point.
func ParseOracleKey(key domain.PublicKey) (ed25519.PublicKey, error) {
	if key.IsZero() {
		return nil, fmt.Errorf("%w: zero key", presale.ErrInvalidOracleKey)
	}
	if _, err := new(edwards25519.Point).SetBytes(key[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", presale.ErrInvalidOracleKey, err)
	}
	return ed25519.PublicKey(key[:]), nil
}

// VerifyAttestation checks att against oracle for contributor and returns
// the attested USD value.
func VerifyAttestation(att domain.Attestation, contributor, oracle domain.PublicKey) (uint64, error) {
	pub, err := ParseOracleKey(oracle)
	if err != nil {
		return 0, err
	}
	msg := AttestationMessage(contributor, att.Nonce, att.USDValue)
	if !ed25519.Verify(pub, msg, att.Signature[:]) {
		return 0, presale.ErrInvalidAttestationSignature
	}
	return att.USDValue, nil
}

// SignAttestation produces the attestation an oracle operator hands to contributor.
func SignAttestation(priv ed25519.PrivateKey, contributor domain.PublicKey, nonce, usdValue uint64) domain.Attestation {
	att := domain.Attestation{USDValue: usdValue, Nonce: nonce}
	copy(att.Signature[:], ed25519.Sign(priv, AttestationMessage(contributor, nonce, usdValue)))
	return att
}
