package domain

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// PublicKeyLength is the size of an account identity in bytes.
const PublicKeyLength = 32

// PublicKey identifies an account: buyer, sale authority, treasury, token mint
// or oracle authority. Its text form is base58.
type PublicKey [PublicKeyLength]byte

// ParsePublicKey decodes a base58 account identity.
func ParsePublicKey(s string) (PublicKey, error) {
	var k PublicKey
	decoded, err := base58.Decode(s)
	if err != nil {
		return k, fmt.Errorf("decode public key %q: %w", s, err)
	}
	if len(decoded) != PublicKeyLength {
		return k, fmt.Errorf("public key %q is %d bytes, want %d", s, len(decoded), PublicKeyLength)
	}
	copy(k[:], decoded)
	return k, nil
}

// MustParsePublicKey is ParsePublicKey for constants and tests.
func MustParsePublicKey(s string) PublicKey {
	k, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// String returns the base58 form.
func (k PublicKey) String() string {
	return base58.Encode(k[:])
}

// IsZero reports whether the key is unset.
func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// MarshalText implements encoding.TextMarshaler.
func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
