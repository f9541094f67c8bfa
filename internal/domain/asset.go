package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AssetKind distinguishes the chain-native asset from fungible token assets.
type AssetKind string

const (
	AssetKindNative   AssetKind = "NATIVE"
	AssetKindFungible AssetKind = "FUNGIBLE"
)

// String returns the string representation of AssetKind.
func (k AssetKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a valid value.
func (k AssetKind) IsValid() bool {
	return k == AssetKindNative || k == AssetKindFungible
}

// NativeAssetName is the text form of the native asset.
const NativeAssetName = "native"

// Asset is a payment or token asset. Mint is zero for the native asset.
type Asset struct {
	Kind AssetKind
	Mint PublicKey
}

// NativeAsset returns the chain-native asset.
func NativeAsset() Asset {
	return Asset{Kind: AssetKindNative}
}

// FungibleAsset returns the fungible asset issued by mint.
func FungibleAsset(mint PublicKey) Asset {
	return Asset{Kind: AssetKindFungible, Mint: mint}
}

// ParseAsset accepts "native" (or "SOL") and base58 mint addresses.
func ParseAsset(s string) (Asset, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, NativeAssetName) || strings.EqualFold(s, "SOL") {
		return NativeAsset(), nil
	}
	mint, err := ParsePublicKey(s)
	if err != nil {
		return Asset{}, fmt.Errorf("parse asset: %w", err)
	}
	if mint.IsZero() {
		return Asset{}, fmt.Errorf("parse asset: zero mint")
	}
	return FungibleAsset(mint), nil
}

// IsNative reports whether a is the chain-native asset.
func (a Asset) IsNative() bool {
	return a.Kind == AssetKindNative
}

// String returns "native" or the mint address.
func (a Asset) String() string {
	if a.IsNative() {
		return NativeAssetName
	}
	return a.Mint.String()
}

// MarshalText implements encoding.TextMarshaler.
func (a Asset) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Asset) UnmarshalText(text []byte) error {
	parsed, err := ParseAsset(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MaxAcceptedAssets is the capacity of an AssetSet.
const MaxAcceptedAssets = 4

// AssetSet is the bounded, ordered set of fungible mints a sale accepts.
// The zero value is an empty set.
type AssetSet struct {
	mints [MaxAcceptedAssets]PublicKey
	count uint8
}

// NewAssetSet builds a set, rejecting overflow, zero mints and duplicates.
func NewAssetSet(mints ...PublicKey) (AssetSet, error) {
	var set AssetSet
	if len(mints) > MaxAcceptedAssets {
		return set, fmt.Errorf("%d accepted assets exceeds capacity %d", len(mints), MaxAcceptedAssets)
	}
	for i, m := range mints {
		if m.IsZero() {
			return set, fmt.Errorf("accepted asset %d is the zero mint", i)
		}
		if set.Contains(m) {
			return set, fmt.Errorf("accepted asset %s listed twice", m)
		}
		set.mints[set.count] = m
		set.count++
	}
	return set, nil
}

// Len returns the number of accepted mints.
func (s AssetSet) Len() int {
	return int(s.count)
}

// Contains reports whether mint is accepted. A set whose count exceeds its
// capacity is treated as corrupt and accepts nothing.
func (s AssetSet) Contains(mint PublicKey) bool {
	if s.count > MaxAcceptedAssets {
		return false
	}
	for i := 0; i < int(s.count); i++ {
		if s.mints[i] == mint {
			return true
		}
	}
	return false
}

// Mints returns the accepted mints in configuration order.
func (s AssetSet) Mints() []PublicKey {
	if s.count > MaxAcceptedAssets {
		return nil
	}
	out := make([]PublicKey, s.count)
	copy(out, s.mints[:s.count])
	return out
}

// Strings returns the accepted mints in base58 form.
func (s AssetSet) Strings() []string {
	mints := s.Mints()
	out := make([]string, len(mints))
	for i, m := range mints {
		out[i] = m.String()
	}
	return out
}

// ParseAssetSet builds a set from base58 mint strings.
func ParseAssetSet(values []string) (AssetSet, error) {
	mints := make([]PublicKey, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		m, err := ParsePublicKey(v)
		if err != nil {
			return AssetSet{}, err
		}
		mints = append(mints, m)
	}
	return NewAssetSet(mints...)
}

// MarshalJSON encodes the set as a list of base58 mints.
func (s AssetSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes a list of base58 mints.
func (s *AssetSet) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	parsed, err := ParseAssetSet(values)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
