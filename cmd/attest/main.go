// Package main signs USD-value attestations for the presale oracle operator.
//
// Usage:
//
//	attest --contributor <base58> --nonce 1 --usd 50
//
// The ed25519 seed is read from --seed or ORACLE_SEED (64 hex chars).
package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mr-tron/base58"

	"presale-ledger/internal/domain"
	"presale-ledger/internal/idhash"
	"presale-ledger/internal/valuation"
)

// Output is the signed attestation as accepted by the contributions endpoint.
type Output struct {
	Oracle        string `json:"oracle"`
	Contributor   string `json:"contributor"`
	USDValue      uint64 `json:"usd_value"`
	Nonce         uint64 `json:"nonce"`
	Signature     string `json:"signature"`
	AttestationID string `json:"attestation_id"`
}

func main() {
	_ = godotenv.Load()

	seedHex := flag.String("seed", os.Getenv("ORACLE_SEED"), "Oracle ed25519 seed, hex encoded")
	contributor := flag.String("contributor", "", "Contributor public key (base58)")
	nonce := flag.Uint64("nonce", 0, "Attestation nonce, unique per contributor")
	usd := flag.Uint64("usd", 0, "Attested USD value (whole dollars)")
	showKey := flag.Bool("show-key", false, "Print the oracle public key and exit")
	flag.Parse()

	priv, err := parseSeed(*seedHex)
	if err != nil {
		fail(err)
	}
	oracle := publicKey(priv)

	if *showKey {
		fmt.Println(oracle.String())
		return
	}

	if *contributor == "" {
		fail(fmt.Errorf("--contributor is required"))
	}
	pk, err := domain.ParsePublicKey(*contributor)
	if err != nil {
		fail(err)
	}
	if *usd == 0 {
		fail(fmt.Errorf("--usd must be positive"))
	}

	att := valuation.SignAttestation(priv, pk, *nonce, *usd)
	out := Output{
		Oracle:        oracle.String(),
		Contributor:   pk.String(),
		USDValue:      att.USDValue,
		Nonce:         att.Nonce,
		Signature:     base58.Encode(att.Signature[:]),
		AttestationID: idhash.ComputeAttestationID(oracle, pk, att.Nonce, att.USDValue),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fail(err)
	}
}

func parseSeed(s string) (ed25519.PrivateKey, error) {
	if s == "" {
		return nil, fmt.Errorf("--seed or ORACLE_SEED is required")
	}
	seed, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func publicKey(priv ed25519.PrivateKey) domain.PublicKey {
	var pk domain.PublicKey
	copy(pk[:], priv.Public().(ed25519.PublicKey))
	return pk
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
