package domain

// AttestationSignatureLength is the size of an ed25519 signature.
const AttestationSignatureLength = 64

// Attestation is an oracle-signed claim of the USD value of a payment.
// Not persisted: verified per use against the canonical message
// contributor || nonce (LE) || usd_value (LE).
type Attestation struct {
	USDValue  uint64
	Nonce     uint64
	Signature [AttestationSignatureLength]byte
}

// PriceFeed is a decoded external price record.
// USD price of one native coin = Price * 10^Exponent.
type PriceFeed struct {
	Price       int64  // aggregate price
	Confidence  uint64 // aggregate confidence interval
	Exponent    int32
	PublishTime int64 // unix seconds
}
