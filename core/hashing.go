package core

// hashing.go – the two digest functions the consensus core relies on:
// Keccak-256 for anything that must interoperate with the settlement
// ledger (frame/state roots, channel keys) and SHA-256 for
// general-purpose content addressing (WAL checksums). core/state_channel.go
// and core/ledger.go both reach for crypto/sha256 for internal
// digests, while the settlement-facing RLP codec
// (core/ledger.go's `github.com/ethereum/go-ethereum/rlp` import)
// implies Keccak-256 to stay wire-compatible with the external ledger,
// so Keccak is sourced from the same ecosystem (golang.org/x/crypto/sha3)
// go-ethereum itself is built on.

import (
	"crypto/sha256"

	"golang.org/x/crypto/sha3"
)

// Keccak256 hashes the concatenation of data using Keccak-256 (not the
// NIST SHA3-256 variant; Ethereum's settlement ledger expects the
// legacy Keccak padding).
func Keccak256(data ...[]byte) Hash {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out Hash
	h.Sum(out[:0])
	return out
}

// SHA256 hashes the concatenation of data using SHA-256, for
// general-purpose content addressing (WAL checksums, ad-hoc digests).
func SHA256(data ...[]byte) Hash {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	var out Hash
	h.Sum(out[:0])
	return out
}
