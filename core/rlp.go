package core

// rlp.go – canonical deterministic encoding, wrapping
// github.com/ethereum/go-ethereum/rlp rather than hand-rolling the
// encoder. core/ledger.go already depends on this exact package
// (`rlp.DecodeBytes`) for wire-decoding blocks, so the consensus
// core's frame/state hashing reuses it instead of reimplementing
// Ethereum's RLP corner cases (minimal-length integers, disallowed
// leading zeros, nested list length prefixes) from scratch.

import (
	"github.com/ethereum/go-ethereum/rlp"
)

// EncodeRLP returns the canonical RLP encoding of v.
func EncodeRLP(v interface{}) ([]byte, error) {
	return rlp.EncodeToBytes(v)
}

// DecodeRLP decodes RLP-encoded data into v. It is total on well-formed
// input and returns an error on truncation or malformed length prefixes.
func DecodeRLP(data []byte, v interface{}) error {
	return rlp.DecodeBytes(data, v)
}

// RLPHash returns the Keccak-256 hash of the canonical RLP encoding of
// v. Used for frame/replica state hashes and settlement channel keys.
func RLPHash(v interface{}) (Hash, error) {
	enc, err := EncodeRLP(v)
	if err != nil {
		return Hash{}, err
	}
	return Keccak256(enc), nil
}

// sortedMapEntry is a (key, value) pair in a deterministic, sorted
// representation of a map for RLP encoding. Every serialization that
// traverses a Go map must flatten it into one of these slices first;
// Go's native map type must never leak its iteration order into a hash.
type sortedMapEntry struct {
	Key   []byte
	Value []byte
}
