package core

import "testing"

// TestMerkleRootEmptyAndSingle covers base cases.
func TestMerkleRootEmptyAndSingle(t *testing.T) {
	if MerkleRoot(nil) != Keccak256(nil) {
		t.Fatal("empty leaf set should hash the empty byte string")
	}
	leaf := Keccak256([]byte("only"))
	if MerkleRoot([]Hash{leaf}) != leaf {
		t.Fatal("single leaf should be its own root")
	}
}

// TestMerkleProofRoundTrip covers "Merkle root deterministic"
// property via inclusion-proof verification for every leaf in a
// non-power-of-two set.
func TestMerkleProofRoundTrip(t *testing.T) {
	leaves := []Hash{
		Keccak256([]byte("a")),
		Keccak256([]byte("b")),
		Keccak256([]byte("c")),
		Keccak256([]byte("d")),
		Keccak256([]byte("e")),
	}
	root := MerkleRoot(leaves)
	for i, leaf := range leaves {
		proof, provenRoot, err := MerkleProof(leaves, i)
		if err != nil {
			t.Fatalf("proof for index %d: %v", i, err)
		}
		if provenRoot != root {
			t.Fatalf("proof root mismatch at index %d", i)
		}
		if !VerifyMerklePath(root, leaf, proof, i) {
			t.Fatalf("verification failed for index %d", i)
		}
	}
}

// TestMerkleRootOrderSensitive confirms two distinct orderings of the
// same leaf set produce different roots. The Merkle root commits to
// position, not just membership, which the sorted-keys contract
// depends on.
func TestMerkleRootOrderSensitive(t *testing.T) {
	a := Keccak256([]byte("a"))
	b := Keccak256([]byte("b"))
	if MerkleRoot([]Hash{a, b}) == MerkleRoot([]Hash{b, a}) {
		t.Fatal("expected order-sensitive roots for distinct orderings")
	}
}
