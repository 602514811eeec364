package core

// merkle.go – Merkle root derivation, adapted from
// core/merkle_tree_operations.go's shape (BuildMerkleTree / MerkleProof /
// VerifyMerklePath) but padding to the next power of two with
// *zero-hashes* rather than a duplicate of the last leaf.
// Duplicate-last-leaf padding lets an attacker with an odd leaf count
// craft a second, distinct leaf set that hashes to the same root;
// zero-hash padding avoids that. Padding siblings appear in proofs as
// the all-zero hash; verification takes no leaf count.

// MerkleRoot computes the root of a list of leaf digests, already
// hashed by the caller (frame/replica digests are always pre-hashed
// before reaching this function).
func MerkleRoot(leaves []Hash) Hash {
	switch len(leaves) {
	case 0:
		return Keccak256(nil)
	case 1:
		return leaves[0]
	}

	level := nextPowerOfTwoPad(leaves)
	for len(level) > 1 {
		next := make([]Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = Keccak256(level[i][:], level[i+1][:])
		}
		level = next
	}
	return level[0]
}

// nextPowerOfTwoPad copies leaves into a slice whose length is the next
// power of two, filling the tail with the all-zero hash.
func nextPowerOfTwoPad(leaves []Hash) []Hash {
	n := 1
	for n < len(leaves) {
		n <<= 1
	}
	padded := make([]Hash, n)
	copy(padded, leaves)
	return padded
}

// MerkleProof returns a proof of inclusion for the leaf at index, plus
// the tree's root. The proof is ordered from the leaf level upward;
// a sibling that is padding is included as the all-zero hash.
// VerifyMerklePath takes no leaf count, so it does not tell a padding
// sibling apart from a real leaf.
func MerkleProof(leaves []Hash, index int) (proof []Hash, root Hash, err error) {
	if index < 0 || index >= len(leaves) {
		return nil, Hash{}, ErrMerkleIndexOutOfRange
	}
	level := nextPowerOfTwoPad(leaves)
	idx := index
	for len(level) > 1 {
		if idx%2 == 0 {
			proof = append(proof, level[idx+1])
		} else {
			proof = append(proof, level[idx-1])
		}
		next := make([]Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = Keccak256(level[i][:], level[i+1][:])
		}
		level = next
		idx /= 2
	}
	return proof, level[0], nil
}

// VerifyMerklePath reconstructs the root from leaf, its index, and a
// proof produced by MerkleProof, and compares it against root.
func VerifyMerklePath(root Hash, leaf Hash, proof []Hash, index int) bool {
	hash := leaf
	idx := index
	for _, p := range proof {
		if idx%2 == 0 {
			hash = Keccak256(hash[:], p[:])
		} else {
			hash = Keccak256(p[:], hash[:])
		}
		idx /= 2
	}
	return hash == root
}
