package core

import "testing"

// TestQuorumProposerIsDeterministicFirst confirms Proposer() is stable
// regardless of map iteration order.
func TestQuorumProposerIsDeterministicFirst(t *testing.T) {
	s1, s2, s3 := signerFor(3), signerFor(1), signerFor(2)
	q := QuorumConfig{Threshold: 2, Members: map[SignerId]uint64{s1: 1, s2: 1, s3: 1}}
	if q.Proposer() != s2 {
		t.Fatalf("expected the lexicographically smallest signer, got %x", q.Proposer())
	}
}

// TestQuorumSingleSignerShortcut confirms the shortcut only fires when
// the proposer alone meets the threshold.
func TestQuorumSingleSignerShortcut(t *testing.T) {
	sole := signerFor(1)
	solo := QuorumConfig{Threshold: 1, Members: map[SignerId]uint64{sole: 1}}
	if !solo.SingleSignerShortcut() {
		t.Fatal("expected shortcut for a sole signer meeting the threshold")
	}

	s1, s2 := signerFor(1), signerFor(2)
	shared := QuorumConfig{Threshold: 2, Members: map[SignerId]uint64{s1: 1, s2: 1}}
	if shared.SingleSignerShortcut() {
		t.Fatal("did not expect shortcut when the proposer alone is below threshold")
	}
}

// TestVoteTrackerThreshold covers accumulation and dedup of precommits.
func TestVoteTrackerThreshold(t *testing.T) {
	s1, s2, s3 := signerFor(1), signerFor(2), signerFor(3)
	cfg := QuorumConfig{Threshold: 2, Members: map[SignerId]uint64{s1: 1, s2: 1, s3: 1}}
	tracker := NewVoteTracker(cfg)

	if tracker.HasQuorum() {
		t.Fatal("did not expect quorum before any votes")
	}
	tracker.AddVote(s1)
	if tracker.HasQuorum() {
		t.Fatal("did not expect quorum after a single vote below threshold")
	}
	tracker.AddVote(s1) // duplicate, must not double-count
	if tracker.HasQuorum() {
		t.Fatal("duplicate vote must not advance quorum")
	}
	tracker.AddVote(s2)
	if !tracker.HasQuorum() {
		t.Fatal("expected quorum once accumulated power reached the threshold")
	}
}
