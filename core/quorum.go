package core

// quorum.go – entity quorum configuration and vote aggregation, adapted
// from core/quorum_tracker.go's generic shape (which counts
// one-vote-per-address against a threshold) and generalised to
// weighted voting power, since an entity's quorum assigns each signer a
// power and a commit threshold.

import "sync"

// QuorumConfig is the set of signers eligible to vote for an entity,
// their voting power, and the power required to commit a frame.
type QuorumConfig struct {
	Threshold uint64
	Members   map[SignerId]uint64 // signer -> voting power
}

func (q QuorumConfig) TotalPower() uint64 {
	var total uint64
	for _, p := range q.Members {
		total += p
	}
	return total
}

func (q QuorumConfig) PowerOf(s SignerId) uint64 { return q.Members[s] }

// Proposer returns the deterministic first validator by signer id,
// the designated proposer.
func (q QuorumConfig) Proposer() SignerId {
	var first SignerId
	set := false
	for s := range q.Members {
		if !set || s.Less(first) {
			first = s
			set = true
		}
	}
	return first
}

func (s SignerId) Less(o SignerId) bool {
	for i := range s {
		if s[i] != o[i] {
			return s[i] < o[i]
		}
	}
	return false
}

// SingleSignerShortcut reports whether the proposer alone holds enough
// power to commit without collecting precommits from anyone else
//.
func (q QuorumConfig) SingleSignerShortcut() bool {
	return q.PowerOf(q.Proposer()) >= q.Threshold
}

// VoteTracker accumulates precommit voting power for a single frame
// height and reports whether the threshold has been met. One tracker is
// scoped to one (height, hash) pair; the entity machine discards it
// once the frame commits or is superseded.
type VoteTracker struct {
	mu     sync.Mutex
	cfg    QuorumConfig
	votes  map[SignerId]struct{}
	power  uint64
}

func NewVoteTracker(cfg QuorumConfig) *VoteTracker {
	return &VoteTracker{cfg: cfg, votes: make(map[SignerId]struct{})}
}

// AddVote records a precommit from signer and returns the accumulated
// voting power. Duplicate votes from the same signer are ignored.
func (v *VoteTracker) AddVote(signer SignerId) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, dup := v.votes[signer]; dup {
		return v.power
	}
	v.votes[signer] = struct{}{}
	v.power += v.cfg.PowerOf(signer)
	return v.power
}

func (v *VoteTracker) HasQuorum() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.power >= v.cfg.Threshold
}
