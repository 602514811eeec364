package core

import (
	"math/big"
	"testing"
)

func quorumOf(signers ...SignerId) QuorumConfig {
	members := make(map[SignerId]uint64, len(signers))
	for _, s := range signers {
		members[s] = 1
	}
	return QuorumConfig{Threshold: uint64(len(signers)), Members: members}
}

func signerFor(b byte) SignerId {
	var s SignerId
	s[len(s)-1] = b
	return s
}

// TestChatNonceValidation covers nonce contract for chat txs.
func TestChatNonceValidation(t *testing.T) {
	entity := idFor(1)
	signer := signerFor(1)
	state := NewEntityState(entity, quorumOf(signer))

	if _, err := apply(state, EntityTx{Kind: TxChat, Signer: signer, Nonce: 1, Message: "hi"}, Router{}); err != nil {
		t.Fatalf("first chat: %v", err)
	}
	if len(state.Messages) != 1 || state.Messages[0] != "hi" {
		t.Fatalf("expected message log [hi], got %v", state.Messages)
	}

	_, err := apply(state, EntityTx{Kind: TxChat, Signer: signer, Nonce: 1, Message: "again"}, Router{})
	if err == nil {
		t.Fatal("expected InvalidNonceError for a replayed nonce")
	}
	if _, ok := err.(*InvalidNonceError); !ok {
		t.Fatalf("expected *InvalidNonceError, got %T", err)
	}
}

// TestSingleSignerShortcut covers single-signer short-circuit:
// a lone validator whose power already meets the threshold commits
// propose and commit as one transition.
func TestSingleSignerShortcut(t *testing.T) {
	entity := idFor(1)
	signer := signerFor(1)
	state := NewEntityState(entity, quorumOf(signer))
	replica := NewEntityReplica(entity, signer, state)
	if !replica.IsProposer {
		t.Fatal("sole signer should be proposer")
	}

	replica.Mempool = append(replica.Mempool, EntityTx{Kind: TxChat, Signer: signer, Nonce: 1, Message: "hi"})
	if _, err := apply(state, replica.Mempool[0], Router{}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	frame, err := replica.ProposeFrame(1000)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if replica.Proposal != nil {
		t.Fatal("expected proposal to auto-commit under single-signer shortcut")
	}
	if state.Height != frame.Height {
		t.Fatalf("expected height %d, got %d", frame.Height, state.Height)
	}
}

// TestGovernanceProposeExecutesAtThreshold covers propose/vote
// table: a proposal executes once yes-power crosses the threshold.
func TestGovernanceProposeExecutesAtThreshold(t *testing.T) {
	entity := idFor(1)
	s1, s2, s3 := signerFor(1), signerFor(2), signerFor(3)
	members := map[SignerId]uint64{s1: 1, s2: 1, s3: 1}
	state := NewEntityState(entity, QuorumConfig{Threshold: 2, Members: members})

	action := GovAction{Param: "tick_ms", Value: "250"}
	if _, err := apply(state, EntityTx{Kind: TxPropose, Signer: s1, Nonce: 1, Action: action}, Router{}); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if len(state.Proposals) != 1 {
		t.Fatalf("expected one proposal, got %d", len(state.Proposals))
	}
	var id Hash
	for k, p := range state.Proposals {
		id = k
		if p.Status != ProposalPending {
			t.Fatal("proposal should still be pending after a single vote below threshold")
		}
	}
	if _, err := apply(state, EntityTx{Kind: TxVote, Signer: s2, Nonce: 1, ProposalID: id, Vote: true}, Router{}); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if state.Proposals[id].Status != ProposalExecuted {
		t.Fatal("expected proposal to execute once power reached threshold")
	}
	if state.Params["tick_ms"] != "250" {
		t.Fatalf("expected param applied, got %q", state.Params["tick_ms"])
	}
}

// TestOpenAccountEnqueuesCanonicalSide covers openAccount
// contract: a fresh add_delta + set_credit_limit for this entity's
// canonical side land in the new account's mempool.
func TestOpenAccountEnqueuesCanonicalSide(t *testing.T) {
	a, b := idFor(1), idFor(2)
	signer := signerFor(1)
	state := NewEntityState(a, quorumOf(signer))

	if _, err := apply(state, EntityTx{Kind: TxOpenAccount, Signer: signer, Nonce: 1, Counterparty: b}, Router{}); err != nil {
		t.Fatalf("openAccount: %v", err)
	}
	key, _, _ := NewAccountKey(a, b)
	acc, ok := state.Accounts[key]
	if !ok {
		t.Fatal("expected account to be created")
	}
	if len(acc.Mempool) != 2 {
		t.Fatalf("expected 2 queued txs, got %d", len(acc.Mempool))
	}
	if acc.Mempool[0].Kind != TxAddDelta || acc.Mempool[1].Kind != TxSetCreditLimit {
		t.Fatalf("unexpected queued tx kinds: %v", acc.Mempool)
	}
}

// openedAccountPair builds an opened, funded account on both sides,
// mirroring account_test.go's openedPair but returning the pair
// unattached to any entity state so callers can wire them in as they
// see fit.
func openedAccountPair(t *testing.T, a, b EntityId, limit *big.Int) (*Account, *Account) {
	t.Helper()
	left := NewAccount(a, b)
	right := NewAccount(a, b)
	for _, tx := range []AccountTx{
		{Kind: TxAddDelta, Token: 1},
		{Kind: TxSetCreditLimit, Token: 1, Side: SideLeft, Amount: limit},
		{Kind: TxSetCreditLimit, Token: 1, Side: SideRight, Amount: limit},
	} {
		left.Enqueue(tx)
	}
	frame, err := left.ProposeNext(1000)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	ack, _, err := right.ApplyIncomingFrame(frame)
	if err != nil {
		t.Fatalf("right apply: %v", err)
	}
	if err := left.AckPending(ack.StateHash); err != nil {
		t.Fatalf("left ack: %v", err)
	}
	return left, right
}

// TestAccountInputAutoDetectsConcurrentProposal covers the production
// dispatch path for the concurrent-proposal tie-break: applyAccountInput
// (reached through apply(), exactly as Env.Tick calls it) must notice
// that an incoming frame targets a height this side has already
// proposed itself, and route to the tie-break instead of blindly
// committing over the pending proposal.
func TestAccountInputAutoDetectsConcurrentProposal(t *testing.T) {
	a, b := idFor(1), idFor(2) // a < b: a is left, b is right
	limit := big.NewInt(1_000_000)
	left, right := openedAccountPair(t, a, b, limit)

	stateR := NewEntityState(b, quorumOf(signerFor(2)))
	key, _, _ := NewAccountKey(a, b)
	stateR.Accounts[key] = right

	right.Enqueue(AccountTx{Kind: TxSetCreditLimit, Token: 1, Side: SideRight, Amount: big.NewInt(3_000_000)})
	if _, err := right.ProposeNext(2001); err != nil {
		t.Fatalf("right propose: %v", err)
	}

	left.Enqueue(AccountTx{Kind: TxSetCreditLimit, Token: 1, Side: SideLeft, Amount: big.NewInt(2_000_000)})
	leftFrame, err := left.ProposeNext(2000)
	if err != nil {
		t.Fatalf("left propose: %v", err)
	}

	outputs, err := apply(stateR, EntityTx{
		Kind:   TxAccountInput,
		Signer: signerFor(2),
		Nonce:  1,
		AccountIn: &AccountInput{
			From:     a,
			To:       b,
			NewFrame: leftFrame,
		},
	}, Router{})
	if err != nil {
		t.Fatalf("apply accountInput: %v", err)
	}
	if right.RollbackCount != 1 {
		t.Fatalf("expected right's rollback_count incremented by the auto-detected tie-break, got %d", right.RollbackCount)
	}
	if right.Phase != PhaseIdle || right.Pending != nil {
		t.Fatalf("expected right's own conflicting proposal discarded, got phase=%d pending=%v", right.Phase, right.Pending)
	}
	if right.PrevHash != leftFrame.StateHash {
		t.Fatalf("expected right to have committed left's frame, got prevHash %s want %s", right.PrevHash, leftFrame.StateHash)
	}
	if len(right.Mempool) != 1 {
		t.Fatalf("expected right's original tx re-queued, got %d entries", len(right.Mempool))
	}
	if len(outputs) != 1 || outputs[0].Kind != OutputAccountInput || outputs[0].AccountIn.Ack == nil {
		t.Fatalf("expected a single ack output, got %+v", outputs)
	}
}

// TestAccountInputWinnerSideForwardsConflict covers the other half of
// the same tie-break: the side whose own proposal wins must not ack
// the peer's losing frame, it must tell the peer to discard it.
func TestAccountInputWinnerSideForwardsConflict(t *testing.T) {
	a, b := idFor(1), idFor(2)
	limit := big.NewInt(1_000_000)
	left, right := openedAccountPair(t, a, b, limit)

	stateL := NewEntityState(a, quorumOf(signerFor(1)))
	key, _, _ := NewAccountKey(a, b)
	stateL.Accounts[key] = left

	left.Enqueue(AccountTx{Kind: TxSetCreditLimit, Token: 1, Side: SideLeft, Amount: big.NewInt(2_000_000)})
	if _, err := left.ProposeNext(2000); err != nil {
		t.Fatalf("left propose: %v", err)
	}

	right.Enqueue(AccountTx{Kind: TxSetCreditLimit, Token: 1, Side: SideRight, Amount: big.NewInt(3_000_000)})
	rightFrame, err := right.ProposeNext(2001)
	if err != nil {
		t.Fatalf("right propose: %v", err)
	}

	outputs, err := apply(stateL, EntityTx{
		Kind:   TxAccountInput,
		Signer: signerFor(1),
		Nonce:  1,
		AccountIn: &AccountInput{
			From:     b,
			To:       a,
			NewFrame: rightFrame,
		},
	}, Router{})
	if err != nil {
		t.Fatalf("apply accountInput: %v", err)
	}
	if left.Phase != PhaseProposed || left.Pending == nil {
		t.Fatal("expected left's own outstanding proposal to remain in place")
	}
	if len(outputs) != 1 || outputs[0].Kind != OutputAccountInput || outputs[0].AccountIn.ConflictsWith == nil {
		t.Fatalf("expected a single conflict-forwarding output, got %+v", outputs)
	}
	if outputs[0].AccountIn.ConflictsWith.StateHash != left.Pending.StateHash {
		t.Fatal("expected the forwarded conflict to carry left's own pending frame")
	}
}

// TestDirectPaymentNoRoute covers directPayment validation: a
// failed route lookup rejects the tx at proposal time with no partial
// forwarding.
func TestDirectPaymentNoRoute(t *testing.T) {
	a, b := idFor(1), idFor(2)
	signer := signerFor(1)
	state := NewEntityState(a, quorumOf(signer))
	router := Router{Paths: NewStaticRouter(map[EntityId][]EntityId{}), Fee: DefaultFeeSchedule}

	_, err := apply(state, EntityTx{Kind: TxDirectPaymentEntity, Signer: signer, Nonce: 1, Target: b}, router)
	if err == nil {
		t.Fatal("expected NoRouteFoundError")
	}
	if _, ok := err.(*NoRouteFoundError); !ok {
		t.Fatalf("expected *NoRouteFoundError, got %T", err)
	}
}
