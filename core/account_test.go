package core

import (
	"math/big"
	"testing"
)

func idFor(b byte) EntityId {
	var e EntityId
	e[len(e)-1] = b
	return e
}

// TestBilateralOpen exercises scenario 1 at the account level:
// add_delta + set_credit_limit for both sides, enqueued directly,
// committing at height 1 with matching hashes on both sides.
func TestBilateralOpen(t *testing.T) {
	a, b := idFor(1), idFor(2)
	left := NewAccount(a, b)
	right := NewAccount(a, b)

	limit := big.NewInt(1_000_000)
	txs := []AccountTx{
		{Kind: TxAddDelta, Token: 1},
		{Kind: TxSetCreditLimit, Token: 1, Side: SideLeft, Amount: limit},
		{Kind: TxSetCreditLimit, Token: 1, Side: SideRight, Amount: limit},
	}
	for _, tx := range txs {
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
	if ack.StateHash != frame.StateHash {
		t.Fatalf("state hash mismatch: left %s right %s", frame.StateHash, ack.StateHash)
	}

	if err := left.AckPending(ack.StateHash); err != nil {
		t.Fatalf("left ack: %v", err)
	}

	if left.Height != 1 || right.Height != 1 {
		t.Fatalf("expected height 1 on both sides, got left=%d right=%d", left.Height, right.Height)
	}
	d := left.Deltas[1]
	if d.Collateral.Sign() != 0 || d.OnDelta.Sign() != 0 || d.OffDelta.Sign() != 0 {
		t.Fatalf("expected zeroed C/on/off, got %+v", d)
	}
	if d.LeftCreditLimit.Cmp(limit) != 0 || d.RightCreditLimit.Cmp(limit) != 0 {
		t.Fatalf("expected both limits %s, got L=%s R=%s", limit, d.LeftCreditLimit, d.RightCreditLimit)
	}
}

func openedPair(t *testing.T, limit *big.Int) (*Account, *Account) {
	t.Helper()
	a, b := idFor(1), idFor(2)
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

// TestDirectPaymentWithinRCPAN exercises scenario 2.
func TestDirectPaymentWithinRCPAN(t *testing.T) {
	limit := big.NewInt(1_000_000)
	left, right := openedPair(t, limit)

	amount := big.NewInt(500_000)
	left.Enqueue(AccountTx{
		Kind:   TxDirectPayment,
		Token:  1,
		Amount: amount,
		Route:  []EntityId{left.Left, left.Right},
		From:   left.Left,
		To:     left.Right,
	})

	frame, err := left.ProposeNext(2000)
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

	want := new(big.Int).Neg(amount)
	if got := left.Deltas[1].Net(); got.Cmp(want) != 0 {
		t.Fatalf("expected net delta %s, got %s", want, got)
	}
	capacities := right.CapacitiesFor(SideRight)[1]
	if capacities.InCapacity.Sign() <= 0 {
		t.Fatalf("expected positive inbound capacity for right, got %s", capacities.InCapacity)
	}
}

// TestRCPANRejection exercises scenario 3: a payment exceeding the
// credit limit aborts the frame with no state mutation.
func TestRCPANRejection(t *testing.T) {
	limit := big.NewInt(1_000_000)
	left, _ := openedPair(t, limit)

	left.Enqueue(AccountTx{
		Kind:   TxDirectPayment,
		Token:  1,
		Amount: big.NewInt(1_000_001),
		Route:  []EntityId{left.Left, left.Right},
		From:   left.Left,
		To:     left.Right,
	})

	before := left.Height
	_, err := left.ProposeNext(3000)
	if err == nil {
		t.Fatal("expected RCPAN violation, got nil error")
	}
	if _, ok := err.(*RCPANViolationError); !ok {
		t.Fatalf("expected *RCPANViolationError, got %T: %v", err, err)
	}
	if left.Height != before {
		t.Fatalf("height mutated on rejected proposal: before=%d after=%d", before, left.Height)
	}
	if left.Phase != PhaseIdle {
		t.Fatalf("expected account to remain idle after rejection, got phase %d", left.Phase)
	}
}

// TestZeroSumSettlement exercises scenario 4.
func TestZeroSumSettlement(t *testing.T) {
	ok := SettlementDiff{Token: 1, LeftDiff: big.NewInt(100), RightDiff: big.NewInt(-100), CollateralDiff: big.NewInt(0)}
	if err := ValidateZeroSum(ok); err != nil {
		t.Fatalf("expected zero-sum diff to validate, got %v", err)
	}

	bad := SettlementDiff{Token: 1, LeftDiff: big.NewInt(100), RightDiff: big.NewInt(-100), CollateralDiff: big.NewInt(1)}
	err := ValidateZeroSum(bad)
	if err == nil {
		t.Fatal("expected zero-sum violation, got nil")
	}
	if _, ok := err.(*ZeroSumViolationError); !ok {
		t.Fatalf("expected *ZeroSumViolationError, got %T", err)
	}
}

// TestMultiHopPendingForward exercises the forwarding leg of scenario
// 5: a payment whose route extends past the immediate receiver leaves
// a pending_forward with fee deducted.
func TestMultiHopPendingForward(t *testing.T) {
	limit := big.NewInt(1_000_000)
	left, right := openedPair(t, limit)
	h := idFor(3)

	amount := big.NewInt(100_000)
	left.Enqueue(AccountTx{
		Kind:   TxDirectPayment,
		Token:  1,
		Amount: amount,
		Route:  []EntityId{left.Left, left.Right, h},
		From:   left.Left,
		To:     left.Right,
	})

	frame, err := left.ProposeNext(4000)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	_, forward, err := right.ApplyIncomingFrame(frame)
	if err != nil {
		t.Fatalf("right apply: %v", err)
	}
	if forward == nil {
		t.Fatal("expected pending_forward to be set")
	}
	wantFee := DefaultFeeSchedule(amount)
	wantAmount := new(big.Int).Sub(amount, wantFee)
	if forward.Amount.Cmp(wantAmount) != 0 {
		t.Fatalf("expected forward amount %s, got %s", wantAmount, forward.Amount)
	}
	if len(forward.RemainingRoute) != 2 || forward.RemainingRoute[0] != left.Right || forward.RemainingRoute[1] != h {
		t.Fatalf("expected remaining route [receiver h], got %v", forward.RemainingRoute)
	}

	taken := right.TakePendingForward()
	if taken == nil {
		t.Fatal("expected TakePendingForward to return the marker")
	}
	if right.PendingForward != nil {
		t.Fatal("expected PendingForward cleared after Take")
	}
}

// TestConcurrentProposalTieBreak exercises tie-break property:
// when both sides propose height h simultaneously, the committed frame
// equals left's.
func TestConcurrentProposalTieBreak(t *testing.T) {
	limit := big.NewInt(1_000_000)
	left, right := openedPair(t, limit)

	left.Enqueue(AccountTx{Kind: TxSetCreditLimit, Token: 1, Side: SideLeft, Amount: big.NewInt(2_000_000)})
	leftFrame, err := left.ProposeNext(5000)
	if err != nil {
		t.Fatalf("left propose: %v", err)
	}

	right.Enqueue(AccountTx{Kind: TxSetCreditLimit, Token: 1, Side: SideRight, Amount: big.NewInt(3_000_000)})
	if _, err := right.ProposeNext(5001); err != nil {
		t.Fatalf("right propose: %v", err)
	}

	committed, _, err := right.ReconcileConflict(right.Right, leftFrame)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if committed.StateHash != leftFrame.StateHash {
		t.Fatalf("expected committed frame to equal left's proposal")
	}
	if right.RollbackCount != 1 {
		t.Fatalf("expected rollback_count=1, got %d", right.RollbackCount)
	}
	if len(right.Mempool) != 1 {
		t.Fatalf("expected right's original tx re-queued, got %d entries", len(right.Mempool))
	}
}
