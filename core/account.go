package core

// account.go – the bilateral account state machine: a two-party
// frame protocol between the entities sharing an AccountKey, with the
// left party (smaller EntityId) proposing from idle and the right party
// proposing only after acking left's last frame. Structurally this
// mirrors core/state_channel.go's escrow lifecycle (open /
// propose-close / challenge / finalize, each step gated on a verified
// counterparty signature before any balance mutates) but replaces the
// single on-chain escrow balance with a per-token RCPAN delta map and
// replaces the dispute-window challenge with a left-wins tie-break.

import (
	"math/big"
)

// AccountTxKind names the five account-tx kinds.
type AccountTxKind uint8

const (
	TxAddDelta AccountTxKind = iota
	TxSetCreditLimit
	TxDirectPayment
	TxSetAllowance
	TxSettlementAck
)

func (k AccountTxKind) String() string {
	switch k {
	case TxAddDelta:
		return "add_delta"
	case TxSetCreditLimit:
		return "set_credit_limit"
	case TxDirectPayment:
		return "direct_payment"
	case TxSetAllowance:
		return "set_allowance"
	case TxSettlementAck:
		return "settlement_ack"
	default:
		return "unknown"
	}
}

// AccountTx is one entry in an account frame's tx list. Fields not
// relevant to Kind are left zero.
type AccountTx struct {
	Kind        AccountTxKind
	Token       TokenId
	Side        Side     // set_credit_limit: which side's limit is set
	Amount      *big.Int // set_credit_limit, direct_payment, set_allowance
	Route       []EntityId
	From, To    EntityId
	Description string
	SettlementRef Hash // settlement_ack: batch this acks
}

// FeeSchedule computes the per-hop forwarding fee taken from a payment
// amount. Account.applyTx always computes forwarding fees with
// DefaultFeeSchedule; no other FeeSchedule is consulted when forwarding.
type FeeSchedule func(amount *big.Int) *big.Int

// DefaultFeeSchedule implements max(amount/1000, 1) as named in .
func DefaultFeeSchedule(amount *big.Int) *big.Int {
	fee := new(big.Int).Div(amount, big.NewInt(1000))
	if fee.Sign() < 1 {
		return big.NewInt(1)
	}
	return fee
}

// AccountFrame is one committed or proposed step of an account's
// history.
type AccountFrame struct {
	Height    uint64
	Timestamp int64
	Txs       []AccountTx
	PrevHash  Hash
	TokenIds  []TokenId
	Deltas    []*Delta // aligned with TokenIds
	StateHash Hash
}

// computeStateHash derives the canonical RLP hash of the frame's
// preceding fields. Deltas are flattened to strings since
// *big.Int has no native RLP encoding.
func (f *AccountFrame) computeStateHash() (Hash, error) {
	type deltaWire struct {
		Collateral, OnDelta, OffDelta, LeftLimit, RightLimit string
	}
	type frameWire struct {
		Height    uint64
		Timestamp uint64
		TxCount   uint64
		PrevHash  []byte
		TokenIds  []uint64
		Deltas    []deltaWire
	}
	wire := frameWire{
		Height:    f.Height,
		Timestamp: uint64(f.Timestamp),
		TxCount:   uint64(len(f.Txs)),
		PrevHash:  f.PrevHash.Bytes(),
	}
	for i, t := range f.TokenIds {
		wire.TokenIds = append(wire.TokenIds, uint64(t))
		d := f.Deltas[i]
		wire.Deltas = append(wire.Deltas, deltaWire{
			Collateral: d.Collateral.String(),
			OnDelta:    d.OnDelta.String(),
			OffDelta:   d.OffDelta.String(),
			LeftLimit:  d.LeftCreditLimit.String(),
			RightLimit: d.RightCreditLimit.String(),
		})
	}
	return RLPHash(wire)
}

// PendingForward is set on an account when a committed direct_payment
// tx's route extends beyond the receiving entity. The E-machine observes it, enqueues the continuation,
// and clears it.
type PendingForward struct {
	Token          TokenId
	Amount         *big.Int
	RemainingRoute []EntityId
	Description    string
}

// AccountPhase is this account's local view of the bilateral protocol.
type AccountPhase uint8

const (
	PhaseIdle AccountPhase = iota
	PhaseProposed
)

// Account is the bilateral account machine state for one AccountKey.
type Account struct {
	Key   AccountKey
	Left  EntityId
	Right EntityId

	Height   uint64
	PrevHash Hash
	Deltas   map[TokenId]*Delta

	Mempool []AccountTx
	Phase   AccountPhase
	Pending *AccountFrame // our outstanding proposal, awaiting ack

	SendCounter uint64 // our outgoing frame counter
	RecvCounter uint64 // last counter we've accepted from the peer

	History        []AccountFrame
	RollbackCount  uint64
	PendingForward *PendingForward
}

// NewAccount creates an empty account machine for the canonical
// (left, right) pair derived from a and b.
func NewAccount(a, b EntityId) *Account {
	key, left, right := NewAccountKey(a, b)
	return &Account{
		Key:    key,
		Left:   left,
		Right:  right,
		Deltas: make(map[TokenId]*Delta),
	}
}

// IsLeft reports whether self is this account's left party.
func (acc *Account) IsLeft(self EntityId) bool { return self == acc.Left }

// clone returns a deep copy of acc suitable for speculative application
// (frame verification) that must never mutate the original.
func (acc *Account) clone() *Account {
	c := &Account{
		Key:           acc.Key,
		Left:          acc.Left,
		Right:         acc.Right,
		Height:        acc.Height,
		PrevHash:      acc.PrevHash,
		Deltas:        make(map[TokenId]*Delta, len(acc.Deltas)),
		Mempool:       append([]AccountTx(nil), acc.Mempool...),
		Phase:         acc.Phase,
		SendCounter:   acc.SendCounter,
		RecvCounter:   acc.RecvCounter,
		History:       append([]AccountFrame(nil), acc.History...),
		RollbackCount: acc.RollbackCount,
	}
	for id, d := range acc.Deltas {
		c.Deltas[id] = d.Clone()
	}
	if acc.Pending != nil {
		p := *acc.Pending
		c.Pending = &p
	}
	if acc.PendingForward != nil {
		f := *acc.PendingForward
		c.PendingForward = &f
	}
	return c
}

// Enqueue appends a tx to the local mempool for the next proposed frame.
func (acc *Account) Enqueue(tx AccountTx) {
	acc.Mempool = append(acc.Mempool, tx)
}

// orderedTokenIDsOf returns m's keys in sorted order; every map
// traversal that feeds a hash must go through here.
func orderedTokenIDsOf(m map[TokenId]*Delta) []TokenId {
	ids := make([]TokenId, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

// cloneDeltas returns a deep copy of acc.Deltas, adding a fresh zero
// Delta for any token referenced by txs that doesn't exist yet.
func (acc *Account) cloneDeltas(txs []AccountTx) map[TokenId]*Delta {
	clone := make(map[TokenId]*Delta, len(acc.Deltas))
	for id, d := range acc.Deltas {
		clone[id] = d.Clone()
	}
	for _, tx := range txs {
		if _, ok := clone[tx.Token]; !ok && tx.Kind != TxSettlementAck {
			clone[tx.Token] = NewDelta()
		}
	}
	return clone
}

// applyTx mutates candidate (keyed by token id) through the RCPAN
// engine. On any validation failure, candidate is untouched for that
// token and the error is returned; callers must abort the whole
// frame, never apply a partial tx list.
func (acc *Account) applyTx(candidate map[TokenId]*Delta, tx AccountTx) (*PendingForward, error) {
	switch tx.Kind {
	case TxAddDelta:
		if _, ok := candidate[tx.Token]; !ok {
			candidate[tx.Token] = NewDelta()
		}
		return nil, nil

	case TxSetCreditLimit:
		d := candidate[tx.Token]
		change := DeltaChange{}
		if tx.Side == SideLeft {
			change.LeftLimitSet = tx.Amount
		} else {
			change.RightLimitSet = tx.Amount
		}
		updated, err := UpdateDelta(tx.Token, d, change)
		if err != nil {
			return nil, err
		}
		candidate[tx.Token] = updated
		return nil, nil

	case TxSetAllowance:
		// An allowance caps the counterparty's unilateral spend without
		// a corresponding credit-limit renegotiation; modeled here as a
		// same-direction credit-limit adjustment since the delta map is
		// the only place an account bounds exposure.
		d := candidate[tx.Token]
		change := DeltaChange{}
		if tx.Side == SideLeft {
			change.LeftLimitSet = tx.Amount
		} else {
			change.RightLimitSet = tx.Amount
		}
		updated, err := UpdateDelta(tx.Token, d, change)
		if err != nil {
			return nil, err
		}
		candidate[tx.Token] = updated
		return nil, nil

	case TxDirectPayment:
		d := candidate[tx.Token]
		// from == Left: δ decreases (off_delta -= amount); from == Right: δ increases.
		offChange := new(big.Int).Set(tx.Amount)
		if tx.From == acc.Left {
			offChange.Neg(offChange)
		}
		updated, err := UpdateDelta(tx.Token, d, DeltaChange{OffDeltaDelta: offChange})
		if err != nil {
			return nil, err
		}
		candidate[tx.Token] = updated

		if len(tx.Route) > 1 {
			// tx.Route[0] is the sender; the next hop after To is
			// whatever remains once this entity (To) forwards onward.
			remaining := tx.Route[1:]
			if len(remaining) > 1 {
				fee := DefaultFeeSchedule(tx.Amount)
				forwardAmount := new(big.Int).Sub(tx.Amount, fee)
				return &PendingForward{
					Token:          tx.Token,
					Amount:         forwardAmount,
					RemainingRoute: remaining,
					Description:    tx.Description,
				}, nil
			}
		}
		return nil, nil

	case TxSettlementAck:
		// Acknowledges a previously submitted settlement batch; no
		// delta mutation here, the corresponding collateral/on-chain
		// adjustment arrives through a j_event at the entity layer.
		return nil, nil

	default:
		return nil, &InvalidSignatureError{Context: "unknown account-tx kind"}
	}
}

// buildCandidateFrame applies every tx in txs against a cloned delta
// map, aborting atomically (returning the first error) if any tx is
// invalid. It never mutates acc.Deltas.
func (acc *Account) buildCandidateFrame(txs []AccountTx, timestamp int64) (*AccountFrame, *PendingForward, error) {
	candidate := acc.cloneDeltas(txs)
	var forward *PendingForward
	for _, tx := range txs {
		fwd, err := acc.applyTx(candidate, tx)
		if err != nil {
			return nil, nil, err
		}
		if fwd != nil {
			forward = fwd
		}
	}

	frame := &AccountFrame{
		Height:    acc.Height + 1,
		Timestamp: timestamp,
		Txs:       txs,
		PrevHash:  acc.PrevHash,
	}
	for _, id := range orderedTokenIDsOf(candidate) {
		frame.TokenIds = append(frame.TokenIds, id)
		frame.Deltas = append(frame.Deltas, candidate[id])
	}
	hash, err := frame.computeStateHash()
	if err != nil {
		return nil, nil, err
	}
	frame.StateHash = hash
	return frame, forward, nil
}

// ProposeNext builds and proposes the next frame from the local
// mempool.
// Only valid when idle with no outstanding proposal.
func (acc *Account) ProposeNext(timestamp int64) (*AccountFrame, error) {
	if acc.Phase != PhaseIdle {
		return nil, ErrProposalOutstanding
	}
	if len(acc.Mempool) == 0 {
		return nil, ErrMempoolEmpty
	}
	frame, _, err := acc.buildCandidateFrame(acc.Mempool, timestamp)
	if err != nil {
		return nil, err
	}
	acc.Pending = frame
	acc.Phase = PhaseProposed
	acc.SendCounter++
	return frame, nil
}

// commitFrame installs frame as the new committed state: deltas,
// height, prev hash, and history all advance together.
func (acc *Account) commitFrame(frame *AccountFrame) {
	deltas := make(map[TokenId]*Delta, len(frame.TokenIds))
	for i, id := range frame.TokenIds {
		deltas[id] = frame.Deltas[i]
	}
	acc.Deltas = deltas
	acc.Height = frame.Height
	acc.PrevHash = frame.StateHash
	acc.History = append(acc.History, *frame)
}

// AckPending handles the proposer's receipt of an ack for its own
// pending proposal. ackHash must equal the pending frame's recomputed state hash.
func (acc *Account) AckPending(ackHash Hash) error {
	if acc.Phase != PhaseProposed || acc.Pending == nil {
		return ErrNotProposer
	}
	if acc.Pending.StateHash != ackHash {
		return &StateHashMismatchError{Want: acc.Pending.StateHash, Got: ackHash}
	}
	acc.commitFrame(acc.Pending)
	acc.Mempool = nil
	acc.Pending = nil
	acc.Phase = PhaseIdle
	acc.RecvCounter = acc.SendCounter
	return nil
}

// ApplyIncomingFrame handles receipt of a frame proposed by the peer
// while this side is idle. It re-applies the frame's
// own tx list against this side's committed deltas, verifies the
// resulting hash matches the peer's claim, commits on success, and
// returns the recomputed frame (to be signed and sent back as an ack)
// plus any pending_forward raised by a direct_payment within it.
func (acc *Account) ApplyIncomingFrame(in *AccountFrame) (*AccountFrame, *PendingForward, error) {
	if in.Height != acc.Height+1 {
		return nil, nil, &CounterMismatchError{Expected: acc.Height + 1, Got: in.Height}
	}
	if in.PrevHash != acc.PrevHash {
		return nil, nil, &StateHashMismatchError{Want: acc.PrevHash, Got: in.PrevHash}
	}
	recomputed, forward, err := acc.buildCandidateFrame(in.Txs, in.Timestamp)
	if err != nil {
		return nil, nil, err
	}
	if recomputed.StateHash != in.StateHash {
		return nil, nil, &StateHashMismatchError{Want: recomputed.StateHash, Got: in.StateHash}
	}
	acc.commitFrame(recomputed)
	acc.RecvCounter++
	if forward != nil {
		acc.PendingForward = forward
	}
	return recomputed, forward, nil
}

// ReconcileConflict implements the concurrent-proposal tie-break
//: when this side had proposed
// height N+1 and the peer independently proposed the same height,
// left's proposal is canonical regardless of which side we are. The
// loser discards its own proposal, re-applies the winner's frame, and
// its original mempool txs are re-queued for the next round.
func (acc *Account) ReconcileConflict(self EntityId, peerFrame *AccountFrame) (*AccountFrame, *PendingForward, error) {
	winnerIsSelf := acc.IsLeft(self)
	if winnerIsSelf {
		// We are left and therefore win; the peer's frame is discarded
		// by construction (the caller never applies it). Re-propose our
		// own pending frame as-is; bump the rollback counter since a
		// conflict was observed even though our view did not change.
		acc.RollbackCount++
		frame := acc.Pending
		acc.Phase = PhaseProposed
		return frame, nil, nil
	}

	// We are right and lose: discard our pending proposal, re-apply
	// left's frame, and re-queue our own txs for the next round.
	acc.RollbackCount++
	ourTxs := acc.Mempool
	acc.Pending = nil
	acc.Phase = PhaseIdle

	applied, forward, err := acc.ApplyIncomingFrame(peerFrame)
	if err != nil {
		return nil, nil, err
	}
	acc.Mempool = ourTxs
	return applied, forward, nil
}

// TakePendingForward returns and clears the account's pending_forward
// marker, if any, for the E-machine to enqueue onto the next hop.
func (acc *Account) TakePendingForward() *PendingForward {
	fwd := acc.PendingForward
	acc.PendingForward = nil
	return fwd
}

// CapacitiesFor reports in/out capacity for a given side across all of
// this account's tokens, as derived by CapacityFor in rcpan.go.
func (acc *Account) CapacitiesFor(side Side) map[TokenId]Capacities {
	out := make(map[TokenId]Capacities, len(acc.Deltas))
	for _, id := range orderedTokenIDsOf(acc.Deltas) {
		out[id] = CapacityFor(acc.Deltas[id], side)
	}
	return out
}
