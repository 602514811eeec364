package core

// entity.go – the entity state machine: quorum-based frame
// consensus among an entity's validators, composed of apply(state, tx)
// for every supported tx kind and apply_entity_frame wrapping the whole
// batch atomically. Grounded on core/consensus.go's proposer/voter
// loop (ProposeSubBlock → handlePoSVote → super-majority check → seal)
// and core/governance.go's proposal/vote/execute shape (GovProposal,
// UpdateParam, quorumReached), generalised from a single global
// authority set to one quorum per entity.

import (
	"math/big"

	"github.com/google/uuid"
)

// EntityTxKind enumerates the ten tx kinds the E-machine accepts.
type EntityTxKind uint8

const (
	TxChat EntityTxKind = iota
	TxPropose
	TxVote
	TxJEvent
	TxOpenAccount
	TxAccountInput
	TxDirectPaymentEntity
	TxDepositCollateral
	TxRequestWithdrawal
	TxSettleDiffs
)

// EntityTx is one request dispatched through apply().
// Fields not relevant to Kind are left zero.
type EntityTx struct {
	Kind   EntityTxKind
	Signer SignerId
	Nonce  uint64

	Message string // chat

	ProposalID Hash      // vote
	Action     GovAction // propose
	Vote       bool      // vote

	Event JEvent // j_event

	Counterparty EntityId // openAccount

	AccountIn *AccountInput // accountInput

	Target EntityId // directPayment, requestWithdrawal, settleDiffs
	Token  TokenId  // directPayment, deposit_collateral, requestWithdrawal
	Amount *big.Int // directPayment, deposit_collateral, requestWithdrawal

	Diffs []SettlementDiff // settleDiffs
}

// JEventKind enumerates externally observed ledger events.
type JEventKind string

const (
	JEventRegisterEntity      JEventKind = "registerEntity"
	JEventSettlementProcessed JEventKind = "settlementProcessed"
	JEventReserveCredited     JEventKind = "reserveCredited"
	JEventTokenRegistered     JEventKind = "tokenRegistered"
)

// JEvent is an externally observed settlement-ledger event.
type JEvent struct {
	Kind        JEventKind
	Token       TokenId
	Amount      *big.Int
	Entity      EntityId
	ExternalRef string
}

// AccountInput is the wire shape for bilateral account-frame exchange,
// carried inside an EntityTx{Kind: TxAccountInput}.
type AccountInput struct {
	From, To       EntityId
	NewFrame       *AccountFrame
	Ack            *Hash
	Height         uint64
	ConflictsWith  *AccountFrame // set when the peer's frame collides with our own pending proposal
}

// GovAction is the effect a governance proposal executes once it
// passes. Only parameter updates are modeled, matching the UpdateParam
// shape in core/governance.go.
type GovAction struct {
	Param string
	Value string
}

// GovProposalStatus tracks a proposal's lifecycle.
type GovProposalStatus uint8

const (
	ProposalPending GovProposalStatus = iota
	ProposalExecuted
)

// GovProposal is a pending or executed governance action.
type GovProposal struct {
	ID     Hash
	Action GovAction
	Status GovProposalStatus
	Votes  map[SignerId]struct{}
	Power  uint64
}

// EntityState is one replica's committed view of its entity.
type EntityState struct {
	EntityId EntityId
	Height   uint64
	PrevHash Hash

	Nonces   map[SignerId]uint64
	Messages []string

	Accounts map[AccountKey]*Account
	Quorum   QuorumConfig
	Params   map[string]string

	Proposals map[Hash]*GovProposal
	Reserves  map[TokenId]*big.Int
}

// NewEntityState constructs an empty, zeroed entity state for id under
// the given quorum.
func NewEntityState(id EntityId, quorum QuorumConfig) *EntityState {
	return &EntityState{
		EntityId:  id,
		Nonces:    make(map[SignerId]uint64),
		Accounts:  make(map[AccountKey]*Account),
		Quorum:    quorum,
		Params:    make(map[string]string),
		Proposals: make(map[Hash]*GovProposal),
		Reserves:  make(map[TokenId]*big.Int),
	}
}

func (s *EntityState) accountFor(other EntityId) (*Account, AccountKey) {
	key, _, _ := NewAccountKey(s.EntityId, other)
	acc, ok := s.Accounts[key]
	if !ok {
		acc = NewAccount(s.EntityId, other)
		s.Accounts[key] = acc
	}
	return acc, key
}

func (s *EntityState) reserveOf(token TokenId) *big.Int {
	r, ok := s.Reserves[token]
	if !ok {
		r = big.NewInt(0)
		s.Reserves[token] = r
	}
	return r
}

func (p *GovProposal) clone() *GovProposal {
	votes := make(map[SignerId]struct{}, len(p.Votes))
	for s := range p.Votes {
		votes[s] = struct{}{}
	}
	return &GovProposal{ID: p.ID, Action: p.Action, Status: p.Status, Votes: votes, Power: p.Power}
}

// clone returns a deep copy of s, used by VerifyFrame to re-apply a
// proposed frame's txs without mutating the replica's own committed
// state.
func (s *EntityState) clone() *EntityState {
	c := &EntityState{
		EntityId:  s.EntityId,
		Height:    s.Height,
		PrevHash:  s.PrevHash,
		Nonces:    make(map[SignerId]uint64, len(s.Nonces)),
		Messages:  append([]string(nil), s.Messages...),
		Accounts:  make(map[AccountKey]*Account, len(s.Accounts)),
		Quorum:    s.Quorum,
		Params:    make(map[string]string, len(s.Params)),
		Proposals: make(map[Hash]*GovProposal, len(s.Proposals)),
		Reserves:  make(map[TokenId]*big.Int, len(s.Reserves)),
	}
	for k, v := range s.Nonces {
		c.Nonces[k] = v
	}
	for k, acc := range s.Accounts {
		c.Accounts[k] = acc.clone()
	}
	for k, v := range s.Params {
		c.Params[k] = v
	}
	for k, p := range s.Proposals {
		c.Proposals[k] = p.clone()
	}
	for k, v := range s.Reserves {
		c.Reserves[k] = new(big.Int).Set(v)
	}
	return c
}

// OutputKind tags what an apply() side-effect means to the scheduler.
type OutputKind uint8

const (
	OutputAccountInput OutputKind = iota
	OutputSettlementRequest
	OutputError
	OutputMessage
	OutputFramePrecommit // a peer replica verified the proposer's frame and precommitted
	OutputFrameCommitted // the proposer's frame reached quorum; every replica advanced height
)

// SettlementRequestKind names the ledger-boundary operations the core
// can queue.
type SettlementRequestKind uint8

const (
	RequestSubmitBatch SettlementRequestKind = iota
	RequestDepositReserve
	RequestTransferReserve
	RequestRegisterToken
)

// SettlementRequest is an outbound, fire-and-forget call to the
// external settlement ledger; its result arrives later as a
// j_event, never synchronously.
type SettlementRequest struct {
	Kind         SettlementRequestKind
	LeftEntity   EntityId
	RightEntity  EntityId
	Diffs        []SettlementDiff
	Token        TokenId
	Amount       *big.Int
	ToEntity     EntityId
	ExternalRef  string
}

// Output is one side-effect produced by applying a tx: routed to a
// peer replica, queued to the settlement ledger, or surfaced as a
// diagnostic.
type Output struct {
	Kind       OutputKind
	ToEntity   EntityId
	AccountIn  *AccountInput
	Settlement *SettlementRequest
	Err        error
	Message    string

	// ToSigner and FrameHeight are set on OutputFramePrecommit and
	// OutputFrameCommitted, naming the peer replica that precommitted
	// and the frame height the message concerns.
	ToSigner    SignerId
	FrameHeight uint64

	// CorrelationId lets a caller match a rejected input back to the
	// diagnostic output it produced across the async settlement/gossip
	// boundary.
	// Set only on OutputError; zero otherwise.
	CorrelationId string
}

// errorOutput builds a tagged diagnostic output for a rejected input.
func errorOutput(toEntity EntityId, err error) Output {
	return Output{Kind: OutputError, ToEntity: toEntity, Err: err, CorrelationId: uuid.NewString()}
}

// PathFinder resolves a gossip route between two entities. It is
// a read-only capability injected at construction time; the core never
// maintains the graph itself.
type PathFinder interface {
	FindPaths(from, to EntityId) ([][]EntityId, error)
}

// Router carries the path finder the E-machine uses to resolve
// directPayment routes. Fee is carried here but not read: forwarding
// fees are computed with DefaultFeeSchedule in Account.applyTx.
type Router struct {
	Paths PathFinder
	Fee   FeeSchedule
}

// apply dispatches a single validated tx against state, returning the
// outputs it produces. It mutates state directly; callers that need
// atomicity across a whole frame must work on a copy (VerifyFrame
// applies to a clone; the runtime scheduler's Tick applies directly to
// replica state).
func apply(state *EntityState, tx EntityTx, router Router) ([]Output, error) {
	expected := state.Nonces[tx.Signer] + 1
	if tx.Kind != TxJEvent && tx.Nonce != expected {
		return nil, &InvalidNonceError{Signer: tx.Signer, Expected: expected, Got: tx.Nonce}
	}

	var outputs []Output
	var err error

	switch tx.Kind {
	case TxChat:
		if tx.Message == "" || len(tx.Message) > 4096 {
			return nil, &InvalidSignatureError{Context: "chat message empty or too long"}
		}
		state.Messages = append(state.Messages, tx.Message)

	case TxPropose:
		id := Keccak256([]byte(tx.Action.Param), []byte(tx.Action.Value), []byte(tx.Signer.String()))
		prop := &GovProposal{ID: id, Action: tx.Action, Votes: map[SignerId]struct{}{tx.Signer: {}}, Power: state.Quorum.PowerOf(tx.Signer)}
		state.Proposals[id] = prop
		if prop.Power >= state.Quorum.Threshold {
			executeProposal(state, prop)
		}

	case TxVote:
		prop, ok := state.Proposals[tx.ProposalID]
		if !ok || prop.Status != ProposalPending {
			return nil, ErrUnknownReplica // reused: "no such pending proposal"
		}
		if _, dup := prop.Votes[tx.Signer]; !dup {
			prop.Votes[tx.Signer] = struct{}{}
			prop.Power += state.Quorum.PowerOf(tx.Signer)
		}
		if prop.Power >= state.Quorum.Threshold {
			executeProposal(state, prop)
		}

	case TxJEvent:
		applyJEvent(state, tx.Event)

	case TxOpenAccount:
		if tx.Counterparty == state.EntityId {
			return nil, &UnauthorizedError{Signer: tx.Signer}
		}
		acc, _ := state.accountFor(tx.Counterparty)
		isLeft := acc.IsLeft(state.EntityId)
		limit := big.NewInt(0)
		acc.Enqueue(AccountTx{Kind: TxAddDelta, Token: 1})
		side := SideRight
		if isLeft {
			side = SideLeft
		}
		acc.Enqueue(AccountTx{Kind: TxSetCreditLimit, Token: 1, Side: side, Amount: limit})

	case TxAccountInput:
		outputs, err = applyAccountInput(state, tx, router)

	case TxDirectPaymentEntity:
		outputs, err = applyDirectPayment(state, tx, router)

	case TxDepositCollateral:
		reserve := state.reserveOf(tx.Token)
		if reserve.Cmp(tx.Amount) < 0 {
			return nil, &InsufficientReserveError{Token: tx.Token, Requested: tx.Amount.String(), Available: reserve.String()}
		}
		outputs = append(outputs, Output{
			Kind: OutputSettlementRequest,
			Settlement: &SettlementRequest{
				Kind:        RequestDepositReserve,
				LeftEntity:  state.EntityId,
				Token:       tx.Token,
				Amount:      tx.Amount,
			},
		})

	case TxRequestWithdrawal:
		acc, _ := state.accountFor(tx.Target)
		if _, ok := acc.Deltas[tx.Token]; !ok {
			return nil, ErrAccountNotFound
		}
		outputs = append(outputs, Output{
			Kind: OutputSettlementRequest,
			Settlement: &SettlementRequest{
				Kind:       RequestTransferReserve,
				LeftEntity: state.EntityId,
				ToEntity:   tx.Target,
				Token:      tx.Token,
				Amount:     tx.Amount,
			},
		})

	case TxSettleDiffs:
		for _, d := range tx.Diffs {
			if zerr := ValidateZeroSum(d); zerr != nil {
				return nil, zerr
			}
		}
		acc, _ := state.accountFor(tx.Target)
		outputs = append(outputs, Output{
			Kind: OutputSettlementRequest,
			Settlement: &SettlementRequest{
				Kind:        RequestSubmitBatch,
				LeftEntity:  acc.Left,
				RightEntity: acc.Right,
				Diffs:       tx.Diffs,
			},
		})

	default:
		return nil, &InvalidSignatureError{Context: "unknown entity-tx kind"}
	}

	if err != nil {
		return nil, err
	}
	if tx.Kind != TxJEvent {
		state.Nonces[tx.Signer] = tx.Nonce
	}
	return outputs, nil
}

func executeProposal(state *EntityState, prop *GovProposal) {
	prop.Status = ProposalExecuted
	state.Params[prop.Action.Param] = prop.Action.Value
}

func applyJEvent(state *EntityState, ev JEvent) {
	switch ev.Kind {
	case JEventReserveCredited:
		reserve := state.reserveOf(ev.Token)
		reserve.Add(reserve, ev.Amount)
	case JEventRegisterEntity, JEventSettlementProcessed, JEventTokenRegistered:
		// Registration and settlement confirmations are acknowledged by
		// their presence in the WAL; no further local state to mutate
		// beyond what deposit/settlement flows already queued.
	}
}

// applyAccountInput dispatches an inbound AccountInput to the named
// account's bilateral machine and returns the resulting outbound
// AccountInput(s).
func applyAccountInput(state *EntityState, tx EntityTx, router Router) ([]Output, error) {
	in := tx.AccountIn
	if in == nil {
		return nil, &InvalidSignatureError{Context: "accountInput missing payload"}
	}
	var counterparty EntityId
	if in.From == state.EntityId {
		counterparty = in.To
	} else {
		counterparty = in.From
	}
	acc, _ := state.accountFor(counterparty)

	switch {
	case in.ConflictsWith != nil:
		applied, forward, err := acc.ReconcileConflict(state.EntityId, in.ConflictsWith)
		if err != nil {
			return nil, err
		}
		return forwardOutputs(state, acc, counterparty, applied, forward, router)

	case in.NewFrame != nil:
		if acc.Phase == PhaseProposed && acc.Pending != nil && acc.Pending.Height == in.NewFrame.Height {
			// Both sides proposed this height concurrently. Run the
			// tie-break locally; left's proposal is canonical regardless
			// of which side received this input.
			applied, forward, err := acc.ReconcileConflict(state.EntityId, in.NewFrame)
			if err != nil {
				return nil, err
			}
			if acc.IsLeft(state.EntityId) {
				// We won: our own proposal is unchanged and still
				// awaiting an ack. Tell the peer to discard theirs and
				// reconcile against ours instead of acking it as a
				// normal incoming frame.
				return []Output{{
					Kind:     OutputAccountInput,
					ToEntity: counterparty,
					AccountIn: &AccountInput{
						From:          state.EntityId,
						To:            counterparty,
						ConflictsWith: applied,
					},
				}}, nil
			}
			return forwardOutputs(state, acc, counterparty, applied, forward, router)
		}

		applied, forward, err := acc.ApplyIncomingFrame(in.NewFrame)
		if err != nil {
			return nil, err
		}
		return forwardOutputs(state, acc, counterparty, applied, forward, router)

	case in.Ack != nil:
		if err := acc.AckPending(*in.Ack); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return nil, &InvalidSignatureError{Context: "accountInput carries neither frame, conflict, nor ack"}
}

// forwardOutputs builds the ack output for a freshly applied frame and,
// if a pending_forward was raised, enqueues the continuation into the
// next-hop account's mempool.
func forwardOutputs(state *EntityState, acc *Account, counterparty EntityId, applied *AccountFrame, forward *PendingForward, router Router) ([]Output, error) {
	hash := applied.StateHash
	outputs := []Output{{
		Kind:     OutputAccountInput,
		ToEntity: counterparty,
		AccountIn: &AccountInput{
			From: state.EntityId,
			To:   counterparty,
			Ack:  &hash,
		},
	}}
	if forward != nil {
		acc.TakePendingForward()
	}
	// RemainingRoute starts at this entity; the next hop follows it.
	if forward != nil && len(forward.RemainingRoute) > 1 && forward.RemainingRoute[0] == state.EntityId {
		next := forward.RemainingRoute[1]
		nextAcc, _ := state.accountFor(next)
		nextAcc.Enqueue(AccountTx{
			Kind:   TxDirectPayment,
			Token:  forward.Token,
			Amount: forward.Amount,
			Route:  append([]EntityId(nil), forward.RemainingRoute...),
			From:   state.EntityId,
			To:     next,
		})
	}
	return outputs, nil
}

// applyDirectPayment resolves a route (direct or via gossip) and
// enqueues the first-hop direct_payment account-tx.
func applyDirectPayment(state *EntityState, tx EntityTx, router Router) ([]Output, error) {
	routes, err := router.Paths.FindPaths(state.EntityId, tx.Target)
	if err != nil || len(routes) == 0 {
		return nil, &NoRouteFoundError{From: state.EntityId, To: tx.Target}
	}
	route := routes[0]
	if len(route) < 2 || route[0] != state.EntityId {
		return nil, &NoRouteFoundError{From: state.EntityId, To: tx.Target}
	}
	nextHop := route[1]
	key, _, _ := NewAccountKey(state.EntityId, nextHop)
	acc, ok := state.Accounts[key]
	if !ok {
		return nil, ErrAccountNotFound
	}
	acc.Enqueue(AccountTx{
		Kind:   TxDirectPayment,
		Token:  tx.Token,
		Amount: tx.Amount,
		Route:  route,
		From:   state.EntityId,
		To:     nextHop,
	})
	return nil, nil
}

// EntityFrame is one committed or proposed entity-level batch.
type EntityFrame struct {
	Height    uint64
	Timestamp int64
	Txs       []EntityTx
	PrevHash  Hash
	StateHash Hash
}

// EntityReplica is one validator's local view of an entity.
type EntityReplica struct {
	EntityId   EntityId
	SignerId   SignerId
	State      *EntityState
	Mempool    []EntityTx
	IsProposer bool
	Proposal   *EntityFrame
	Votes      *VoteTracker
}

// NewEntityReplica constructs a replica, marking it proposer if it is
// the quorum's deterministic first validator.
func NewEntityReplica(entityID EntityId, signerID SignerId, state *EntityState) *EntityReplica {
	return &EntityReplica{
		EntityId:   entityID,
		SignerId:   signerID,
		State:      state,
		IsProposer: state.Quorum.Proposer() == signerID,
	}
}

// computeEntityStateHash derives the Merkle root over this replica's
// sorted account-key hashes (key, height, prev hash) plus one leaf
// digesting the per-signer nonces; no other entity state is hashed.
func computeEntityStateHash(state *EntityState) (Hash, error) {
	keys := make([]AccountKey, 0, len(state.Accounts))
	for k := range state.Accounts {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && lessAccountKey(keys[j], keys[j-1]); j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	leaves := make([]Hash, 0, len(keys)+1)
	for _, k := range keys {
		acc := state.Accounts[k]
		h, err := RLPHash(struct {
			Key    []byte
			Height uint64
			Prev   []byte
		}{k[:], acc.Height, acc.PrevHash.Bytes()})
		if err != nil {
			return Hash{}, err
		}
		leaves = append(leaves, h)
	}
	nonceHash, err := RLPHash(sortedNonces(state.Nonces))
	if err != nil {
		return Hash{}, err
	}
	leaves = append(leaves, nonceHash)
	return MerkleRoot(leaves), nil
}

func lessAccountKey(a, b AccountKey) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func sortedNonces(nonces map[SignerId]uint64) []sortedMapEntry {
	signers := make([]SignerId, 0, len(nonces))
	for s := range nonces {
		signers = append(signers, s)
	}
	for i := 1; i < len(signers); i++ {
		for j := i; j > 0 && signers[j].Less(signers[j-1]); j-- {
			signers[j-1], signers[j] = signers[j], signers[j-1]
		}
	}
	out := make([]sortedMapEntry, 0, len(signers))
	for _, s := range signers {
		n := nonces[s]
		var v [8]byte
		for i := range v {
			v[7-i] = byte(n >> (8 * i))
		}
		out = append(out, sortedMapEntry{Key: s.Bytes(), Value: v[:]})
	}
	return out
}

// ProposeFrame collects the mempool into a new height, computes its
// state hash, and marks the replica awaiting precommits. Only
// the proposer calls this.
func (r *EntityReplica) ProposeFrame(timestamp int64) (*EntityFrame, error) {
	if !r.IsProposer {
		return nil, ErrNotProposer
	}
	if r.Proposal != nil {
		return nil, ErrProposalOutstanding
	}
	if len(r.Mempool) == 0 {
		return nil, ErrMempoolEmpty
	}
	hash, err := computeEntityStateHash(r.State)
	if err != nil {
		return nil, err
	}
	frame := &EntityFrame{
		Height:    r.State.Height + 1,
		Timestamp: timestamp,
		Txs:       r.Mempool,
		PrevHash:  r.State.PrevHash,
		StateHash: hash,
	}
	r.Proposal = frame
	r.Votes = NewVoteTracker(r.State.Quorum)
	r.Votes.AddVote(r.SignerId)
	if r.State.Quorum.SingleSignerShortcut() {
		r.Commit(frame)
	}
	return frame, nil
}

// VerifyFrame checks an incoming proposed frame without committing it:
// the frame must have come from the quorum's designated proposer, its
// prev-hash must match this replica's own committed state, and
// re-applying its txs against a clone of this replica's state must
// reproduce the proposer's claimed state hash.
func (r *EntityReplica) VerifyFrame(frame *EntityFrame, proposer SignerId, router Router) error {
	if proposer != r.State.Quorum.Proposer() {
		return &UnauthorizedError{Signer: proposer}
	}
	if frame.PrevHash != r.State.PrevHash {
		return &StateHashMismatchError{Want: r.State.PrevHash, Got: frame.PrevHash}
	}
	candidate := r.State.clone()
	for _, tx := range frame.Txs {
		if _, err := apply(candidate, tx, router); err != nil {
			return err
		}
	}
	hash, err := computeEntityStateHash(candidate)
	if err != nil {
		return err
	}
	if hash != frame.StateHash {
		return &StateHashMismatchError{Want: hash, Got: frame.StateHash}
	}
	return nil
}

// RecordPrecommit registers a precommit vote and reports whether
// quorum has now been reached.
func (r *EntityReplica) RecordPrecommit(signer SignerId) bool {
	if r.Votes == nil {
		return false
	}
	r.Votes.AddVote(signer)
	return r.Votes.HasQuorum()
}

// applyCommittedFrame re-applies a proposer's already-quorate frame to
// this (non-proposer) replica's real state, for txs it never received
// directly as client input.
func (r *EntityReplica) applyCommittedFrame(frame *EntityFrame, router Router) error {
	for _, tx := range frame.Txs {
		if _, err := apply(r.State, tx, router); err != nil {
			return err
		}
	}
	return nil
}

// Commit finalizes frame as the replica's new committed height.
func (r *EntityReplica) Commit(frame *EntityFrame) {
	r.State.Height = frame.Height
	r.State.PrevHash = frame.StateHash
	r.Mempool = nil
	r.Proposal = nil
	r.Votes = nil
}
