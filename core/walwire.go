package core

// walwire.go – RLP-safe wire mirrors of the entity-tx types, used only
// by the WAL to persist and replay exactly what was dispatched
//. *big.Int fields are flattened to
// decimal strings here, the same trick core/account.go's
// computeStateHash uses for frame hashing, since go-ethereum's rlp
// package is ambiguous about nil pointer round-tripping and every WAL
// record must decode back to the exact tx that was applied.

import "math/big"

type walDeltaWire struct {
	Collateral, OnDelta, OffDelta, LeftLimit, RightLimit string
}

func deltaToWire(d *Delta) walDeltaWire {
	if d == nil {
		return walDeltaWire{"0", "0", "0", "0", "0"}
	}
	return walDeltaWire{
		Collateral: d.Collateral.String(),
		OnDelta:    d.OnDelta.String(),
		OffDelta:   d.OffDelta.String(),
		LeftLimit:  d.LeftCreditLimit.String(),
		RightLimit: d.RightCreditLimit.String(),
	}
}

func deltaFromWire(w walDeltaWire) *Delta {
	mustBig := func(s string) *big.Int {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return big.NewInt(0)
		}
		return v
	}
	return &Delta{
		Collateral:       mustBig(w.Collateral),
		OnDelta:          mustBig(w.OnDelta),
		OffDelta:         mustBig(w.OffDelta),
		LeftCreditLimit:  mustBig(w.LeftLimit),
		RightCreditLimit: mustBig(w.RightLimit),
	}
}

type walAccountTxWire struct {
	Kind          uint8
	Token         uint64
	Side          uint8
	Amount        string
	Route         [][20]byte
	From          [20]byte
	To            [20]byte
	Description   string
	SettlementRef [32]byte
}

func accountTxToWire(tx AccountTx) walAccountTxWire {
	amount := "0"
	if tx.Amount != nil {
		amount = tx.Amount.String()
	}
	route := make([][20]byte, len(tx.Route))
	for i, e := range tx.Route {
		route[i] = e
	}
	return walAccountTxWire{
		Kind:          uint8(tx.Kind),
		Token:         uint64(tx.Token),
		Side:          uint8(tx.Side),
		Amount:        amount,
		Route:         route,
		From:          tx.From,
		To:            tx.To,
		Description:   tx.Description,
		SettlementRef: tx.SettlementRef,
	}
}

func accountTxFromWire(w walAccountTxWire) AccountTx {
	amount, _ := new(big.Int).SetString(w.Amount, 10)
	route := make([]EntityId, len(w.Route))
	for i, e := range w.Route {
		route[i] = e
	}
	return AccountTx{
		Kind:          AccountTxKind(w.Kind),
		Token:         TokenId(w.Token),
		Side:          Side(w.Side),
		Amount:        amount,
		Route:         route,
		From:          w.From,
		To:            w.To,
		Description:   w.Description,
		SettlementRef: w.SettlementRef,
	}
}

type walFrameWire struct {
	Height    uint64
	Timestamp uint64
	Txs       []walAccountTxWire
	PrevHash  [32]byte
	TokenIds  []uint64
	Deltas    []walDeltaWire
	StateHash [32]byte
}

func frameToWire(f *AccountFrame) walFrameWire {
	if f == nil {
		return walFrameWire{}
	}
	wire := walFrameWire{
		Height:    f.Height,
		Timestamp: uint64(f.Timestamp),
		PrevHash:  f.PrevHash,
		StateHash: f.StateHash,
	}
	for _, tx := range f.Txs {
		wire.Txs = append(wire.Txs, accountTxToWire(tx))
	}
	for i, id := range f.TokenIds {
		wire.TokenIds = append(wire.TokenIds, uint64(id))
		wire.Deltas = append(wire.Deltas, deltaToWire(f.Deltas[i]))
	}
	return wire
}

func frameFromWire(w walFrameWire) *AccountFrame {
	frame := &AccountFrame{
		Height:    w.Height,
		Timestamp: int64(w.Timestamp),
		PrevHash:  w.PrevHash,
		StateHash: w.StateHash,
	}
	for _, tx := range w.Txs {
		frame.Txs = append(frame.Txs, accountTxFromWire(tx))
	}
	for i, id := range w.TokenIds {
		frame.TokenIds = append(frame.TokenIds, TokenId(id))
		frame.Deltas = append(frame.Deltas, deltaFromWire(w.Deltas[i]))
	}
	return frame
}

type walAccountInputWire struct {
	HasFrame       bool
	Frame          walFrameWire
	HasAck         bool
	Ack            [32]byte
	HasConflict    bool
	Conflict       walFrameWire
	From, To       [20]byte
	Height         uint64
}

func accountInputToWire(in *AccountInput) walAccountInputWire {
	if in == nil {
		return walAccountInputWire{}
	}
	wire := walAccountInputWire{From: in.From, To: in.To, Height: in.Height}
	if in.NewFrame != nil {
		wire.HasFrame = true
		wire.Frame = frameToWire(in.NewFrame)
	}
	if in.Ack != nil {
		wire.HasAck = true
		wire.Ack = *in.Ack
	}
	if in.ConflictsWith != nil {
		wire.HasConflict = true
		wire.Conflict = frameToWire(in.ConflictsWith)
	}
	return wire
}

func accountInputFromWire(w walAccountInputWire) *AccountInput {
	in := &AccountInput{From: w.From, To: w.To, Height: w.Height}
	if w.HasFrame {
		in.NewFrame = frameFromWire(w.Frame)
	}
	if w.HasAck {
		ack := Hash(w.Ack)
		in.Ack = &ack
	}
	if w.HasConflict {
		in.ConflictsWith = frameFromWire(w.Conflict)
	}
	return in
}

type walDiffWire struct {
	Token                             uint64
	Left, Right, Collateral, OnDelta string
}

func diffToWire(d SettlementDiff) walDiffWire {
	str := func(v *big.Int) string {
		if v == nil {
			return "0"
		}
		return v.String()
	}
	return walDiffWire{
		Token:      uint64(d.Token),
		Left:       str(d.LeftDiff),
		Right:      str(d.RightDiff),
		Collateral: str(d.CollateralDiff),
		OnDelta:    str(d.OnDeltaDiff),
	}
}

func diffFromWire(w walDiffWire) SettlementDiff {
	big2 := func(s string) *big.Int {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return big.NewInt(0)
		}
		return v
	}
	return SettlementDiff{
		Token:          TokenId(w.Token),
		LeftDiff:       big2(w.Left),
		RightDiff:      big2(w.Right),
		CollateralDiff: big2(w.Collateral),
		OnDeltaDiff:    big2(w.OnDelta),
	}
}

// walTxWire is the RLP-encoded shape of one WAL record: the addressing
// (entity_id, signer_id) plus the full EntityTx.
type walTxWire struct {
	EntityId EntityId
	SignerId SignerId

	Kind   uint8
	Signer SignerId
	Nonce  uint64

	Message string

	ProposalID  Hash
	ActionParam string
	ActionValue string
	Vote        bool

	EventKind        string
	EventToken       uint64
	EventAmount      string
	EventEntity      EntityId
	EventExternalRef string

	Counterparty EntityId

	HasAccountIn bool
	AccountIn    walAccountInputWire

	Target EntityId
	Token  uint64
	Amount string

	Diffs []walDiffWire
}

func txToWire(entityID EntityId, signerID SignerId, tx EntityTx) walTxWire {
	str := func(v *big.Int) string {
		if v == nil {
			return "0"
		}
		return v.String()
	}
	wire := walTxWire{
		EntityId:         entityID,
		SignerId:         signerID,
		Kind:             uint8(tx.Kind),
		Signer:           tx.Signer,
		Nonce:            tx.Nonce,
		Message:          tx.Message,
		ProposalID:       tx.ProposalID,
		ActionParam:      tx.Action.Param,
		ActionValue:      tx.Action.Value,
		Vote:             tx.Vote,
		EventKind:        string(tx.Event.Kind),
		EventToken:       uint64(tx.Event.Token),
		EventAmount:      str(tx.Event.Amount),
		EventEntity:      tx.Event.Entity,
		EventExternalRef: tx.Event.ExternalRef,
		Counterparty:     tx.Counterparty,
		Target:           tx.Target,
		Token:            uint64(tx.Token),
		Amount:           str(tx.Amount),
	}
	if tx.AccountIn != nil {
		wire.HasAccountIn = true
		wire.AccountIn = accountInputToWire(tx.AccountIn)
	}
	for _, d := range tx.Diffs {
		wire.Diffs = append(wire.Diffs, diffToWire(d))
	}
	return wire
}

func txFromWire(w walTxWire) (EntityId, SignerId, EntityTx) {
	big2 := func(s string) *big.Int {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return big.NewInt(0)
		}
		return v
	}
	tx := EntityTx{
		Kind:    EntityTxKind(w.Kind),
		Signer:  w.Signer,
		Nonce:   w.Nonce,
		Message: w.Message,
		ProposalID: w.ProposalID,
		Action:     GovAction{Param: w.ActionParam, Value: w.ActionValue},
		Vote:       w.Vote,
		Event: JEvent{
			Kind:        JEventKind(w.EventKind),
			Token:       TokenId(w.EventToken),
			Amount:      big2(w.EventAmount),
			Entity:      w.EventEntity,
			ExternalRef: w.EventExternalRef,
		},
		Counterparty: w.Counterparty,
		Target:       w.Target,
		Token:        TokenId(w.Token),
		Amount:       big2(w.Amount),
	}
	if w.HasAccountIn {
		tx.AccountIn = accountInputFromWire(w.AccountIn)
	}
	for _, d := range w.Diffs {
		tx.Diffs = append(tx.Diffs, diffFromWire(d))
	}
	return w.EntityId, w.SignerId, tx
}
