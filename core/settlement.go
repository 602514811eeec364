package core

// settlement.go – the boundary to the external settlement ledger,
// grounded on core/state_channel.go's escrow address derivation
// (`escrowAddr(a, b)` hashing the two channel parties together as a
// deterministic lookup key) generalised into the channel_key function
// below, plus a narrow interface describing only the four
// ledger-boundary calls the core ever issues; the core never assumes
// synchronous confirmation of any of them.

import (
	"context"
	"math/big"

	"go.uber.org/zap"
)

// ChannelKey is the canonical deterministic identifier for a bilateral
// relationship, used both off-chain (as a local account lookup, see
// AccountKey) and on-chain.
func ChannelKey(a, b EntityId) Hash {
	_, left, right := NewAccountKey(a, b)
	return Keccak256(left.Bytes(), right.Bytes())
}

// SettlementLedger is the external settlement contract's RPC surface,
// as seen from the core. Every call is fire-and-forget from the
// tick's perspective: its eventual result arrives as a j_event, never
// as a return value observed mid-tick.
type SettlementLedger interface {
	SubmitBatch(ctx context.Context, left, right EntityId, diffs []SettlementDiff) error
	DepositReserve(ctx context.Context, entity EntityId, token TokenId, amount *big.Int) error
	TransferReserve(ctx context.Context, from, to EntityId, token TokenId, amount *big.Int) error
	RegisterToken(ctx context.Context, externalRef string) (TokenId, error)
}

// DispatchSettlement issues req against ledger. The caller (the
// runtime's I/O collaborator, not the tick loop itself) is responsible
// for queuing this off the critical path. log may be nil, in
// which case a no-op logger is used.
func DispatchSettlement(ctx context.Context, ledger SettlementLedger, req *SettlementRequest, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	err := dispatchSettlement(ctx, ledger, req)
	if err != nil {
		log.Warn("settlement call failed", zap.Uint8("kind", uint8(req.Kind)), zap.Error(err))
	} else {
		log.Info("settlement call dispatched", zap.Uint8("kind", uint8(req.Kind)))
	}
	return err
}

func dispatchSettlement(ctx context.Context, ledger SettlementLedger, req *SettlementRequest) error {
	switch req.Kind {
	case RequestSubmitBatch:
		for _, d := range req.Diffs {
			if err := ValidateZeroSum(d); err != nil {
				return err
			}
		}
		return ledger.SubmitBatch(ctx, req.LeftEntity, req.RightEntity, req.Diffs)
	case RequestDepositReserve:
		return ledger.DepositReserve(ctx, req.LeftEntity, req.Token, req.Amount)
	case RequestTransferReserve:
		return ledger.TransferReserve(ctx, req.LeftEntity, req.ToEntity, req.Token, req.Amount)
	case RequestRegisterToken:
		_, err := ledger.RegisterToken(ctx, req.ExternalRef)
		return err
	default:
		return &InvalidSignatureError{Context: "unknown settlement request kind"}
	}
}

// StubLedger is an in-memory SettlementLedger recording every call,
// useful for driving the entity/account machines in tests without a
// real settlement contract behind it. The ledger is always an
// injected capability, never something the core implements.
type StubLedger struct {
	Batches    []StubBatch
	Deposits   []StubTransfer
	Transfers  []StubTransfer
	NextTokenId TokenId
}

type StubBatch struct {
	Left, Right EntityId
	Diffs       []SettlementDiff
}

type StubTransfer struct {
	From, To EntityId
	Token    TokenId
	Amount   *big.Int
}

func NewStubLedger() *StubLedger { return &StubLedger{NextTokenId: 1} }

func (s *StubLedger) SubmitBatch(_ context.Context, left, right EntityId, diffs []SettlementDiff) error {
	for _, d := range diffs {
		if err := ValidateZeroSum(d); err != nil {
			return err
		}
	}
	s.Batches = append(s.Batches, StubBatch{Left: left, Right: right, Diffs: diffs})
	return nil
}

func (s *StubLedger) DepositReserve(_ context.Context, entity EntityId, token TokenId, amount *big.Int) error {
	s.Deposits = append(s.Deposits, StubTransfer{From: entity, Token: token, Amount: amount})
	return nil
}

func (s *StubLedger) TransferReserve(_ context.Context, from, to EntityId, token TokenId, amount *big.Int) error {
	s.Transfers = append(s.Transfers, StubTransfer{From: from, To: to, Token: token, Amount: amount})
	return nil
}

func (s *StubLedger) RegisterToken(_ context.Context, externalRef string) (TokenId, error) {
	id := s.NextTokenId
	s.NextTokenId++
	return id, nil
}
