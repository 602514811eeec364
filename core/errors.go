package core

// errors.go – the consensus core's error taxonomy. Every kind is a
// distinct, pattern-matchable type carrying context, never a bare
// string: callers use errors.As to branch on kind, matching
// core/authority_penalty_test.go's preference for typed validator
// errors over sentinel strings (it asserts on typed causes rather
// than message text).

import "fmt"

// InvalidNonceError: entity-tx nonce != expected.
type InvalidNonceError struct {
	Signer   SignerId
	Expected uint64
	Got      uint64
}

func (e *InvalidNonceError) Error() string {
	return fmt.Sprintf("invalid nonce for signer %s: expected %d, got %d", e.Signer, e.Expected, e.Got)
}

// InvalidSignatureError: signature verification failed.
type InvalidSignatureError struct {
	Context string
}

func (e *InvalidSignatureError) Error() string {
	return fmt.Sprintf("invalid signature: %s", e.Context)
}

// StateHashMismatchError: recomputed hash != claimed.
type StateHashMismatchError struct {
	Want Hash
	Got  Hash
}

func (e *StateHashMismatchError) Error() string {
	return fmt.Sprintf("state hash mismatch: want %s, got %s", e.Want, e.Got)
}

// CounterMismatchError: send/receive counter out of order on an account input.
type CounterMismatchError struct {
	Expected uint64
	Got      uint64
}

func (e *CounterMismatchError) Error() string {
	return fmt.Sprintf("counter mismatch: expected %d, got %d", e.Expected, e.Got)
}

// RCPANViolationError: post-update delta outside [-L_L, C+L_R].
type RCPANViolationError struct {
	Token      TokenId
	Delta      string
	LeftLimit  string
	RightBound string
}

func (e *RCPANViolationError) Error() string {
	return fmt.Sprintf("RCPAN violation for token %d: delta %s not in [-%s, %s]", e.Token, e.Delta, e.LeftLimit, e.RightBound)
}

// ZeroSumViolationError: settlement diffs do not sum to zero per token.
type ZeroSumViolationError struct {
	Token TokenId
	Sum   string
}

func (e *ZeroSumViolationError) Error() string {
	return fmt.Sprintf("zero-sum violation for token %d: diffs sum to %s", e.Token, e.Sum)
}

// InsufficientReserveError: reserve < requested amount.
type InsufficientReserveError struct {
	Token     TokenId
	Requested string
	Available string
}

func (e *InsufficientReserveError) Error() string {
	return fmt.Sprintf("insufficient reserve for token %d: requested %s, available %s", e.Token, e.Requested, e.Available)
}

// NoRouteFoundError: gossip path lookup returned nothing.
type NoRouteFoundError struct {
	From, To EntityId
}

func (e *NoRouteFoundError) Error() string {
	return fmt.Sprintf("no route found from %s to %s", e.From, e.To)
}

// WALFailureError: persistence append failed. Fatal; the tick aborts.
type WALFailureError struct {
	Cause error
}

func (e *WALFailureError) Error() string { return fmt.Sprintf("WAL failure: %v", e.Cause) }
func (e *WALFailureError) Unwrap() error { return e.Cause }

// RecoveryFailureError: snapshot or WAL corruption. Fatal at startup.
type RecoveryFailureError struct {
	Cause error
}

func (e *RecoveryFailureError) Error() string { return fmt.Sprintf("recovery failure: %v", e.Cause) }
func (e *RecoveryFailureError) Unwrap() error { return e.Cause }

// UnauthorizedError: event attributed to the wrong signer.
type UnauthorizedError struct {
	Signer SignerId
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized: signer %s not permitted", e.Signer)
}

// Other general-purpose errors used across the core that do not carry
// structured context beyond a message.
type errString string

func (e errString) Error() string { return string(e) }

const (
	ErrUnknownReplica      = errString("no replica for entity/signer")
	ErrReplicaExists       = errString("replica already registered")
	ErrAccountNotFound     = errString("account not found")
	ErrMempoolEmpty        = errString("mempool empty")
	ErrProposalOutstanding = errString("proposal already outstanding")
	ErrNotProposer         = errString("replica is not the proposer")
	ErrFrameFinal          = errString("frame already committed, cannot mutate")
	ErrAlreadyClosing      = errString("channel already closing")
	ErrMerkleIndexOutOfRange = errString("merkle proof index out of range")
)
