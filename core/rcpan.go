package core

// rcpan.go – the RCPAN invariant engine. Every per-token delta
// mutation is validated against the post-condition before it is ever
// applied; violations leave state untouched and return a typed error
// rather than clamping, mirroring core/state_channel.go's channel
// balance moves (escrow transfers return an error and the caller
// aborts, no silent truncation of amounts) generalised from uint64
// balances to signed arbitrary-precision deltas.

import "math/big"

// Delta is the per-account, per-token balance state.
type Delta struct {
	Collateral      *big.Int // >= 0, locked on settlement ledger
	OnDelta         *big.Int // signed, adjusted by on-chain settlements
	OffDelta        *big.Int // signed, adjusted by in-channel activity
	LeftCreditLimit *big.Int // >= 0
	RightCreditLimit *big.Int // >= 0
}

// NewDelta constructs a zeroed delta for a freshly opened token slot.
func NewDelta() *Delta {
	return &Delta{
		Collateral:       big.NewInt(0),
		OnDelta:          big.NewInt(0),
		OffDelta:         big.NewInt(0),
		LeftCreditLimit:  big.NewInt(0),
		RightCreditLimit: big.NewInt(0),
	}
}

// Net returns delta = on_delta + off_delta.
func (d *Delta) Net() *big.Int {
	return new(big.Int).Add(d.OnDelta, d.OffDelta)
}

// InBounds reports whether -L_L <= net <= C + L_R.
func (d *Delta) InBounds() bool {
	net := d.Net()
	lowerBound := new(big.Int).Neg(d.LeftCreditLimit)
	upperBound := new(big.Int).Add(d.Collateral, d.RightCreditLimit)
	return net.Cmp(lowerBound) >= 0 && net.Cmp(upperBound) <= 0
}

// Clone returns a deep copy, so speculative mutation can be rolled back
// by simply discarding the clone on validation failure.
func (d *Delta) Clone() *Delta {
	return &Delta{
		Collateral:       new(big.Int).Set(d.Collateral),
		OnDelta:          new(big.Int).Set(d.OnDelta),
		OffDelta:         new(big.Int).Set(d.OffDelta),
		LeftCreditLimit:  new(big.Int).Set(d.LeftCreditLimit),
		RightCreditLimit: new(big.Int).Set(d.RightCreditLimit),
	}
}

// DeltaChange describes a proposed mutation to one of the five delta
// fields, applied atomically by UpdateDelta.
type DeltaChange struct {
	OffDeltaDelta   *big.Int // added to OffDelta (may be negative); nil = no change
	OnDeltaDelta    *big.Int // added to OnDelta; nil = no change
	CollateralDelta *big.Int // added to Collateral; nil = no change
	LeftLimitSet    *big.Int // replaces LeftCreditLimit if non-nil
	RightLimitSet   *big.Int // replaces RightCreditLimit if non-nil
}

// UpdateDelta validates the post-condition of applying change to d
// *before* mutating it. On violation it returns a *RCPANViolationError
// and d is left byte-for-byte unchanged; this is active enforcement,
// never a silent clamp.
func UpdateDelta(token TokenId, d *Delta, change DeltaChange) (*Delta, error) {
	candidate := d.Clone()
	if change.OffDeltaDelta != nil {
		candidate.OffDelta.Add(candidate.OffDelta, change.OffDeltaDelta)
	}
	if change.OnDeltaDelta != nil {
		candidate.OnDelta.Add(candidate.OnDelta, change.OnDeltaDelta)
	}
	if change.CollateralDelta != nil {
		candidate.Collateral.Add(candidate.Collateral, change.CollateralDelta)
	}
	if change.LeftLimitSet != nil {
		candidate.LeftCreditLimit = new(big.Int).Set(change.LeftLimitSet)
	}
	if change.RightLimitSet != nil {
		candidate.RightCreditLimit = new(big.Int).Set(change.RightLimitSet)
	}

	if candidate.Collateral.Sign() < 0 {
		return nil, &RCPANViolationError{Token: token, Delta: candidate.Net().String(), LeftLimit: candidate.LeftCreditLimit.String(), RightBound: candidate.Collateral.String()}
	}
	if candidate.LeftCreditLimit.Sign() < 0 || candidate.RightCreditLimit.Sign() < 0 {
		return nil, &RCPANViolationError{Token: token, Delta: candidate.Net().String(), LeftLimit: candidate.LeftCreditLimit.String(), RightBound: candidate.RightCreditLimit.String()}
	}
	if !candidate.InBounds() {
		upperBound := new(big.Int).Add(candidate.Collateral, candidate.RightCreditLimit)
		return nil, &RCPANViolationError{
			Token:      token,
			Delta:      candidate.Net().String(),
			LeftLimit:  candidate.LeftCreditLimit.String(),
			RightBound: upperBound.String(),
		}
	}
	return candidate, nil
}

// Capacities reports the inbound/outbound capacity of an account from a
// given side's perspective. Left's values are computed directly;
// right's are obtained by negating delta and swapping the credit
// limits.
type Capacities struct {
	InCapacity  *big.Int
	OutCapacity *big.Int
}

// CapacityFor derives in/out capacity for side from delta d.
func CapacityFor(d *Delta, side Side) Capacities {
	net := d.Net()
	if side == SideLeft {
		return Capacities{
			InCapacity:  new(big.Int).Sub(d.RightCreditLimit, net),
			OutCapacity: new(big.Int).Add(new(big.Int).Add(d.Collateral, d.LeftCreditLimit), net),
		}
	}
	negNet := new(big.Int).Neg(net)
	return Capacities{
		InCapacity:  new(big.Int).Sub(d.LeftCreditLimit, negNet),
		OutCapacity: new(big.Int).Add(new(big.Int).Add(d.Collateral, d.RightCreditLimit), negNet),
	}
}

// SettlementDiff is one per-token entry of a settlement batch: left_diff + right_diff + collateral_diff must equal zero.
type SettlementDiff struct {
	Token          TokenId
	LeftDiff       *big.Int
	RightDiff      *big.Int
	CollateralDiff *big.Int
	OnDeltaDiff    *big.Int
}

// ValidateZeroSum checks the zero-sum invariant for one diff entry.
func ValidateZeroSum(d SettlementDiff) error {
	sum := new(big.Int).Add(d.LeftDiff, d.RightDiff)
	sum.Add(sum, d.CollateralDiff)
	if sum.Sign() != 0 {
		return &ZeroSumViolationError{Token: d.Token, Sum: sum.String()}
	}
	return nil
}
