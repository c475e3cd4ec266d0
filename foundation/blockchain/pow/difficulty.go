package pow

import (
	"math/big"

	"github.com/decred/dcrd/math/uint256"
)

// Policy carries the retargeting constants for a network. The exact values
// are protocol parameters pinned per network in the genesis file; the
// algorithm itself is shared.
type Policy struct {
	BlockIntervalSeconds uint64 // Desired seconds between blocks.
	WindowSize           uint64 // Number of trailing blocks examined.
	MaxAdjustmentFactor  uint64 // Upper/lower clamp per retarget.
	PowLimitBits         uint32 // Easiest allowed target.
}

// NextRequiredBits computes the difficulty bits required for the block
// following the window described by the arguments. The window spans
// blockSpan blocks taking actualSeconds to produce; the target is scaled by
// the ratio of actual to expected time, clamped to the adjustment factor
// and to the proof of work limit.
func (p Policy) NextRequiredBits(prevBits uint32, actualSeconds uint64, blockSpan uint64) uint32 {
	if blockSpan == 0 {
		return prevBits
	}

	// Fail closed on degenerate policy constants rather than divide by
	// zero below.
	if p.BlockIntervalSeconds == 0 || p.MaxAdjustmentFactor == 0 {
		return p.PowLimitBits
	}

	expectedSeconds := p.BlockIntervalSeconds * blockSpan

	// Clamp the measured timespan so a burst of lucky or unlucky blocks
	// cannot swing the difficulty arbitrarily far in one retarget.
	minSeconds := expectedSeconds / p.MaxAdjustmentFactor
	maxSeconds := expectedSeconds * p.MaxAdjustmentFactor
	if actualSeconds < minSeconds {
		actualSeconds = minSeconds
	}
	if actualSeconds > maxSeconds {
		actualSeconds = maxSeconds
	}

	prevTarget, isNegative, overflows := DiffBitsToTarget(prevBits)
	if isNegative || overflows || prevTarget.IsZero() {
		return p.PowLimitBits
	}

	// newTarget = prevTarget * actual / expected. The intermediate product
	// can exceed 256 bits, so the math runs through big.Int.
	newTarget := prevTarget.ToBig()
	newTarget.Mul(newTarget, new(big.Int).SetUint64(actualSeconds))
	newTarget.Div(newTarget, new(big.Int).SetUint64(expectedSeconds))

	powLimit, _, _ := DiffBitsToTarget(p.PowLimitBits)
	if newTarget.Cmp(powLimit.ToBig()) > 0 {
		return p.PowLimitBits
	}
	if newTarget.Sign() <= 0 {
		newTarget.SetUint64(1)
	}

	return TargetToDiffBits(new(uint256.Uint256).SetBig(newTarget))
}
