package pow_test

import (
	"testing"

	"github.com/aurumchain/aurum/foundation/blockchain/pow"
)

func Test_NextRequiredBits(t *testing.T) {
	policy := pow.Policy{
		BlockIntervalSeconds: 600,
		WindowSize:           10,
		MaxAdjustmentFactor:  4,
		PowLimitBits:         0x1e0fffff,
	}

	tt := []struct {
		name          string
		prevBits      uint32
		actualSeconds uint64
		blockSpan     uint64
		exp           uint32
	}{
		{
			name:          "on schedule keeps the target",
			prevBits:      0x1d00ffff,
			actualSeconds: 6000,
			blockSpan:     10,
			exp:           0x1d00ffff,
		},
		{
			name:          "fast window clamps to a quarter target",
			prevBits:      0x1d00ffff,
			actualSeconds: 0,
			blockSpan:     10,
			exp:           0x1c3fffc0,
		},
		{
			name:          "slow window clamps to four times the target",
			prevBits:      0x1d00ffff,
			actualSeconds: 1_000_000,
			blockSpan:     10,
			exp:           0x1d03fffc,
		},
		{
			name:          "zero span keeps the previous bits",
			prevBits:      0x1d00ffff,
			actualSeconds: 0,
			blockSpan:     0,
			exp:           0x1d00ffff,
		},
		{
			name:          "easing past the limit stops at the limit",
			prevBits:      0x1e0fffff,
			actualSeconds: 1_000_000,
			blockSpan:     10,
			exp:           0x1e0fffff,
		},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			got := policy.NextRequiredBits(tst.prevBits, tst.actualSeconds, tst.blockSpan)
			if got != tst.exp {
				t.Fatalf("got %08x, exp %08x", got, tst.exp)
			}
		}

		t.Run(tst.name, f)
	}
}

func Test_NextRequiredBitsHalfSpeed(t *testing.T) {
	policy := pow.Policy{
		BlockIntervalSeconds: 600,
		WindowSize:           10,
		MaxAdjustmentFactor:  4,
		PowLimitBits:         0x1e0fffff,
	}

	// A window taking twice as long as expected doubles the target.
	got := policy.NextRequiredBits(0x1d00ffff, 12000, 10)

	prevTarget, _, _ := pow.DiffBitsToTarget(0x1d00ffff)
	doubled := prevTarget
	doubled.Lsh(1)
	exp := pow.TargetToDiffBits(&doubled)

	if got != exp {
		t.Fatalf("got %08x, exp %08x", got, exp)
	}
}

func Test_NextRequiredBitsZeroPolicy(t *testing.T) {
	tt := []struct {
		name   string
		policy pow.Policy
	}{
		{
			name: "zero interval",
			policy: pow.Policy{
				BlockIntervalSeconds: 0,
				WindowSize:           10,
				MaxAdjustmentFactor:  4,
				PowLimitBits:         0x1d00ffff,
			},
		},
		{
			name: "zero adjustment factor",
			policy: pow.Policy{
				BlockIntervalSeconds: 600,
				WindowSize:           10,
				MaxAdjustmentFactor:  0,
				PowLimitBits:         0x1d00ffff,
			},
		},
	}

	for _, tst := range tt {
		if got := tst.policy.NextRequiredBits(0x1c3fffc0, 6000, 10); got != tst.policy.PowLimitBits {
			t.Fatalf("%s: should fail closed to the pow limit, got %08x.", tst.name, got)
		}
	}
}

func Test_NextRequiredBitsInvalidPrev(t *testing.T) {
	policy := pow.Policy{
		BlockIntervalSeconds: 600,
		WindowSize:           10,
		MaxAdjustmentFactor:  4,
		PowLimitBits:         0x1e0fffff,
	}

	if got := policy.NextRequiredBits(0, 6000, 10); got != policy.PowLimitBits {
		t.Fatalf("invalid previous bits should fall back to the limit, got %08x", got)
	}
}
