// Package pow implements the proof of work primitives: the memory hard
// header hash, compact difficulty bits, target comparison and chain work
// arithmetic.
package pow

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/math/uint256"
	"golang.org/x/crypto/argon2"
)

// Argon2 parameters for the header hash. These are consensus constants:
// changing any of them changes which blocks are valid.
const (
	argonTime    = 1
	argonMemory  = 512 // KiB
	argonThreads = 1
	argonKeyLen  = 32
)

// powSalt binds the proof of work function to this chain.
var powSalt = []byte("aurum-pow-v1")

// HeaderHash computes the memory hard Argon2id hash over the canonical
// header encoding. This is the hash checked against the difficulty target.
func HeaderHash(headerData []byte) [32]byte {
	var hash [32]byte
	copy(hash[:], argon2.IDKey(headerData, powSalt, argonTime, argonMemory, argonThreads, argonKeyLen))
	return hash
}

// =============================================================================

// DiffBitsToTarget converts the compact representation used to encode
// difficulty targets to an unsigned 256-bit integer. The representation is
// similar to IEEE754 floating point: the most significant 8 bits represent
// the unsigned base 256 exponent, bit 23 is the sign bit, and the remaining
// 23 bits represent the mantissa.
func DiffBitsToTarget(bits uint32) (n uint256.Uint256, isNegative bool, overflows bool) {
	// Extract the mantissa, sign bit, and exponent.
	mantissa := bits & 0x007fffff
	isSignBitSet := bits&0x00800000 != 0
	exponent := bits >> 24

	// Any multiple of a zero mantissa is zero, so it can never be
	// negative or overflow.
	if mantissa == 0 {
		return n, false, false
	}

	// Since the base for the exponent is 256 = 2^8, the full 256-bit
	// number is computed by shifting the mantissa accordingly.
	// N = mantissa * 256^(exponent-3)
	if exponent <= 3 {
		n.SetUint64(uint64(mantissa >> (8 * (3 - exponent))))
		return n, isSignBitSet, false
	}

	// Values needing more than 256 bits overflow.
	overflows = exponent >= 35 || (exponent >= 34 && mantissa > 0xff) ||
		(exponent >= 33 && mantissa > 0xffff)
	if overflows {
		return n, isSignBitSet, true
	}

	n.SetUint64(uint64(mantissa))
	n.Lsh(8 * (exponent - 3))
	return n, isSignBitSet, false
}

// TargetToDiffBits converts a 256-bit target to its compact representation.
// The compact representation only provides 23 bits of precision, so values
// larger than (2^23 - 1) only encode the most significant digits.
func TargetToDiffBits(n *uint256.Uint256) uint32 {
	if n.IsZero() {
		return 0
	}

	// The exponent can be treated as the number of bytes it takes to
	// represent the value. Shift the number accordingly to produce the
	// mantissa: mantissa = n / 256^(exponent-3)
	var mantissa uint32
	exponent := uint32((n.BitLen() + 7) / 8)
	if exponent <= 3 {
		mantissa = n.Uint32() << (8 * (3 - exponent))
	} else {
		mantissa = new(uint256.Uint256).RshVal(n, 8*(exponent-3)).Uint32()
	}

	// When the mantissa already has the sign bit set, the number is too
	// large to fit into the available 23 bits, so divide the number by 256
	// and increment the exponent accordingly.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	return exponent<<24 | mantissa
}

// CalcWork calculates the expected number of hash attempts a block with the
// given difficulty bits represents. Since a lower target equates to higher
// actual difficulty, the work value is the inverse of the target:
// 2^256 / (target+1). The result is zero for invalid difficulty bits.
func CalcWork(diffBits uint32) uint256.Uint256 {
	target, isNegative, overflows := DiffBitsToTarget(diffBits)
	if isNegative || overflows || target.IsZero() {
		return uint256.Uint256{}
	}

	// 2^256 can't be represented by a uint256, so compute
	// (2^256 / (target+1)) as ((^target / (target+1)) + 1 using the
	// identity 2^256-target-1 == ^target.
	divisor := new(uint256.Uint256).SetUint64(1).Add(&target)
	return *target.Not().Div(divisor).AddUint64(1)
}

// HashToUint256 interprets the hash as a big endian unsigned 256-bit
// integer for numeric comparison against a target.
func HashToUint256(hash *[32]byte) uint256.Uint256 {
	return *new(uint256.Uint256).SetBytes(hash)
}

// =============================================================================

// ErrHighHash is returned when a proof of work hash does not meet its
// declared target.
var ErrHighHash = errors.New("proof of work hash is higher than target")

// checkTargetRange ensures the provided target difficulty is in range per
// the provided proof of work limit.
func checkTargetRange(diffBits uint32, powLimitBits uint32) (uint256.Uint256, error) {
	target, isNegative, overflows := DiffBitsToTarget(diffBits)
	if isNegative {
		return uint256.Uint256{}, fmt.Errorf("target difficulty bits %08x is a negative value", diffBits)
	}
	if overflows {
		return uint256.Uint256{}, fmt.Errorf("target difficulty bits %08x overflows", diffBits)
	}
	if target.IsZero() {
		return uint256.Uint256{}, errors.New("target difficulty is zero")
	}

	powLimit, _, _ := DiffBitsToTarget(powLimitBits)
	if target.Gt(&powLimit) {
		return uint256.Uint256{}, fmt.Errorf("target difficulty %064x is higher than max %064x", target, powLimit)
	}

	return target, nil
}

// CheckProofOfWork ensures the provided header data hashes to a value less
// than or equal to the target difficulty represented by the given bits and
// that said difficulty is in range per the proof of work limit.
func CheckProofOfWork(headerData []byte, diffBits uint32, powLimitBits uint32) error {
	target, err := checkTargetRange(diffBits, powLimitBits)
	if err != nil {
		return err
	}

	hash := HeaderHash(headerData)
	hashNum := HashToUint256(&hash)
	if hashNum.Gt(&target) {
		return ErrHighHash
	}

	return nil
}
