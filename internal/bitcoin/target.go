package bitcoin

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Target is a 256-bit proof-of-work threshold stored big-endian.
// A hash meets the target when, read as a little-endian number, it is not greater.
type Target [32]byte

// MaxTarget is the difficulty 1 target 0x00000000FFFF0000...0000.
var MaxTarget = Target{4: 0xff, 5: 0xff}

// TargetFromBig converts a non-negative integer to a target, saturating at 2^256-1.
func TargetFromBig(n *big.Int) Target {
	var t Target
	if n.Sign() <= 0 {
		return t
	}
	if n.BitLen() > 256 {
		for i := range t {
			t[i] = 0xff
		}
		return t
	}
	n.FillBytes(t[:])
	return t
}

// TargetFromCompact expands the compact "bits" representation used in block headers.
func TargetFromCompact(bits uint32) Target {
	return TargetFromBig(blockchain.CompactToBig(bits))
}

// TargetFromDifficulty converts a mining difficulty to a target.
//
// Parameters:
//   - difficulty: The mining difficulty as a floating-point number
//
// Returns:
//   - Target: MaxTarget divided by difficulty; MaxTarget for non-positive input
func TargetFromDifficulty(difficulty float64) Target {
	if difficulty <= 0 {
		return MaxTarget
	}

	maxTarget := getBigInt()
	defer putBigInt(maxTarget)
	maxTarget.SetBytes(MaxTarget[:])

	maxTargetFloat := getBigFloat()
	defer putBigFloat(maxTargetFloat)
	maxTargetFloat.SetInt(maxTarget)

	difficultyFloat := getBigFloat()
	defer putBigFloat(difficultyFloat)
	difficultyFloat.SetFloat64(difficulty)

	quotient := getBigFloat()
	defer putBigFloat(quotient)
	quotient.Quo(maxTargetFloat, difficultyFloat)

	target := getBigInt()
	defer putBigInt(target)
	quotient.Int(target)

	return TargetFromBig(target)
}

// ParseTarget parses a big-endian hex target as returned by getblocktemplate.
// Shorter inputs are left-padded with zeros.
func ParseTarget(s string) (Target, error) {
	var t Target
	if len(s) == 0 {
		return t, fmt.Errorf("target string cannot be empty")
	}
	if len(s)%2 != 0 {
		return t, fmt.Errorf("target string must have even length, got %d", len(s))
	}
	if len(s) > 64 {
		return t, fmt.Errorf("target string too long: maximum 64 hex characters (32 bytes), got %d", len(s))
	}

	raw, err := hex.DecodeString(s)
	if err != nil {
		return t, fmt.Errorf("failed to decode hex target: %w", err)
	}
	copy(t[32-len(raw):], raw)
	return t, nil
}

// Big returns the target as an integer.
func (t Target) Big() *big.Int {
	return new(big.Int).SetBytes(t[:])
}

// Compact returns the compact "bits" encoding of the target.
func (t Target) Compact() uint32 {
	return blockchain.BigToCompact(t.Big())
}

// Difficulty returns MaxTarget divided by the target.
func (t Target) Difficulty() float64 {
	n := t.Big()
	if n.Sign() == 0 {
		return 0
	}
	d, _ := new(big.Rat).SetFrac(MaxTarget.Big(), n).Float64()
	return d
}

// Less reports whether t is a strictly harder target than other.
func (t Target) Less(other Target) bool {
	for i := range t {
		if t[i] != other[i] {
			return t[i] < other[i]
		}
	}
	return false
}

// String implements fmt.Stringer.
func (t Target) String() string {
	return hex.EncodeToString(t[:])
}

// MeetsTarget determines if a hash satisfies the target.
//
// Parameters:
//   - hash: The hash to validate (typically a block header hash, in internal byte order)
//
// Returns:
//   - bool: True if the hash is less than or equal to the target
func (t Target) MeetsTarget(hash *chainhash.Hash) bool {
	for i := range 32 {
		h := hash[31-i]
		if h < t[i] {
			return true
		}
		if h > t[i] {
			return false
		}
	}
	return true
}
