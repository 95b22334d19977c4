// Package validation classifies the solutions a client receives: hardware
// errors, shares for the backend, shares for the job and full blocks.
package validation

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gominer/internal/bitcoin"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/errors"
)

// Class is the outcome of checking a solution against its targets.
type Class int

const (
	// HardwareError means the hash misses the target the hardware was given.
	HardwareError Class = iota
	// Share meets the backend target but not the job target.
	Share
	// JobShare meets the target the client asked for.
	JobShare
	// Block meets the network target and can be submitted.
	Block
)

func (c Class) String() string {
	switch c {
	case HardwareError:
		return "hardware_error"
	case Share:
		return "share"
	case JobShare:
		return "job_share"
	case Block:
		return "block"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Result is the verdict on one solution.
type Result struct {
	Class Class
	Hash  chainhash.Hash
	// Difficulty is the difficulty the hash actually achieved.
	Difficulty float64
	// Stale is set when the job was invalidated before the solution arrived.
	Stale bool
}

// SolutionValidator checks solutions before they are counted or submitted.
type SolutionValidator struct {
	maxTimeSkew time.Duration
	now         func() time.Time
}

// NewSolutionValidator creates a validator that rejects headers whose time is
// more than maxTimeSkew ahead of the local clock.
func NewSolutionValidator(maxTimeSkew time.Duration) *SolutionValidator {
	return &SolutionValidator{
		maxTimeSkew: maxTimeSkew,
		now:         time.Now,
	}
}

// Validate checks the structure of s and classifies its hash.
//
// Parameters:
//   - s: The solution as routed to the client
//
// Returns:
//   - Result: Classification, hash and achieved difficulty
//   - error: A validation error when the solution cannot belong to its work
func (v *SolutionValidator) Validate(s *work.Solution) (Result, error) {
	if err := v.validateWork(s); err != nil {
		return Result{}, err
	}
	if err := v.validateTime(s); err != nil {
		return Result{}, err
	}
	return v.classify(s), nil
}

// validateWork checks that the result points at a midstate of its assignment
func (v *SolutionValidator) validateWork(s *work.Solution) error {
	midstates := len(s.Work().Midstates)
	if midstates == 0 {
		return errors.New(errors.ErrorTypeValidation, "validate_solution", "assignment has no midstates")
	}

	idx := s.MidstateIndex()
	if idx < 0 || idx >= midstates {
		return errors.Newf(errors.ErrorTypeHardware, "validate_solution",
			"midstate index %d out of range", idx).
			WithContext("midstates", midstates)
	}
	return nil
}

// validateTime checks that the header time is not too far in the future
func (v *SolutionValidator) validateTime(s *work.Solution) error {
	if v.maxTimeSkew <= 0 {
		return nil
	}

	headerTime := time.Unix(int64(s.Time()), 0)
	if headerTime.After(v.now().Add(v.maxTimeSkew)) {
		return errors.New(errors.ErrorTypeValidation, "validate_solution",
			"solution time too far in future").
			WithContext("ntime", s.Time())
	}
	return nil
}

func (v *SolutionValidator) classify(s *work.Solution) Result {
	hash := s.Hash()
	result := Result{
		Hash:       hash,
		Difficulty: HashDifficulty(&hash),
		Stale:      !s.HasValidJob(),
	}

	switch {
	case !s.BackendTarget().MeetsTarget(&hash):
		result.Class = HardwareError
	case s.NetworkTarget().MeetsTarget(&hash):
		result.Class = Block
	case s.JobTarget().MeetsTarget(&hash):
		result.Class = JobShare
	default:
		result.Class = Share
	}
	return result
}

// HashDifficulty returns the difficulty a hash achieves.
func HashDifficulty(hash *chainhash.Hash) float64 {
	return bitcoin.TargetFromBig(blockchain.HashToBig(hash)).Difficulty()
}
