// Package policy maps attested values to score deltas. The transition is a
// pure function of (value, current score): no I/O, no clock, no randomness,
// so replaying the same accepted attestations always reproduces the same
// accumulated score.
package policy

import "math"

// Tiers holds the value boundaries and deltas of the transition policy.
// Boundaries are configuration, not call-site constants, so deployments can
// tune the policy without touching the transition code.
type Tiers struct {
	// HighBound is the exclusive lower bound of the high tier (value > HighBound).
	HighBound uint64

	// MidBound is the exclusive lower bound of the mid tier (MidBound < value <= HighBound).
	MidBound uint64

	// LowBound is the exclusive upper bound of the low tier (value < LowBound).
	LowBound uint64

	// HighGain is added to the score in the high tier.
	HighGain uint64

	// MidGain is added to the score in the mid tier.
	MidGain uint64

	// LowPenalty is subtracted from the score in the low tier.
	LowPenalty uint64
}

// DefaultTiers preserves the original policy boundaries exactly, including
// the dead band: value 25 falls in neither the low tier (<25) nor the
// unchanged band's lower edge by accident — [25, 50] leaves the score as is.
func DefaultTiers() Tiers {
	return Tiers{
		HighBound:  75,
		MidBound:   50,
		LowBound:   25,
		HighGain:   10,
		MidGain:    5,
		LowPenalty: 2,
	}
}

// Apply computes the new accumulated score for an attested value.
// Total over all inputs; accumulation saturates at both type bounds, so the
// score never wraps and never underflows below zero.
func (t Tiers) Apply(value, score uint64) uint64 {
	switch {
	case value > t.HighBound:
		return saturatingAdd(score, t.HighGain)
	case value > t.MidBound:
		return saturatingAdd(score, t.MidGain)
	case value < t.LowBound:
		return saturatingSub(score, t.LowPenalty)
	default:
		return score
	}
}

// saturatingAdd adds two scores, clamping at MaxUint64.
func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// saturatingSub subtracts b from a, clamping at zero.
func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
