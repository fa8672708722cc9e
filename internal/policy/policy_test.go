package policy

import (
	"math"
	"testing"
)

// TestApplyDefaultTiers verifies the transition table with the default
// boundaries, including both silent edges at 25 and 50.
func TestApplyDefaultTiers(t *testing.T) {
	tiers := DefaultTiers()

	cases := []struct {
		name  string
		value uint64
		score uint64
		want  uint64
	}{
		{"high tier", 90, 0, 10},
		{"high tier accumulates", 90, 10, 20},
		{"high boundary excluded", 75, 0, 0},
		{"just above high boundary", 76, 0, 10},
		{"mid tier", 60, 0, 5},
		{"mid boundary excluded", 50, 7, 7},
		{"just above mid boundary", 51, 0, 5},
		{"unchanged band lower edge", 25, 3, 3},
		{"unchanged band middle", 40, 0, 0},
		{"low tier saturates at zero", 10, 0, 0},
		{"low tier subtracts", 10, 8, 6},
		{"just below low boundary", 24, 2, 0},
		{"huge value is high tier", math.MaxUint64, 1, 11},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tiers.Apply(tc.value, tc.score)
			if got != tc.want {
				t.Errorf("Apply(%d, %d) = %d, want %d", tc.value, tc.score, got, tc.want)
			}
		})
	}
}

// TestApplySaturatesAtUpperBound verifies accumulation clamps at MaxUint64
// instead of wrapping.
func TestApplySaturatesAtUpperBound(t *testing.T) {
	tiers := DefaultTiers()

	got := tiers.Apply(90, math.MaxUint64-3)
	if got != math.MaxUint64 {
		t.Errorf("Apply near MaxUint64 = %d, want MaxUint64", got)
	}

	// Already at the ceiling stays there.
	got = tiers.Apply(90, math.MaxUint64)
	if got != math.MaxUint64 {
		t.Errorf("Apply at MaxUint64 = %d, want MaxUint64", got)
	}
}

// TestApplyIsPure verifies repeated application with the same inputs gives
// the same output.
func TestApplyIsPure(t *testing.T) {
	tiers := DefaultTiers()

	first := tiers.Apply(60, 100)
	for i := 0; i < 10; i++ {
		if got := tiers.Apply(60, 100); got != first {
			t.Fatalf("Apply not deterministic: got %d then %d", first, got)
		}
	}
}

// TestCustomTiers verifies the boundaries are configuration, not constants.
func TestCustomTiers(t *testing.T) {
	tiers := Tiers{
		HighBound:  900,
		MidBound:   500,
		LowBound:   100,
		HighGain:   100,
		MidGain:    50,
		LowPenalty: 25,
	}

	if got := tiers.Apply(901, 0); got != 100 {
		t.Errorf("high tier: got %d, want 100", got)
	}
	if got := tiers.Apply(600, 0); got != 50 {
		t.Errorf("mid tier: got %d, want 50", got)
	}
	if got := tiers.Apply(99, 30); got != 5 {
		t.Errorf("low tier: got %d, want 5", got)
	}
	if got := tiers.Apply(300, 42); got != 42 {
		t.Errorf("unchanged band: got %d, want 42", got)
	}
}
