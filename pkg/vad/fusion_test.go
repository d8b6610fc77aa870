package vad_test

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/pkg/vad"
)

func TestNewFuser_RejectsUnknownMode(t *testing.T) {
	t.Parallel()

	if _, err := vad.NewFuser("xor"); err == nil {
		t.Error("NewFuser(\"xor\") expected error, got nil")
	}
}

func TestFuser_TruthTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		mode          vad.Mode
		fast, confirm bool
		want          bool
	}{
		{vad.ModeAnd, false, false, false},
		{vad.ModeAnd, true, false, false},
		{vad.ModeAnd, false, true, false},
		{vad.ModeAnd, true, true, true},
		{vad.ModeOr, false, false, false},
		{vad.ModeOr, true, false, true},
		{vad.ModeOr, false, true, true},
		{vad.ModeOr, true, true, true},
		{vad.ModeFastOnly, true, false, true},
		{vad.ModeFastOnly, false, true, false},
		{vad.ModeConfirmOnly, false, true, true},
		{vad.ModeConfirmOnly, true, false, false},
	}

	for _, tc := range cases {
		f, err := vad.NewFuser(tc.mode)
		if err != nil {
			t.Fatalf("NewFuser(%q) error: %v", tc.mode, err)
		}
		got := f.Fuse(
			vad.Decision{Index: 7, Speech: tc.fast},
			vad.Decision{Index: 7, Speech: tc.confirm, Probability: 0.9, HasProbability: true},
		)
		if got.Speech != tc.want {
			t.Errorf("mode %q fast=%v confirm=%v: Speech = %v, want %v",
				tc.mode, tc.fast, tc.confirm, got.Speech, tc.want)
		}
		if got.Index != 7 {
			t.Errorf("mode %q: Index = %d, want 7", tc.mode, got.Index)
		}
	}
}

// Property: for every decision pair, AND equals the boolean conjunction and
// OR the disjunction of the two speech flags, regardless of probabilities.
func TestFuser_BooleanSemantics(t *testing.T) {
	t.Parallel()

	andF, _ := vad.NewFuser(vad.ModeAnd)
	orF, _ := vad.NewFuser(vad.ModeOr)

	rapid.Check(t, func(t *rapid.T) {
		idx := rapid.Uint64().Draw(t, "idx")
		fast := vad.Decision{
			Index:  idx,
			Speech: rapid.Bool().Draw(t, "fast"),
		}
		confirm := vad.Decision{
			Index:          idx,
			Speech:         rapid.Bool().Draw(t, "confirm"),
			Probability:    rapid.Float64Range(0, 1).Draw(t, "prob"),
			HasProbability: true,
		}

		if got := andF.Fuse(fast, confirm).Speech; got != (fast.Speech && confirm.Speech) {
			t.Fatalf("AND(%v, %v) = %v", fast.Speech, confirm.Speech, got)
		}
		if got := orF.Fuse(fast, confirm).Speech; got != (fast.Speech || confirm.Speech) {
			t.Fatalf("OR(%v, %v) = %v", fast.Speech, confirm.Speech, got)
		}
	})
}

func TestFuser_Degraded(t *testing.T) {
	t.Parallel()

	f, _ := vad.NewFuser(vad.ModeAnd)
	got := f.Degraded(vad.Decision{Index: 3, Speech: true})
	if !got.Speech || got.Index != 3 {
		t.Errorf("Degraded = %+v, want Speech=true Index=3", got)
	}
}

func TestMode_Requirements(t *testing.T) {
	t.Parallel()

	if vad.ModeFastOnly.NeedsConfirm() {
		t.Error("fast_only must not require the confirm engine")
	}
	if !vad.ModeAnd.NeedsConfirm() || !vad.ModeOr.NeedsConfirm() {
		t.Error("and/or modes must require the confirm engine")
	}
	if vad.ModeConfirmOnly.NeedsFast() {
		t.Error("confirm_only must not require the fast filter")
	}
}
