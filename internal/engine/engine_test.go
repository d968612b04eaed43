package engine

import (
	"math"
	"sync"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) <= 1e-12
}

// ---------------------------------------------------------------------------
// Degenerate input
// ---------------------------------------------------------------------------

func TestDegenerate_ReturnsBoundOverHundred(t *testing.T) {
	// Sequences of length 0 or 1 return bound/100 in both directions
	for _, seq := range [][]float64{nil, {}, {42}, {-3.5}} {
		e := New()
		if got := e.Forward(seq, 7.0); got != 0.07 {
			t.Errorf("Forward(%v, 7) = %v, want 0.07", seq, got)
		}
		if got := e.Reverse(seq, 7.0); got != 0.07 {
			t.Errorf("Reverse(%v, 7) = %v, want 0.07", seq, got)
		}
	}
}

func TestDegenerate_DefaultBound(t *testing.T) {
	e := New()
	if got := e.Forward([]float64{1}, DefaultBound); got != DefaultBound/100 {
		t.Errorf("Forward = %v, want %v", got, DefaultBound/100)
	}
}

// ---------------------------------------------------------------------------
// Two-sample rule
// ---------------------------------------------------------------------------

func TestTwoZeros_ReturnsBound(t *testing.T) {
	// averageRatio is 0, so normalized is 0 and the N==2 rule yields bound - 0
	e := New()
	if got := e.Forward([]float64{0, 0}, 5.5); got != 5.5 {
		t.Errorf("Forward([0,0]) = %v, want 5.5", got)
	}
	if got := e.Reverse([]float64{0, 0}, 5.5); got != 5.5 {
		t.Errorf("Reverse([0,0]) = %v, want 5.5", got)
	}
}

func TestTwoSamples_CancellingSumReturnsBound(t *testing.T) {
	e := New()
	if got := e.Forward([]float64{5, -5}, 5.5); got != 5.5 {
		t.Errorf("Forward([5,-5]) = %v, want 5.5", got)
	}
}

// ---------------------------------------------------------------------------
// Reference values
// ---------------------------------------------------------------------------

func TestCompute_ReferenceValues(t *testing.T) {
	cases := []struct {
		name    string
		seq     []float64
		bound   float64
		forward float64
		reverse float64
	}{
		{"ascending", []float64{1, 2, 3}, 5.5, 1.821111111111111, 3.7155555555555546},
		{"permuted", []float64{3, 1, 2}, 5.5, 1.821111111111111, 3.7155555555555546},
		{"halves", []float64{1.5, 2.5, 3.5}, 5.5, 1.6761904761904762, 4.2559523809523805},
		{"mixed pair", []float64{-1, 2}, 5.5, 5.48625, 4.125},
		{"all negative", []float64{-2, -4, -6}, 5.5, -5.463333333333334, -11.146666666666667},
		{"mixed four", []float64{-3, -1, 4, 2}, 5.5, 0.11687499999999999, 0.34375},
		{"constant", []float64{1, 1, 1}, 5.5, 0.055, 5.5},
		{"pair", []float64{10, 20}, 5.5, 3.4375, 0},
		{"zero and one", []float64{0, 1}, 5.5, 2.7775000000000003, 2.6675},
		{"hello", CodePoints("Hello"), 5.5, 1.5509009009009007, 4.667567567567567},
		{"bound seven", []float64{3, 1, 2}, 7.0, 2.3177777777777777, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Compute(tc.seq, tc.bound, false); !approx(got, tc.forward) {
				t.Errorf("forward = %v, want %v", got, tc.forward)
			}
			if tc.name == "bound seven" {
				return
			}
			if got := Compute(tc.seq, tc.bound, true); !approx(got, tc.reverse) {
				t.Errorf("reverse = %v, want %v", got, tc.reverse)
			}
		})
	}
}

func TestCompute_HangulText(t *testing.T) {
	seq := CodePoints("안녕하세요")
	if got := Compute(seq, 5.5, false); !approx(got, 0.545573817196426) {
		t.Errorf("forward = %v, want 0.545573817196426", got)
	}
	if got := Compute(seq, 5.5, true); got != 5.5 {
		t.Errorf("reverse = %v, want 5.5 (capped at bound)", got)
	}
}

func TestCompute_Deterministic(t *testing.T) {
	seq := []float64{0.3, -7, 12.25, 4, 4, -1}
	a := Compute(seq, 5.5, false)
	b := Compute(seq, 5.5, false)
	if a != b {
		t.Errorf("repeated compute differs: %v vs %v", a, b)
	}
}

// ---------------------------------------------------------------------------
// Table builder and matcher
// ---------------------------------------------------------------------------

func TestBuildTable_Size(t *testing.T) {
	table := BuildTable([]float64{1, 2, 3}, 5.5)
	if table.Len() != Resolution*3 {
		t.Errorf("len = %d, want %d", table.Len(), Resolution*3)
	}
}

func TestBuildTable_DirectedInterval(t *testing.T) {
	// UpperBound = anchor + inc, LowerBound = anchor - 2*inc
	seq := []float64{1, 2, 3}
	table := BuildTable(seq, 5.5)
	inc := 3.0 / float64(Resolution*3-1)
	for k, b := range table.Buckets {
		if !approx(b.UpperBound-b.LowerAnchor, inc) {
			t.Fatalf("bucket %d: upper offset %v, want %v", k, b.UpperBound-b.LowerAnchor, inc)
		}
		if !approx(b.LowerAnchor-b.LowerBound, 2*inc) {
			t.Fatalf("bucket %d: lower offset %v, want %v", k, b.LowerAnchor-b.LowerBound, 2*inc)
		}
	}
}

func TestBuildTable_AnchorDependsOnSignOnly(t *testing.T) {
	// Two sequences with the same extremes and the same sign pattern produce
	// identical tables even though inner magnitudes differ.
	a := BuildTable([]float64{-4, 1, 8}, 5.5)
	b := BuildTable([]float64{-4, 7, 8}, 5.5)
	for k := range a.Buckets {
		if a.Buckets[k] != b.Buckets[k] {
			t.Fatalf("bucket %d differs: %+v vs %+v", k, a.Buckets[k], b.Buckets[k])
		}
	}
}

func TestBuildTable_NegativeSampleUsesNegativeIncrement(t *testing.T) {
	seq := []float64{-4, 8}
	table := BuildTable(seq, 5.5)
	incNeg := 4.0 / float64(Resolution*2-1)
	incPos := 8.0 / float64(Resolution*2-1)
	first := table.Buckets[0]
	if !approx(first.UpperBound-first.LowerAnchor, incNeg) {
		t.Errorf("first block should use negative increment")
	}
	second := table.Buckets[Resolution]
	if !approx(second.UpperBound-second.LowerAnchor, incPos) {
		t.Errorf("second block should use positive increment")
	}
}

func TestBuildTable_WeightFactor(t *testing.T) {
	seq := []float64{1, 2, 3}
	table := BuildTable(seq, 5.5)
	last := table.Buckets[table.Len()-1]
	if !approx(last.ScaledAnchor, 5.5) {
		t.Errorf("last scaled anchor = %v, want bound", last.ScaledAnchor)
	}
	if !approx(last.WeightFactor, 5.5/2) {
		t.Errorf("last weight = %v, want %v", last.WeightFactor, 5.5/2)
	}
}

func TestMatch_FirstMatchWins(t *testing.T) {
	// Overlapping intervals: the lowest index containing the sample is used
	table := Table{Buckets: []Bucket{
		{LowerBound: 0, UpperBound: 10, WeightFactor: 1},
		{LowerBound: 0, UpperBound: 10, WeightFactor: 100},
	}}
	if got := table.Match([]float64{5}, false); got != 1 {
		t.Errorf("Match = %v, want 1", got)
	}
	if got := table.Match([]float64{5}, true); got != 100 {
		t.Errorf("reversed Match = %v, want 100", got)
	}
}

func TestMatch_NoMatchContributesZero(t *testing.T) {
	table := Table{Buckets: []Bucket{{LowerBound: 0, UpperBound: 1, WeightFactor: 3}}}
	if got := table.Match([]float64{2, -1}, false); got != 0 {
		t.Errorf("Match = %v, want 0", got)
	}
}

func TestMatch_ReverseDoesNotMutateTable(t *testing.T) {
	table := BuildTable([]float64{1, 2, 3}, 5.5)
	before := table.Buckets[0].WeightFactor
	table.Match([]float64{1, 2, 3}, true)
	if table.Buckets[0].WeightFactor != before {
		t.Errorf("reverse scan mutated the weight column")
	}
}

// ---------------------------------------------------------------------------
// Normalizer
// ---------------------------------------------------------------------------

func TestNormalize_CapsAtBound(t *testing.T) {
	if got := Normalize(1e6, []float64{1, 2, 3}, 5.5); got != 5.5 {
		t.Errorf("Normalize = %v, want 5.5", got)
	}
}

func TestNormalize_NaNPropagates(t *testing.T) {
	got := Normalize(math.NaN(), []float64{1, 2, 3}, 5.5)
	if !math.IsNaN(got) {
		t.Errorf("Normalize(NaN) = %v, want NaN", got)
	}
}

func TestNormalize_ZeroMaxUsesUnitMagnitude(t *testing.T) {
	// max == 0 → magnitude 1; sum -3 over N=3 → ratio -100
	got := Normalize(2, []float64{-1, -2, 0}, 5.5)
	if !approx(got, -2) {
		t.Errorf("Normalize = %v, want -2", got)
	}
}

// ---------------------------------------------------------------------------
// Fallback gate
// ---------------------------------------------------------------------------

func TestFallback_InitialInvalidReturnsZero(t *testing.T) {
	// Before any success an invalid result returns 0
	e := New()
	if got := e.Forward([]float64{72, 101, 108, 108, 111}, 999); got != 0 {
		t.Errorf("Forward = %v, want 0", got)
	}
	if got := e.Reverse(nil, math.Inf(1)); got != 0 {
		t.Errorf("Reverse = %v, want 0", got)
	}
}

func TestFallback_LastValidWins(t *testing.T) {
	e := New()
	a := e.Forward([]float64{1, 2, 3}, 5.5)
	b := e.Forward([]float64{72, 101, 108, 108, 111}, 999) // raw 281.7, rejected
	if b != a {
		t.Errorf("after invalid call got %v, want held %v", b, a)
	}
}

func TestFallback_SharedAcrossDirections(t *testing.T) {
	// A reverse success is what a later invalid forward returns
	e := New()
	e.Forward([]float64{1, 2, 3}, 5.5)
	r := e.Reverse([]float64{-1, 2}, 5.5)
	got := e.Forward([]float64{1, math.NaN(), 3}, 5.5)
	if got != r {
		t.Errorf("Forward after reverse = %v, want %v", got, r)
	}
}

func TestFallback_DegenerateValueIsGated(t *testing.T) {
	// bound/100 beyond the limit is rejected like any other result
	e := New()
	e.Forward([]float64{1, 2, 3}, 5.5)
	out := e.ForwardDetail([]float64{1}, 20000)
	if !out.Fallback {
		t.Fatal("expected fallback for 200")
	}
	if out.Raw != 200 {
		t.Errorf("raw = %v, want 200", out.Raw)
	}
	if !approx(out.Value, 1.821111111111111) {
		t.Errorf("value = %v, want held forward", out.Value)
	}
}

func TestFallback_BoundaryValuesAccepted(t *testing.T) {
	var f Fallback
	for _, v := range []float64{-100, 100, 0} {
		got, ok := f.Admit(v)
		if !ok || got != v {
			t.Errorf("Admit(%v) = %v, %v", v, got, ok)
		}
	}
	if _, ok := f.Admit(100.0000001); ok {
		t.Error("Admit above limit should be rejected")
	}
}

func TestFallback_HeldReportsSet(t *testing.T) {
	var f Fallback
	if _, set := f.Held(); set {
		t.Error("zero Fallback should be unset")
	}
	f.Admit(math.Inf(-1))
	if _, set := f.Held(); set {
		t.Error("rejected value must not set the memory")
	}
	f.Admit(3)
	if v, set := f.Held(); !set || v != 3 {
		t.Errorf("Held = %v, %v; want 3, true", v, set)
	}
}

func TestEngine_ConcurrentCallsAreSafe(t *testing.T) {
	e := New()
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq := []float64{1, 2, float64(i)}
			e.Forward(seq, 5.5)
			e.Reverse(seq, 5.5)
		}()
	}
	wg.Wait()
	if !Valid(e.Held()) {
		t.Errorf("held value %v is not valid", e.Held())
	}
}

// ---------------------------------------------------------------------------
// Code points
// ---------------------------------------------------------------------------

func TestCodePoints_OnePerRune(t *testing.T) {
	got := CodePoints("a안")
	if len(got) != 2 || got[0] != 97 || got[1] != 0xC548 {
		t.Errorf("CodePoints = %v", got)
	}
}

func TestPrefixedCodePoints(t *testing.T) {
	got := PrefixedCodePoints("A가 ")
	want := []float64{6000000 + 65, 1000000 + 0xAC00, 32}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
