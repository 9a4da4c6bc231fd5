package engine

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestCoverageGate(t *testing.T) {
	agg := NewAggregator(3000*time.Millisecond, 250*time.Millisecond, 0.6)
	if agg.Expected() != 12 {
		t.Fatalf("expected = %d, want 12", agg.Expected())
	}
	if agg.Required() != 8 {
		t.Fatalf("required = %d, want 8", agg.Required())
	}

	w := NewWindow(3*time.Second, 0)
	now := t0.Add(10 * time.Second)
	for i := range 7 {
		w.Add(obsAt(now.Add(-time.Duration(i)*250*time.Millisecond), 30))
	}
	if res := agg.Evaluate(w, now); res.Sufficient {
		t.Fatalf("7 samples should be insufficient: %+v", res)
	}
	w.Add(obsAt(now.Add(-7*250*time.Millisecond), 30))
	res := agg.Evaluate(w, now)
	if !res.Sufficient || res.Count != 8 || res.Required != 8 {
		t.Fatalf("8 samples should be sufficient: %+v", res)
	}
}

func TestRequiredCountRounding(t *testing.T) {
	// 100 * 0.07 is 7.000000000000001 in binary floating point.
	agg := NewAggregator(100*time.Second, time.Second, 0.07)
	if agg.Required() != 7 {
		t.Fatalf("required = %d, want 7", agg.Required())
	}
	if got := NewAggregator(100*time.Millisecond, time.Second, 1).Expected(); got != 1 {
		t.Fatalf("expected count floors at 1, got %d", got)
	}
	// A real excess above an integer, however small, still rounds up.
	if got := NewAggregator(100*time.Second, time.Second, 0.070000000006).Required(); got != 8 {
		t.Fatalf("required = %d, want 8", got)
	}
}

func TestMean(t *testing.T) {
	agg := NewAggregator(3*time.Second, time.Second, 1)
	w := NewWindow(3*time.Second, 0)
	for _, v := range []float64{20, 30, 40} {
		w.Add(obsAt(t0, v))
	}
	res := agg.Evaluate(w, t0)
	if !res.Sufficient || res.Mean != 30 {
		t.Fatalf("result = %+v, want mean 30", res)
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	agg := NewAggregator(3*time.Second, 250*time.Millisecond, 0.6)
	w := NewWindow(3*time.Second, 0)
	for i := range 10 {
		w.Add(obsAt(t0.Add(time.Duration(i)*200*time.Millisecond), float64(20+i)))
	}
	now := t0.Add(3 * time.Second)
	first := agg.Evaluate(w, now)
	second := agg.Evaluate(w, now)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("evaluate not idempotent (-first +second):\n%s", diff)
	}
}

func TestEvaluateEmptyWindow(t *testing.T) {
	agg := NewAggregator(3*time.Second, 250*time.Millisecond, 0.6)
	res := agg.Evaluate(NewWindow(3*time.Second, 0), t0)
	if res.Sufficient || res.Count != 0 {
		t.Fatalf("empty window must be insufficient: %+v", res)
	}
}
