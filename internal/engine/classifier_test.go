package engine

import (
	"testing"
	"time"

	"agesignal/internal/config"
	"agesignal/internal/model"
)

func testBands(t *testing.T) Bands {
	t.Helper()
	b, err := NewBands(config.DefaultCategories())
	if err != nil {
		t.Fatalf("bands: %v", err)
	}
	return b
}

func seen(mean float64) model.AggregateResult {
	return model.AggregateResult{Sufficient: true, Mean: mean, Count: 10, Required: 8}
}

func unseen() model.AggregateResult {
	return model.AggregateResult{Count: 2, Required: 8}
}

func TestBandsClassify(t *testing.T) {
	b := testBands(t)
	cases := []struct {
		v    float64
		want int
	}{
		{-5, 0},
		{0, 0},
		{29.999, 0},
		{30, 1},
		{39.999, 1},
		{40, 2},
		{120, 2},
	}
	for _, tc := range cases {
		if got := b.Classify(tc.v); got != tc.want {
			t.Fatalf("Classify(%v) = %d (%s), want %d", tc.v, got, b.Category(got).Name, tc.want)
		}
	}
}

func TestBandsRejectUnordered(t *testing.T) {
	_, err := NewBands([]model.Category{{Name: "a"}, {Name: "b", Threshold: 40}, {Name: "c", Threshold: 40}})
	if err == nil {
		t.Fatalf("expected error for equal thresholds")
	}
	if _, err := NewBands(nil); err == nil {
		t.Fatalf("expected error for empty categories")
	}
}

func TestDebounceSuppressesFlicker(t *testing.T) {
	c := NewClassifier(testBands(t), time.Second, time.Second, config.PolicyHoldLast)
	steps := []struct {
		at   time.Duration
		mean float64
	}{
		{0, 35},
		{500 * time.Millisecond, 20},
		{900 * time.Millisecond, 35},
		{1400 * time.Millisecond, 20},
		{1800 * time.Millisecond, 35},
		{2500 * time.Millisecond, 20},
	}
	for _, s := range steps {
		if d := c.Step(seen(s.mean), t0.Add(s.at)); d.Committed {
			t.Fatalf("committed %d at %v during flicker", d.To, s.at)
		}
		if c.Current() != 0 {
			t.Fatalf("current = %d, want 0", c.Current())
		}
	}
}

func TestDebounceCommitsOnceAtDwell(t *testing.T) {
	c := NewClassifier(testBands(t), time.Second, 0, config.PolicyHoldLast)
	commits := 0
	var commitAt time.Duration
	for at := time.Duration(0); at <= 2*time.Second; at += 250 * time.Millisecond {
		d := c.Step(seen(35), t0.Add(at))
		if d.Committed {
			commits++
			commitAt = at
			if d.From != 0 || d.To != 1 || d.Reason != model.ReasonThreshold {
				t.Fatalf("unexpected decision %+v", d)
			}
		}
	}
	if commits != 1 {
		t.Fatalf("commits = %d, want 1", commits)
	}
	if commitAt != time.Second {
		t.Fatalf("committed at %v, want 1s", commitAt)
	}
}

func TestZeroDwellCommitsImmediately(t *testing.T) {
	c := NewClassifier(testBands(t), 0, 0, config.PolicyHoldLast)
	d := c.Step(seen(45), t0)
	if !d.Committed || d.To != 2 {
		t.Fatalf("decision = %+v, want immediate commit to 2", d)
	}
}

func TestHoldLastKeepsState(t *testing.T) {
	c := NewClassifier(testBands(t), 0, 0, config.PolicyHoldLast)
	c.Step(seen(45), t0)
	for i := 1; i <= 20; i++ {
		if d := c.Step(unseen(), t0.Add(time.Duration(i)*250*time.Millisecond)); d.Committed {
			t.Fatalf("insufficient evidence committed %+v", d)
		}
		if c.Current() != 2 {
			t.Fatalf("current = %d, want 2 (alert held)", c.Current())
		}
	}
	if d := c.Step(seen(44), t0.Add(10*time.Second)); d.Committed {
		t.Fatalf("returning evidence for the held state should not commit: %+v", d)
	}
}

func TestResetLowestPolicy(t *testing.T) {
	c := NewClassifier(testBands(t), 0, 0, config.PolicyResetLowest)
	c.Step(seen(45), t0)
	d := c.Step(unseen(), t0.Add(250*time.Millisecond))
	if !d.Committed || d.From != 2 || d.To != 0 || d.Reason != model.ReasonInsufficientEvidence {
		t.Fatalf("decision = %+v, want reset to 0", d)
	}
	if d := c.Step(unseen(), t0.Add(500*time.Millisecond)); d.Committed {
		t.Fatalf("second insufficient tick should not commit again: %+v", d)
	}
}

func TestReleaseDwell(t *testing.T) {
	c := NewClassifier(testBands(t), 0, time.Second, config.PolicyHoldLast)
	c.Step(seen(45), t0)
	if d := c.Step(seen(20), t0.Add(time.Second)); d.Committed {
		t.Fatalf("de-escalation must wait for release dwell")
	}
	if d := c.Step(seen(20), t0.Add(1500*time.Millisecond)); d.Committed {
		t.Fatalf("de-escalation committed early")
	}
	d := c.Step(seen(20), t0.Add(2*time.Second))
	if !d.Committed || d.To != 0 {
		t.Fatalf("decision = %+v, want release to 0", d)
	}
}

func TestInsufficientEvidenceRestartsDwell(t *testing.T) {
	c := NewClassifier(testBands(t), time.Second, 0, config.PolicyHoldLast)
	c.Step(seen(35), t0)
	c.Step(unseen(), t0.Add(500*time.Millisecond))
	c.Step(seen(35), t0.Add(600*time.Millisecond))
	if d := c.Step(seen(35), t0.Add(1100*time.Millisecond)); d.Committed {
		t.Fatalf("dwell should restart after a gap in evidence")
	}
	if d := c.Step(seen(35), t0.Add(1600*time.Millisecond)); !d.Committed {
		t.Fatalf("expected commit one dwell after evidence returned")
	}
}
