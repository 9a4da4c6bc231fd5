package engine

import (
	"slices"
	"testing"
	"time"

	"agesignal/internal/model"
)

var t0 = time.Date(2026, 2, 23, 12, 0, 0, 0, time.UTC)

func obsAt(ts time.Time, v float64) model.Observation {
	return model.Observation{Timestamp: ts, Value: v, Confidence: 1}
}

func windowValues(w *Window) []float64 {
	var out []float64
	for obs := range w.Values() {
		out = append(out, obs.Value)
	}
	return out
}

func TestWindowPruneRemovesExpired(t *testing.T) {
	w := NewWindow(3*time.Second, 0)
	w.Add(obsAt(t0, 1))
	w.Add(obsAt(t0.Add(1*time.Second), 2))
	w.Add(obsAt(t0.Add(2*time.Second), 3))

	now := t0.Add(4 * time.Second)
	if removed := w.Prune(now); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	for obs := range w.Values() {
		if obs.Timestamp.Before(now.Add(-3 * time.Second)) {
			t.Fatalf("expired observation %v still present", obs.Timestamp)
		}
	}
	if got := windowValues(w); !slices.Equal(got, []float64{2, 3}) {
		t.Fatalf("values = %v", got)
	}
}

func TestWindowPruneKeepsBoundary(t *testing.T) {
	w := NewWindow(3*time.Second, 0)
	w.Add(obsAt(t0, 1))
	w.Prune(t0.Add(3 * time.Second))
	if w.Size() != 1 {
		t.Fatalf("observation exactly one window old should be kept")
	}
	w.Prune(t0.Add(3*time.Second + time.Nanosecond))
	if w.Size() != 0 {
		t.Fatalf("observation older than the window should be pruned")
	}
}

func TestWindowPruneOutOfOrder(t *testing.T) {
	w := NewWindow(3*time.Second, 0)
	w.Add(obsAt(t0.Add(5*time.Second), 1))
	w.Add(obsAt(t0, 2)) // late arrival, already stale at prune time
	w.Add(obsAt(t0.Add(4*time.Second), 3))

	w.Prune(t0.Add(6 * time.Second))
	if got := windowValues(w); !slices.Equal(got, []float64{1, 3}) {
		t.Fatalf("values = %v, want [1 3]", got)
	}
}

func TestWindowCapacityEvictsOldest(t *testing.T) {
	w := NewWindow(time.Minute, 3)
	for i := range 10 {
		w.Add(obsAt(t0.Add(time.Duration(i)*time.Millisecond), float64(i)))
	}
	if w.Size() != 3 {
		t.Fatalf("size = %d, want 3", w.Size())
	}
	if got := windowValues(w); !slices.Equal(got, []float64{7, 8, 9}) {
		t.Fatalf("values = %v, want [7 8 9]", got)
	}
}

func TestWindowValuesIsReusable(t *testing.T) {
	w := NewWindow(time.Minute, 0)
	w.Add(obsAt(t0, 1))
	w.Add(obsAt(t0, 2))
	seq := w.Values()
	first, second := 0, 0
	for range seq {
		first++
	}
	for range seq {
		second++
	}
	if first != 2 || second != 2 {
		t.Fatalf("iterations = %d, %d", first, second)
	}
	w.Clear()
	if w.Size() != 0 {
		t.Fatalf("clear left %d entries", w.Size())
	}
}
