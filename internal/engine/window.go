package engine

import (
	"iter"
	"time"

	"agesignal/internal/model"
)

// Window is the trailing, time-bounded set of observations for one subject.
// Reads never prune; callers run Prune(now) first.
type Window struct {
	duration   time.Duration
	maxSamples int
	entries    []model.Observation
	head       int
}

func NewWindow(duration time.Duration, maxSamples int) *Window {
	capHint := 64
	if maxSamples > 0 && maxSamples < capHint {
		capHint = maxSamples
	}
	return &Window{
		duration:   duration,
		maxSamples: maxSamples,
		entries:    make([]model.Observation, 0, capHint),
	}
}

// Add appends obs and, when a capacity is set, drops the oldest entries
// until the window fits.
func (w *Window) Add(obs model.Observation) {
	w.entries = append(w.entries, obs)
	if w.maxSamples <= 0 {
		return
	}
	for len(w.entries)-w.head > w.maxSamples {
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.entries) {
		w.entries = append(w.entries[:0], w.entries[w.head:]...)
		w.head = 0
	}
}

// Prune removes every observation with now - timestamp > duration and
// reports how many were removed. Each entry is checked against its own
// timestamp, so out-of-order arrivals are handled.
func (w *Window) Prune(now time.Time) int {
	live := w.entries[w.head:]
	kept := 0
	for _, obs := range live {
		if now.Sub(obs.Timestamp) > w.duration {
			continue
		}
		live[kept] = obs
		kept++
	}
	removed := len(live) - kept
	w.entries = append(w.entries[:0], live[:kept]...)
	w.head = 0
	return removed
}

func (w *Window) Size() int {
	return len(w.entries) - w.head
}

// Values yields the current members in insertion order. The sequence can be
// ranged over any number of times.
func (w *Window) Values() iter.Seq[model.Observation] {
	return func(yield func(model.Observation) bool) {
		for _, obs := range w.entries[w.head:] {
			if !yield(obs) {
				return
			}
		}
	}
}

func (w *Window) Clear() {
	w.entries = w.entries[:0]
	w.head = 0
}
