package engine

import (
	"fmt"
	"math"
	"time"

	"agesignal/internal/config"
	"agesignal/internal/model"
)

// Bands maps a value onto ordered categories. Category i covers
// [threshold_i, threshold_i+1); category 0 has no lower bound.
type Bands struct {
	categories []model.Category
}

func NewBands(categories []model.Category) (Bands, error) {
	if len(categories) == 0 {
		return Bands{}, fmt.Errorf("no categories")
	}
	for i := 2; i < len(categories); i++ {
		if !(categories[i].Threshold > categories[i-1].Threshold) {
			return Bands{}, fmt.Errorf("threshold for %q must be greater than %q", categories[i].Name, categories[i-1].Name)
		}
	}
	for i := 1; i < len(categories); i++ {
		if math.IsNaN(categories[i].Threshold) {
			return Bands{}, fmt.Errorf("threshold for %q is NaN", categories[i].Name)
		}
	}
	return Bands{categories: append([]model.Category(nil), categories...)}, nil
}

// Classify returns the index of the highest category whose threshold is <= v.
func (b Bands) Classify(v float64) int {
	idx := 0
	for i := 1; i < len(b.categories); i++ {
		if v < b.categories[i].Threshold {
			break
		}
		idx = i
	}
	return idx
}

func (b Bands) Len() int {
	return len(b.categories)
}

func (b Bands) Category(i int) model.Category {
	if i < 0 || i >= len(b.categories) {
		return model.Category{}
	}
	return b.categories[i]
}

// Decision is the outcome of one classifier step.
type Decision struct {
	Candidate int
	Committed bool
	From      int
	To        int
	Reason    model.TransitionReason
}

// Classifier holds the committed state and the dwell timer for the
// candidate that would replace it.
type Classifier struct {
	bands        Bands
	dwell        time.Duration
	releaseDwell time.Duration
	policy       config.InsufficientPolicy

	current      int
	pending      int
	pendingSince time.Time
}

func NewClassifier(bands Bands, dwell, releaseDwell time.Duration, policy config.InsufficientPolicy) *Classifier {
	if policy == "" {
		policy = config.PolicyHoldLast
	}
	return &Classifier{
		bands:        bands,
		dwell:        dwell,
		releaseDwell: releaseDwell,
		policy:       policy,
	}
}

func (c *Classifier) Current() int {
	return c.current
}

func (c *Classifier) Pending() (int, time.Time) {
	return c.pending, c.pendingSince
}

func (c *Classifier) Bands() Bands {
	return c.bands
}

func (c *Classifier) Reset() {
	c.current = 0
	c.pending = 0
	c.pendingSince = time.Time{}
}

// Step folds one aggregate into the state machine.
func (c *Classifier) Step(res model.AggregateResult, now time.Time) Decision {
	if !res.Sufficient {
		// A gap in evidence breaks dwell continuity.
		c.pending = c.current
		c.pendingSince = now
		if c.policy == config.PolicyResetLowest && c.current != 0 {
			return c.commit(0, now, model.ReasonInsufficientEvidence)
		}
		return Decision{Candidate: c.current, From: c.current, To: c.current}
	}

	candidate := c.bands.Classify(res.Mean)
	if candidate != c.pending {
		c.pending = candidate
		c.pendingSince = now
	}
	if candidate == c.current {
		return Decision{Candidate: candidate, From: c.current, To: c.current}
	}
	required := c.dwell
	if candidate < c.current {
		required = c.releaseDwell
	}
	if now.Sub(c.pendingSince) < required {
		return Decision{Candidate: candidate, From: c.current, To: c.current}
	}
	return c.commit(candidate, now, model.ReasonThreshold)
}

func (c *Classifier) commit(to int, now time.Time, reason model.TransitionReason) Decision {
	from := c.current
	c.current = to
	c.pending = to
	c.pendingSince = now
	return Decision{Candidate: to, Committed: true, From: from, To: to, Reason: reason}
}
