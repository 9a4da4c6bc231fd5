package engine

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"agesignal/internal/model"
)

// ceilPrecision is the number of decimal places a product is rounded to
// before taking its ceiling, which absorbs float error such as
// 100*0.07 = 7.000000000000001.
const ceilPrecision = 1e9

func ceilRounded(x float64) int {
	return int(math.Ceil(math.Round(x*ceilPrecision) / ceilPrecision))
}

type Aggregator struct {
	window           time.Duration
	samplingInterval time.Duration
	minCoverageRatio float64
	values           []float64
}

func NewAggregator(window, samplingInterval time.Duration, minCoverageRatio float64) *Aggregator {
	return &Aggregator{
		window:           window,
		samplingInterval: samplingInterval,
		minCoverageRatio: minCoverageRatio,
	}
}

// Expected is the number of samples a full window holds at the sampling
// cadence, never less than one.
func (a *Aggregator) Expected() int {
	if a.samplingInterval <= 0 {
		return 1
	}
	n := ceilRounded(float64(a.window) / float64(a.samplingInterval))
	if n < 1 {
		return 1
	}
	return n
}

func (a *Aggregator) Required() int {
	return ceilRounded(float64(a.Expected()) * a.minCoverageRatio)
}

// Evaluate prunes w for now and returns the mean of what remains, or an
// insufficient result when coverage is below the required count.
func (a *Aggregator) Evaluate(w *Window, now time.Time) model.AggregateResult {
	w.Prune(now)
	required := a.Required()
	count := w.Size()
	if count < required || count == 0 {
		return model.AggregateResult{Sufficient: false, Count: count, Required: required}
	}
	a.values = a.values[:0]
	for obs := range w.Values() {
		a.values = append(a.values, obs.Value)
	}
	return model.AggregateResult{
		Sufficient: true,
		Mean:       stat.Mean(a.values, nil),
		Count:      count,
		Required:   required,
	}
}
