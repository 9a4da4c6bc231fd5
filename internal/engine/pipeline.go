package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"agesignal/internal/config"
	"agesignal/internal/model"
)

// Pipeline runs Ingest -> Window -> Aggregator -> Classifier for one
// subject. Ingest, Evaluate and Tick must be called from one goroutine;
// Current may be called from any goroutine.
type Pipeline struct {
	subject             string
	confidenceThreshold float64
	window              *Window
	aggregator          *Aggregator
	classifier          *Classifier
	lastIngest          time.Time
	cell                atomic.Pointer[model.Snapshot]
}

func NewPipeline(subject string, cfg config.SignalConfig) (*Pipeline, error) {
	if err := config.ValidateSignal(cfg); err != nil {
		return nil, err
	}
	bands, err := NewBands(cfg.Categories)
	if err != nil {
		return nil, fmt.Errorf("build bands: %w", err)
	}
	p := &Pipeline{
		subject:             subject,
		confidenceThreshold: cfg.ConfidenceThreshold,
		window:              NewWindow(cfg.Window, cfg.MaxSamples),
		aggregator:          NewAggregator(cfg.Window, cfg.SamplingInterval, cfg.MinCoverageRatio),
		classifier:          NewClassifier(bands, cfg.Dwell, cfg.ReleaseDwell, cfg.InsufficientPolicy),
	}
	p.publish(model.AggregateResult{Required: p.aggregator.Required()}, time.Time{})
	return p, nil
}

func (p *Pipeline) Subject() string {
	return p.subject
}

// Ingest appends obs when it clears the confidence threshold. A rejected
// observation is not an error; it is treated as absence.
func (p *Pipeline) Ingest(obs model.Observation) bool {
	if obs.Confidence < p.confidenceThreshold {
		return false
	}
	p.window.Add(obs)
	if obs.Timestamp.After(p.lastIngest) {
		p.lastIngest = obs.Timestamp
	}
	return true
}

func (p *Pipeline) Evaluate(now time.Time) model.AggregateResult {
	return p.aggregator.Evaluate(p.window, now)
}

// Tick evaluates the window at now, steps the classifier and publishes the
// resulting snapshot. The transition is non-nil only when a new state was
// committed.
func (p *Pipeline) Tick(now time.Time) (model.Snapshot, *model.Transition) {
	res := p.Evaluate(now)
	d := p.classifier.Step(res, now)
	snap := p.publish(res, now)
	if !d.Committed {
		return snap, nil
	}
	bands := p.classifier.Bands()
	return snap, &model.Transition{
		ID:        uuid.NewString(),
		Timestamp: now,
		Subject:   p.subject,
		From:      bands.Category(d.From).Name,
		To:        bands.Category(d.To).Name,
		FromState: d.From,
		ToState:   d.To,
		Mean:      res.Mean,
		Count:     res.Count,
		Reason:    d.Reason,
	}
}

// Current returns the last published snapshot without blocking the tick.
func (p *Pipeline) Current() model.Snapshot {
	if s := p.cell.Load(); s != nil {
		return *s
	}
	return model.Snapshot{Subject: p.subject}
}

func (p *Pipeline) State() int {
	return p.classifier.Current()
}

func (p *Pipeline) Size() int {
	return p.window.Size()
}

func (p *Pipeline) LastIngest() time.Time {
	return p.lastIngest
}

func (p *Pipeline) Reset() {
	p.window.Clear()
	p.classifier.Reset()
	p.lastIngest = time.Time{}
	p.publish(model.AggregateResult{Required: p.aggregator.Required()}, time.Time{})
}

func (p *Pipeline) publish(res model.AggregateResult, now time.Time) model.Snapshot {
	bands := p.classifier.Bands()
	current := bands.Category(p.classifier.Current())
	snap := model.Snapshot{
		Subject:    p.subject,
		State:      p.classifier.Current(),
		Category:   current.Name,
		Color:      current.Color,
		Count:      res.Count,
		Required:   res.Required,
		Sufficient: res.Sufficient,
		UpdatedAt:  now,
	}
	if res.Sufficient {
		snap.Mean = res.Mean
	}
	if pending, since := p.classifier.Pending(); pending != p.classifier.Current() {
		snap.Pending = bands.Category(pending).Name
		snap.PendingSince = since
	}
	p.cell.Store(&snap)
	return snap
}
