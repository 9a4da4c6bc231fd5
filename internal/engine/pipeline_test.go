package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"agesignal/internal/config"
	"agesignal/internal/model"
)

func testSignal() config.SignalConfig {
	s := config.DefaultSignal()
	s.Dwell = 0
	s.ReleaseDwell = 0
	return s
}

func fill(p *Pipeline, now time.Time, n int, value float64) {
	for i := range n {
		obs, _ := model.NewObservation(now.Add(-time.Duration(i)*100*time.Millisecond), value, 0.9)
		p.Ingest(obs)
	}
}

func TestPipelineConfidenceGate(t *testing.T) {
	p, err := NewPipeline("cam1", testSignal())
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	low, _ := model.NewObservation(t0, 50, 0.59)
	if p.Ingest(low) {
		t.Fatalf("observation under the confidence threshold was accepted")
	}
	ok, _ := model.NewObservation(t0, 50, 0.6)
	if !p.Ingest(ok) {
		t.Fatalf("observation at the confidence threshold was rejected")
	}
	if p.Size() != 1 {
		t.Fatalf("size = %d, want 1", p.Size())
	}
}

func TestPipelineTickCommits(t *testing.T) {
	p, err := NewPipeline("cam1", testSignal())
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	now := t0.Add(time.Minute)
	fill(p, now, 8, 45)

	snap, tr := p.Tick(now)
	if tr == nil {
		t.Fatalf("expected a transition, snapshot %+v", snap)
	}
	if tr.From != "normal" || tr.To != "alert" || tr.Subject != "cam1" || tr.Count != 8 || tr.Mean != 45 {
		t.Fatalf("unexpected transition %+v", tr)
	}
	if _, err := uuid.Parse(tr.ID); err != nil {
		t.Fatalf("transition id %q is not a uuid: %v", tr.ID, err)
	}
	cur := p.Current()
	if cur.State != 2 || cur.Category != "alert" || cur.Color != "red" || !cur.Sufficient {
		t.Fatalf("snapshot = %+v", cur)
	}

	if _, tr := p.Tick(now.Add(250 * time.Millisecond)); tr != nil {
		t.Fatalf("steady state should not emit another transition")
	}
}

func TestPipelineSnapshotShowsPending(t *testing.T) {
	s := testSignal()
	s.Dwell = time.Second
	p, err := NewPipeline("cam1", s)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	now := t0.Add(time.Minute)
	fill(p, now, 8, 35)
	snap, tr := p.Tick(now)
	if tr != nil {
		t.Fatalf("committed before dwell")
	}
	if snap.Category != "normal" || snap.Pending != "warning" || !snap.PendingSince.Equal(now) {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestPipelineReset(t *testing.T) {
	p, _ := NewPipeline("cam1", testSignal())
	now := t0.Add(time.Minute)
	fill(p, now, 8, 45)
	p.Tick(now)
	p.Reset()
	if p.State() != 0 || p.Size() != 0 || p.Current().Category != "normal" {
		t.Fatalf("reset left state %d size %d", p.State(), p.Size())
	}
}

func TestNewPipelineRejectsInvalidConfig(t *testing.T) {
	s := testSignal()
	s.SamplingInterval = 0
	if _, err := NewPipeline("cam1", s); err == nil {
		t.Fatalf("expected validation error")
	}
}
