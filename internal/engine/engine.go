package engine

import (
	"context"
	"log/slog"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"agesignal/internal/config"
	"agesignal/internal/metrics"
	"agesignal/internal/model"
	"agesignal/internal/storage"
	"agesignal/internal/timeutil"
	"agesignal/internal/transitions"
)

const sinkTimeout = time.Second

// Publisher receives every committed transition.
type Publisher interface {
	Publish(ctx context.Context, tr model.Transition) error
}

type Engine struct {
	logger      *slog.Logger
	snapshots   *metrics.Store
	collector   *metrics.Collector
	history     *transitions.Store
	store       storage.Store
	publisher   Publisher
	clock       timeutil.Clock
	cfg         atomic.Value
	sources     atomic.Value
	mu          sync.Mutex
	signal      config.SignalConfig
	pipelines   map[string]*Pipeline
	cooldown    *Cooldown
	deDupe      *DedupeCache
	lastPersist time.Time
}

func NewEngine(cfg *config.Config, logger *slog.Logger, snapshots *metrics.Store, history *transitions.Store, store storage.Store) *Engine {
	e := &Engine{
		logger:    logger,
		snapshots: snapshots,
		history:   history,
		store:     store,
		clock:     timeutil.RealClock{},
		signal:    cfg.Signal,
		pipelines: make(map[string]*Pipeline),
		cooldown:  NewCooldown(),
		deDupe:    NewDedupeCache(),
	}
	e.cfg.Store(cfg)
	e.sources.Store(buildSourceFilter(cfg))
	return e
}

func (e *Engine) SetClock(clock timeutil.Clock) {
	if clock != nil {
		e.clock = clock
	}
}

func (e *Engine) SetCollector(c *metrics.Collector) {
	e.collector = c
}

func (e *Engine) SetPublisher(p Publisher) {
	e.publisher = p
}

// UpdateConfig swaps the configuration. A changed signal section rebuilds
// every pipeline, which returns all subjects to the lowest category.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
	e.sources.Store(buildSourceFilter(cfg))
	e.mu.Lock()
	defer e.mu.Unlock()
	if reflect.DeepEqual(e.signal, cfg.Signal) {
		return
	}
	e.signal = cfg.Signal
	e.pipelines = make(map[string]*Pipeline)
	if e.snapshots != nil {
		e.snapshots.Clear()
	}
	if e.logger != nil {
		e.logger.Info("signal config changed, pipelines rebuilt",
			"window", cfg.Signal.Window.String(),
			"sampling_interval", cfg.Signal.SamplingInterval.String(),
			"dwell", cfg.Signal.Dwell.String(),
		)
	}
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) sourceFilter() *SourceFilter {
	if v := e.sources.Load(); v != nil {
		if f, ok := v.(*SourceFilter); ok {
			return f
		}
	}
	return nil
}

// Start runs the engine loop on its own goroutine.
func (e *Engine) Start(ctx context.Context, in <-chan model.Detection) {
	go e.Run(ctx, in)
}

// Run is the single owner of all window and classifier state. It ingests
// detections as they arrive and ticks every subject at the sampling
// interval until ctx is done.
func (e *Engine) Run(ctx context.Context, in <-chan model.Detection) {
	interval := e.config().Signal.SamplingInterval
	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case det, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			e.Ingest(det)
		case now := <-ticker.C():
			e.tick(ctx, now)
			if next := e.config().Signal.SamplingInterval; next != interval && next > 0 {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// Ingest validates det and routes it to its subject's window. It reports
// whether the observation was retained.
func (e *Engine) Ingest(det model.Detection) bool {
	cfg := e.config()
	now := e.clock.Now()

	if !e.sourceFilter().Allowed(det.Source) {
		e.drop("source_denied", det)
		return false
	}
	if isStale(det.Timestamp, now, cfg.Signal.MaxClockSkew) {
		e.drop("stale", det)
		return false
	}
	// Redeliveries carry the producer's timestamp, so dedupe keys on it. A
	// detection without one cannot be told apart from a fresh reading.
	if cfg.Signal.DedupeWindow > 0 && !det.Timestamp.IsZero() && e.deDupe.Seen(det, now, cfg.Signal.DedupeWindow) {
		e.drop("duplicate", det)
		return false
	}
	det.Timestamp = clampTimestamp(det.Timestamp, now, cfg.Signal.MaxFutureSkew)
	obs, err := model.NewObservation(det.Timestamp, det.Age, det.Confidence)
	if err != nil {
		e.drop("invalid", det)
		return false
	}

	subject := subjectKey(det, cfg.Signal.PerSlot)
	e.mu.Lock()
	p, err := e.pipelineLocked(subject)
	if err != nil {
		e.mu.Unlock()
		if e.logger != nil {
			e.logger.Error("pipeline build failed", "subject", subject, "err", err)
		}
		return false
	}
	accepted := p.Ingest(obs)
	e.mu.Unlock()

	if !accepted {
		e.drop("low_confidence", det)
		return false
	}
	e.collector.Accepted()
	return true
}

// Tick evaluates every subject at now and returns the committed transitions.
func (e *Engine) Tick(now time.Time) []model.Transition {
	return e.tick(context.Background(), now)
}

func (e *Engine) tick(ctx context.Context, now time.Time) []model.Transition {
	cfg := e.config()

	e.mu.Lock()
	subjects := make([]string, 0, len(e.pipelines))
	for s := range e.pipelines {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)
	snaps := make([]model.Snapshot, 0, len(subjects))
	var committed []model.Transition
	var lost, evicted []string
	for _, s := range subjects {
		p := e.pipelines[s]
		wasSufficient := p.Current().Sufficient
		snap, tr := p.Tick(now)
		if tr != nil {
			committed = append(committed, *tr)
		}
		if wasSufficient && !snap.Sufficient {
			lost = append(lost, s)
		}
		if isIdle(p, now, cfg.Signal.SubjectIdleTTL) {
			delete(e.pipelines, s)
			evicted = append(evicted, s)
			continue
		}
		snaps = append(snaps, snap)
	}
	e.mu.Unlock()

	if e.snapshots != nil {
		e.snapshots.Update(snaps)
	}
	for _, snap := range snaps {
		e.collector.Observe(snap)
	}
	for _, s := range evicted {
		if e.snapshots != nil {
			e.snapshots.Delete(s)
		}
		e.collector.Forget(s)
		e.cooldown.Forget("coverage|" + s)
		if e.logger != nil {
			e.logger.Debug("idle subject dropped", "subject", s)
		}
	}
	for _, s := range lost {
		if e.logger != nil && e.cooldown.Allow("coverage|"+s, now, cfg.Signal.CoverageWarnInterval) {
			e.logger.Warn("insufficient evidence",
				"subject", s,
				"policy", string(cfg.Signal.InsufficientPolicy),
			)
		}
	}
	for _, tr := range committed {
		e.record(ctx, tr)
	}
	e.persistSnapshots(ctx, cfg, now, snaps)
	return committed
}

func (e *Engine) record(ctx context.Context, tr model.Transition) {
	if e.history != nil {
		e.history.Add(tr)
	}
	e.collector.Transition(tr)
	if e.logger != nil {
		e.logger.Info("state committed",
			"subject", tr.Subject,
			"from", tr.From,
			"to", tr.To,
			"mean", tr.Mean,
			"samples", tr.Count,
			"reason", string(tr.Reason),
		)
	}
	if e.store != nil {
		sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		if err := e.store.SaveTransition(sctx, tr); err != nil && e.logger != nil {
			e.logger.Warn("save transition failed", "subject", tr.Subject, "err", err)
		}
		cancel()
	}
	if e.publisher != nil {
		pctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		if err := e.publisher.Publish(pctx, tr); err != nil && e.logger != nil {
			e.logger.Warn("publish transition failed", "subject", tr.Subject, "err", err)
		}
		cancel()
	}
}

func (e *Engine) persistSnapshots(ctx context.Context, cfg *config.Config, now time.Time, snaps []model.Snapshot) {
	if e.store == nil || len(snaps) == 0 {
		return
	}
	if !e.lastPersist.IsZero() && now.Sub(e.lastPersist) < cfg.Storage.SnapshotInterval {
		return
	}
	e.lastPersist = now
	sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()
	if err := e.store.SaveSnapshots(sctx, snaps); err != nil && e.logger != nil {
		e.logger.Warn("save snapshots failed", "err", err)
	}
}

// Current returns the committed snapshot for subject.
func (e *Engine) Current(subject string) (model.Snapshot, bool) {
	e.mu.Lock()
	p, ok := e.pipelines[subject]
	e.mu.Unlock()
	if !ok {
		return model.Snapshot{}, false
	}
	return p.Current(), true
}

func (e *Engine) Subjects() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.pipelines))
	for s := range e.pipelines {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) Reset() {
	e.mu.Lock()
	e.pipelines = make(map[string]*Pipeline)
	e.mu.Unlock()
	e.cooldown.Clear()
	e.deDupe.Clear()
	if e.snapshots != nil {
		e.snapshots.Clear()
	}
}

func (e *Engine) pipelineLocked(subject string) (*Pipeline, error) {
	if p, ok := e.pipelines[subject]; ok {
		return p, nil
	}
	p, err := NewPipeline(subject, e.signal)
	if err != nil {
		return nil, err
	}
	e.pipelines[subject] = p
	return p, nil
}

func (e *Engine) drop(reason string, det model.Detection) {
	e.collector.Dropped(reason)
	if e.logger != nil {
		e.logger.Debug("detection dropped",
			"reason", reason,
			"source", det.Source,
			"slot", det.Slot,
			"age", det.Age,
			"confidence", det.Confidence,
		)
	}
}

func isIdle(p *Pipeline, now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || p.Size() > 0 || p.State() != 0 {
		return false
	}
	return now.Sub(p.LastIngest()) > ttl
}

func subjectKey(det model.Detection, perSlot bool) string {
	source := det.Source
	if source == "" {
		source = "unknown"
	}
	if !perSlot {
		return source
	}
	return source + "/" + strconv.Itoa(det.Slot)
}

// clampTimestamp stamps detections that carry no capture time and pulls
// ones from too far in the future back to now.
func clampTimestamp(ts, now time.Time, maxFuture time.Duration) time.Time {
	if ts.IsZero() {
		return now
	}
	if maxFuture > 0 && ts.Sub(now) > maxFuture {
		return now
	}
	return ts
}

// isStale reports whether ts lags now by more than maxPast. Stale readings
// are dropped, never re-stamped, so they cannot outlive their window.
func isStale(ts, now time.Time, maxPast time.Duration) bool {
	if ts.IsZero() || maxPast <= 0 {
		return false
	}
	return now.Sub(ts) > maxPast
}
