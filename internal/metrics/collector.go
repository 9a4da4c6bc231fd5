package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agesignal/internal/model"
)

// Collector exposes engine activity to Prometheus. A nil *Collector is a
// valid no-op.
type Collector struct {
	registry    *prometheus.Registry
	state       *prometheus.GaugeVec
	mean        *prometheus.GaugeVec
	samples     *prometheus.GaugeVec
	sufficient  *prometheus.GaugeVec
	accepted    prometheus.Counter
	dropped     *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agesignal_state",
			Help: "Committed category index per subject (0 is the lowest)",
		}, []string{"subject"}),
		mean: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agesignal_window_mean",
			Help: "Mean value over the window at the last tick, 0 when evidence is insufficient",
		}, []string{"subject"}),
		samples: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agesignal_window_samples",
			Help: "Observations retained in the window at the last tick",
		}, []string{"subject"}),
		sufficient: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agesignal_window_sufficient",
			Help: "1 when the window met the coverage requirement at the last tick",
		}, []string{"subject"}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agesignal_observations_accepted_total",
			Help: "Observations retained in a window",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agesignal_observations_dropped_total",
			Help: "Detections dropped before reaching a window, by reason",
		}, []string{"reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agesignal_transitions_total",
			Help: "Committed state transitions",
		}, []string{"subject", "to"}),
	}
	c.registry.MustRegister(c.state, c.mean, c.samples, c.sufficient, c.accepted, c.dropped, c.transitions)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Observe(snap model.Snapshot) {
	if c == nil {
		return
	}
	c.state.WithLabelValues(snap.Subject).Set(float64(snap.State))
	c.mean.WithLabelValues(snap.Subject).Set(snap.Mean)
	c.samples.WithLabelValues(snap.Subject).Set(float64(snap.Count))
	sufficient := 0.0
	if snap.Sufficient {
		sufficient = 1
	}
	c.sufficient.WithLabelValues(snap.Subject).Set(sufficient)
}

func (c *Collector) Accepted() {
	if c == nil {
		return
	}
	c.accepted.Inc()
}

func (c *Collector) Dropped(reason string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(reason).Inc()
}

func (c *Collector) Transition(tr model.Transition) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(tr.Subject, tr.To).Inc()
}

// Forget removes per-subject series once a subject goes idle.
func (c *Collector) Forget(subject string) {
	if c == nil {
		return
	}
	c.state.DeleteLabelValues(subject)
	c.mean.DeleteLabelValues(subject)
	c.samples.DeleteLabelValues(subject)
	c.sufficient.DeleteLabelValues(subject)
}
