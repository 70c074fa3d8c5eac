package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ExchangeCollector bundles the Prometheus metrics of the association
// exchange. It satisfies core.MetricsRecorder, so an Exchange built with
// core.WithMetrics drives it from every flush.
type ExchangeCollector struct {
	gatherer prometheus.Gatherer

	RecomputePasses    prometheus.Counter
	RecomputeDuration  prometheus.Histogram
	RecomputeInstances prometheus.Histogram
	Invalidations      prometheus.Counter
	Placements         prometheus.Gauge
	PlacementsMissing  prometheus.Gauge
}

// NewExchangeCollector registers exchange metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Registering twice against the same registry reuses the existing
// collectors.
func NewExchangeCollector(reg prometheus.Registerer) (*ExchangeCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	passes, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoexchange_recompute_passes_total",
		Help: "Total number of recompute flushes run by the exchange.",
	}), "geoexchange_recompute_passes_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geoexchange_recompute_duration_seconds",
		Help:    "Duration of a recompute flush in seconds.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "geoexchange_recompute_duration_seconds")
	if err != nil {
		return nil, err
	}

	instances, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geoexchange_recompute_instances",
		Help:    "Number of instances recomputed by a flush.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	}), "geoexchange_recompute_instances")
	if err != nil {
		return nil, err
	}

	invalidations, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoexchange_invalidations_total",
		Help: "Total number of GeometryInvalidated events emitted.",
	}), "geoexchange_invalidations_total")
	if err != nil {
		return nil, err
	}

	placements, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geoexchange_placements",
		Help: "Current number of registered placements.",
	}), "geoexchange_placements")
	if err != nil {
		return nil, err
	}
	missing, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geoexchange_placements_missing",
		Help: "Current number of placements whose target cannot be resolved.",
	}), "geoexchange_placements_missing")
	if err != nil {
		return nil, err
	}

	return &ExchangeCollector{
		gatherer:           gatherer,
		RecomputePasses:    passes,
		RecomputeDuration:  duration,
		RecomputeInstances: instances,
		Invalidations:      invalidations,
		Placements:         placements,
		PlacementsMissing:  missing,
	}, nil
}

// Gatherer returns the gatherer backing the collector.
func (c *ExchangeCollector) Gatherer() prometheus.Gatherer {
	if c == nil || c.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ExchangeCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Gatherer(), promhttp.HandlerOpts{})
}

// ObserveRecompute records one flush.
func (c *ExchangeCollector) ObserveRecompute(d time.Duration, instances int) {
	if c == nil {
		return
	}
	c.RecomputePasses.Inc()
	c.RecomputeDuration.Observe(d.Seconds())
	c.RecomputeInstances.Observe(float64(instances))
}

// IncInvalidations counts one GeometryInvalidated event.
func (c *ExchangeCollector) IncInvalidations() {
	if c == nil {
		return
	}
	c.Invalidations.Inc()
}

// SetPlacementCounts updates the placement gauges.
func (c *ExchangeCollector) SetPlacementCounts(total, missing int) {
	if c == nil {
		return
	}
	c.Placements.Set(float64(total))
	c.PlacementsMissing.Set(float64(missing))
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
