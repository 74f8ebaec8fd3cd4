// Package telemetry reports configuration pipeline events.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures events emitted by the composition pipeline.
//
// Implementations should be inexpensive to call; hooks run inline with
// rebuilds and validation.
type Collector interface {
	IncRebuild()
	IncOrderingViolation(symbol string)
	SetResolvedSymbols(count int)
	IncHotReload(file string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncRebuild()                 {}
func (noopCollector) IncOrderingViolation(string) {}
func (noopCollector) SetResolvedSymbols(int)      {}
func (noopCollector) IncHotReload(string)         {}

// PrometheusCollector exposes pipeline counters via Prometheus.
type PrometheusCollector struct {
	rebuilds   prometheus.Counter
	violations *prometheus.CounterVec
	resolved   prometheus.Gauge
	hotReloads *prometheus.CounterVec
}

var (
	metricsMu        sync.Mutex
	rebuildCounter   prometheus.Counter
	violationCounter *prometheus.CounterVec
	resolvedGauge    prometheus.Gauge
	hotReloadCounter *prometheus.CounterVec
)

// NewPrometheusCollector registers the required metrics with the provided
// registerer, reusing collectors that are already registered.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	metricsMu.Lock()
	defer metricsMu.Unlock()

	if rebuildCounter == nil {
		counter := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "layerkit_config_rebuild_total",
			Help: "Number of configuration resolve/derive rebuilds.",
		})
		registered, err := registerOrReuse(reg, counter)
		if err != nil {
			return nil, err
		}
		rebuildCounter = registered.(prometheus.Counter)
	}

	if violationCounter == nil {
		counter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "layerkit_ordering_violations_total",
			Help: "Number of ordering violations reported per symbol.",
		}, []string{"symbol"})
		registered, err := registerOrReuse(reg, counter)
		if err != nil {
			return nil, err
		}
		violationCounter = registered.(*prometheus.CounterVec)
	}

	if resolvedGauge == nil {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "layerkit_resolved_symbols",
			Help: "Number of symbols bound by the last rebuild.",
		})
		registered, err := registerOrReuse(reg, gauge)
		if err != nil {
			return nil, err
		}
		resolvedGauge = registered.(prometheus.Gauge)
	}

	if hotReloadCounter == nil {
		counter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "layerkit_config_hot_reload_total",
			Help: "Number of hot reload operations triggered per declaration file.",
		}, []string{"file"})
		registered, err := registerOrReuse(reg, counter)
		if err != nil {
			return nil, err
		}
		hotReloadCounter = registered.(*prometheus.CounterVec)
	}

	return &PrometheusCollector{
		rebuilds:   rebuildCounter,
		violations: violationCounter,
		resolved:   resolvedGauge,
		hotReloads: hotReloadCounter,
	}, nil
}

func registerOrReuse(reg prometheus.Registerer, collector prometheus.Collector) (prometheus.Collector, error) {
	if err := reg.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return already.ExistingCollector, nil
		}
		return nil, err
	}
	return collector, nil
}

// IncRebuild counts one resolve/derive rebuild.
func (p *PrometheusCollector) IncRebuild() {
	if p == nil || p.rebuilds == nil {
		return
	}
	p.rebuilds.Inc()
}

// IncOrderingViolation counts one reported violation for the symbol.
func (p *PrometheusCollector) IncOrderingViolation(symbol string) {
	if p == nil || p.violations == nil {
		return
	}
	p.violations.WithLabelValues(symbol).Inc()
}

// SetResolvedSymbols updates the gauge tracking bound symbols per rebuild.
func (p *PrometheusCollector) SetResolvedSymbols(count int) {
	if p == nil || p.resolved == nil {
		return
	}
	p.resolved.Set(float64(count))
}

// IncHotReload increments the counter for the provided declaration file.
func (p *PrometheusCollector) IncHotReload(file string) {
	if p == nil || p.hotReloads == nil {
		return
	}
	p.hotReloads.WithLabelValues(file).Inc()
}
