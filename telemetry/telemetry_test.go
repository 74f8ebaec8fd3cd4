package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func resetMetricsForTest() {
	metricsMu.Lock()
	rebuildCounter = nil
	violationCounter = nil
	resolvedGauge = nil
	hotReloadCounter = nil
	metricsMu.Unlock()
}

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.IncRebuild()
	collector.IncOrderingViolation("cycles_per_microsecond")
	collector.SetResolvedSymbols(3)
	collector.IncHotReload("config.yaml")
}

func TestPrometheusCollectorRegistersAndReuses(t *testing.T) {
	resetMetricsForTest()

	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.NotNil(t, collector)

	collector.IncRebuild()
	collector.IncOrderingViolation("cycles_per_microsecond")
	collector.SetResolvedSymbols(5)

	families, err := reg.Gather()
	require.NoError(t, err)

	rebuilds := findFamily(t, families, "layerkit_config_rebuild_total")
	require.Len(t, rebuilds.Metric, 1)
	require.Equal(t, float64(1), rebuilds.Metric[0].Counter.GetValue())

	violations := findFamily(t, families, "layerkit_ordering_violations_total")
	require.Len(t, violations.Metric, 1)
	require.Equal(t, float64(1), violations.Metric[0].Counter.GetValue())

	resolved := findFamily(t, families, "layerkit_resolved_symbols")
	require.Equal(t, float64(5), resolved.Metric[0].Gauge.GetValue())

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, collector.rebuilds, again.rebuilds)

	again.IncRebuild()
	families, err = reg.Gather()
	require.NoError(t, err)
	rebuilds = findFamily(t, families, "layerkit_config_rebuild_total")
	require.Equal(t, float64(2), rebuilds.Metric[0].Counter.GetValue())
}

func findFamily(t *testing.T, families []*dto.MetricFamily, name string) *dto.MetricFamily {
	t.Helper()
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	t.Fatalf("metric family %s not found", name)
	return nil
}
