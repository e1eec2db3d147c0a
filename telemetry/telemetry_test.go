package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.IncHotReload("config.yaml")
	collector.IncRequest("devices", "applied")
	collector.IncFailure("toggle_alarm", "transport")
	collector.SetDevices(3)
	collector.SetLogEntries(10)
}

func TestPrometheusCollectorRegistersAndReusesCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.NotNil(t, collector)

	collector.IncHotReload("a.yaml")
	requireCounterValue(t, gather(t, reg, "hemlarm_config_hot_reload_total"), 1)

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, collector.hotReloads, again.hotReloads)
	require.Same(t, collector.requests, again.requests)

	again.IncHotReload("a.yaml")
	requireCounterValue(t, gather(t, reg, "hemlarm_config_hot_reload_total"), 2)
}

func TestPrometheusCollectorRecordsSessionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	collector.IncRequest("devices", "applied")
	collector.IncRequest("devices", "applied")
	collector.IncFailure("toggle_alarm", "transport")
	collector.SetDevices(4)
	collector.SetLogEntries(7)

	requireCounterValue(t, gather(t, reg, "hemlarm_requests_total"), 2)
	requireCounterValue(t, gather(t, reg, "hemlarm_failures_total"), 1)

	devices := gather(t, reg, "hemlarm_devices")
	require.Len(t, devices.Metric, 1)
	require.Equal(t, 4.0, devices.Metric[0].GetGauge().GetValue())

	entries := gather(t, reg, "hemlarm_log_entries")
	require.Len(t, entries.Metric, 1)
	require.Equal(t, 7.0, entries.Metric[0].GetGauge().GetValue())
}

func TestPrometheusCollectorNilReceiver(t *testing.T) {
	var collector *PrometheusCollector
	collector.IncHotReload("a.yaml")
	collector.IncRequest("logs", "stale")
	collector.IncFailure("clear_logs", "unsuccessful")
	collector.SetDevices(1)
	collector.SetLogEntries(1)
}

func gather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	require.Failf(t, "metric not found", "metric %s not gathered", name)
	return nil
}

func requireCounterValue(t *testing.T, mf *dto.MetricFamily, value float64) {
	t.Helper()
	require.Len(t, mf.Metric, 1)
	require.NotNil(t, mf.Metric[0].Counter)
	require.Equal(t, value, mf.Metric[0].Counter.GetValue())
}
