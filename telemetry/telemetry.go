package telemetry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the dashboard session.
//
// Hooks run inline while the session holds its state lock, so implementations
// must be cheap and must not call back into the session.
type Collector interface {
	IncHotReload(file string)
	IncRequest(resource, outcome string)
	IncFailure(operation, kind string)
	SetDevices(count int)
	SetLogEntries(count int)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncHotReload(string)       {}
func (noopCollector) IncRequest(string, string) {}
func (noopCollector) IncFailure(string, string) {}
func (noopCollector) SetDevices(int)            {}
func (noopCollector) SetLogEntries(int)         {}

// PrometheusCollector exposes telemetry via Prometheus.
type PrometheusCollector struct {
	hotReloads *prometheus.CounterVec
	requests   *prometheus.CounterVec
	failures   *prometheus.CounterVec
	devices    prometheus.Gauge
	logEntries prometheus.Gauge
}

// NewPrometheusCollector registers the required metrics with the provided
// registerer. Registering twice against the same registerer reuses the
// existing metrics, which keeps hot reloads from failing.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	hotReloads, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hemlarm_config_hot_reload_total",
		Help: "Number of hot reload operations triggered per configuration source file.",
	}, []string{"file"}))
	if err != nil {
		return nil, err
	}
	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hemlarm_requests_total",
		Help: "Completed API requests by resource and how their response was handled.",
	}, []string{"resource", "outcome"}))
	if err != nil {
		return nil, err
	}
	failures, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hemlarm_failures_total",
		Help: "Failed operations by operation and error kind.",
	}, []string{"operation", "kind"}))
	if err != nil {
		return nil, err
	}
	devices, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hemlarm_devices",
		Help: "Number of devices in the local registry.",
	}))
	if err != nil {
		return nil, err
	}
	logEntries, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hemlarm_log_entries",
		Help: "Number of log entries in the displayed page.",
	}))
	if err != nil {
		return nil, err
	}
	return &PrometheusCollector{
		hotReloads: hotReloads,
		requests:   requests,
		failures:   failures,
		devices:    devices,
		logEntries: logEntries,
	}, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return collector, nil
}

// IncHotReload increments the counter for the provided file path.
func (p *PrometheusCollector) IncHotReload(file string) {
	if p == nil || p.hotReloads == nil {
		return
	}
	p.hotReloads.WithLabelValues(file).Inc()
}

// IncRequest counts a completed request.
func (p *PrometheusCollector) IncRequest(resource, outcome string) {
	if p == nil || p.requests == nil {
		return
	}
	p.requests.WithLabelValues(resource, outcome).Inc()
}

// IncFailure counts a failed operation.
func (p *PrometheusCollector) IncFailure(operation, kind string) {
	if p == nil || p.failures == nil {
		return
	}
	p.failures.WithLabelValues(operation, kind).Inc()
}

// SetDevices updates the registry size gauge.
func (p *PrometheusCollector) SetDevices(count int) {
	if p == nil || p.devices == nil {
		return
	}
	p.devices.Set(float64(count))
}

// SetLogEntries updates the displayed log entries gauge.
func (p *PrometheusCollector) SetLogEntries(count int) {
	if p == nil || p.logEntries == nil {
		return
	}
	p.logEntries.Set(float64(count))
}
