// Package metrics exposes reconciliation activity as Prometheus metrics:
// applied operations per kind and action, server connectivity, request
// latency quantiles and the outcome of the last pass.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/xtxerr/kepsync/internal/client"
	"github.com/xtxerr/kepsync/internal/model"
	"github.com/xtxerr/kepsync/internal/sync"
)

const namespace = "kepsync"

// Metrics holds the collectors of one process. It implements sync.Observer
// and is safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	operations   *prometheus.CounterVec
	connectivity *prometheus.GaugeVec
	latency      *prometheus.GaugeVec
	requests     *prometheus.GaugeVec

	runs         *prometheus.CounterVec
	lastRun      prometheus.Gauge
	lastDuration prometheus.Gauge
	lastFailures prometheus.Gauge
}

var _ sync.Observer = (*Metrics)(nil)

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Applied insert, update and delete operations by entity kind and result.",
		}, []string{"kind", "action", "result"}),
		connectivity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_connectivity",
			Help:      "Last known server connectivity; 1 for the current state, 0 otherwise.",
		}, []string{"state"}),
		latency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "Request latency quantiles of the last pass by HTTP method.",
		}, []string{"method", "quantile"}),
		requests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests",
			Help:      "Requests issued during the last pass by HTTP method.",
		}, []string{"method"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Reconciliation passes by result.",
		}, []string{"result"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Start time of the last reconciliation pass.",
		}),
		lastDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Duration of the last reconciliation pass.",
		}),
		lastFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_failures",
			Help:      "Failed operations in the last reconciliation pass.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations,
		m.connectivity,
		m.latency,
		m.requests,
		m.runs,
		m.lastRun,
		m.lastDuration,
		m.lastFailures,
	)
	m.SetConnectivity(client.ConnectivityUnknown)
	return m
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe counts one applied operation.
func (m *Metrics) Observe(kind model.Kind, action sync.Action, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.operations.WithLabelValues(string(kind), string(action), result).Inc()
}

// SetConnectivity records the current connectivity state. It matches the
// signature of client.Config.OnConnectivityChange.
func (m *Metrics) SetConnectivity(state client.Connectivity) {
	for _, s := range []client.Connectivity{
		client.ConnectivityUnknown,
		client.ConnectivityConnected,
		client.ConnectivityDisconnected,
	} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectivity.WithLabelValues(s.String()).Set(v)
	}
}

// RecordRun records the outcome of a reconciliation pass. res may be nil
// when the pass failed before producing a result.
func (m *Metrics) RecordRun(res *sync.Result, err error) {
	if err != nil {
		m.runs.WithLabelValues("error").Inc()
	} else {
		m.runs.WithLabelValues("ok").Inc()
	}
	if res == nil {
		return
	}
	m.lastRun.Set(float64(res.StartedAt.UnixNano()) / 1e9)
	m.lastDuration.Set(res.Duration.Seconds())
	m.lastFailures.Set(float64(res.Failures))
}

// RecordLatencies replaces the latency gauges with the summaries of the
// last pass.
func (m *Metrics) RecordLatencies(summaries []client.LatencySummary) {
	m.latency.Reset()
	m.requests.Reset()
	for _, s := range summaries {
		m.requests.WithLabelValues(s.Method).Set(float64(s.Count))
		for q, d := range map[float64]float64{
			0.5:  s.P50.Seconds(),
			0.9:  s.P90.Seconds(),
			0.99: s.P99.Seconds(),
		} {
			m.latency.WithLabelValues(s.Method, strconv.FormatFloat(q, 'f', -1, 64)).Set(d)
		}
	}
}
