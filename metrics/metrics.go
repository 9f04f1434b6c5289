// Package metrics exposes Prometheus counters for the ingest pipeline.
//
// Each Metrics owns its registry, so several hubs can run in one process
// (and in tests) without colliding on the default registerer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "serialhub"

// Metrics contains all pipeline metrics.
type Metrics struct {
	LinesTotal            prometheus.Counter
	UnclassifiedTotal     prometheus.Counter
	DecodeErrorsTotal     *prometheus.CounterVec
	DispatchedTotal       *prometheus.CounterVec
	CallbackFailuresTotal *prometheus.CounterVec
	ReadErrorsTotal       prometheus.Counter
	ReopenAttemptsTotal   prometheus.Counter
	ReaderOpen            prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the metrics and registers them, with Go runtime collectors,
// on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		LinesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "lines_total",
			Help:      "Total number of non-empty lines read from the serial port",
		}),
		UnclassifiedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "unclassified_total",
			Help:      "Total number of lines that matched no classification rule",
		}),
		DecodeErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "errors_total",
			Help:      "Total number of classified lines that failed to decode",
		}, []string{"kind"}),
		DispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "payloads_total",
			Help:      "Total number of decoded payloads dispatched",
		}, []string{"kind"}),
		CallbackFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "callback_failures_total",
			Help:      "Total number of subscriber callbacks that returned an error or panicked",
		}, []string{"kind"}),
		ReadErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "read_errors_total",
			Help:      "Total number of read faults that closed the serial port",
		}),
		ReopenAttemptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "reopen_attempts_total",
			Help:      "Total number of attempts to reopen a closed serial port",
		}),
		ReaderOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "open",
			Help:      "Serial port state (0=closed, 1=open)",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.LinesTotal,
		m.UnclassifiedTotal,
		m.DecodeErrorsTotal,
		m.DispatchedTotal,
		m.CallbackFailuresTotal,
		m.ReadErrorsTotal,
		m.ReopenAttemptsTotal,
		m.ReaderOpen,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetOpen records the reader state.
func (m *Metrics) SetOpen(open bool) {
	if open {
		m.ReaderOpen.Set(1)
		return
	}
	m.ReaderOpen.Set(0)
}
