// Package metrics exposes the Prometheus collectors a djlink peer process
// updates as it runs: devices tracked, beat cadence, dbserver query
// volume/latency, and connection-pool occupancy.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector a djlink peer registers. The zero value is
// not usable; construct with New.
type Metrics struct {
	DevicesTracked   prometheus.Gauge
	BeatsTotal       prometheus.Counter
	MasterChanges    prometheus.Counter
	QueriesInFlight  prometheus.Gauge
	QueryLatency     *prometheus.HistogramVec
	QueryErrorsTotal *prometheus.CounterVec
	ConnectionsOpen  prometheus.Gauge
	PortDiscoveries  *prometheus.CounterVec
}

// New creates and registers every collector against reg. Pass
// prometheus.NewRegistry() for an isolated registry (tests, multiple
// peers in one process) or nil to register against the default global
// registry (prometheus.DefaultRegisterer).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		DevicesTracked: factory.NewGauge(prometheus.GaugeOpts{
			Name: "djlink_devices_tracked",
			Help: "Number of Pro DJ Link devices currently in the device table.",
		}),
		BeatsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "djlink_beats_total",
			Help: "Total beat announcements observed by the Beat Finder.",
		}),
		MasterChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "djlink_master_changes_total",
			Help: "Total tempo master hand-offs observed.",
		}),
		QueriesInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "djlink_dbquery_in_flight",
			Help: "dbserver Query Engine requests currently awaiting a response.",
		}),
		QueryLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "djlink_dbquery_duration_seconds",
			Help:    "dbserver request/response latency by request type.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"request_type"}),
		QueryErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "djlink_dbquery_errors_total",
			Help: "dbserver requests that ended in an error, by request type.",
		}, []string{"request_type"}),
		ConnectionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "djlink_dbconn_pool_size",
			Help: "Pooled dbserver connections currently open.",
		}),
		PortDiscoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "djlink_port_discoveries_total",
			Help: "dbserver port-discovery attempts by outcome (found, not_ready, failed).",
		}, []string{"outcome"}),
	}
}

// ObserveQuery records one completed dbserver request's outcome and
// latency. Callers time the request themselves and pass the elapsed
// duration; this keeps Metrics free of any clock dependency.
func (m *Metrics) ObserveQuery(requestType string, elapsed time.Duration, err error) {
	m.QueryLatency.WithLabelValues(requestType).Observe(elapsed.Seconds())
	if err != nil {
		m.QueryErrorsTotal.WithLabelValues(requestType).Inc()
	}
}

// Handler returns an http.Handler serving this process's metrics in the
// Prometheus exposition format, for mounting on a debug mux.
func Handler() http.Handler {
	return promhttp.Handler()
}
