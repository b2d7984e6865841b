package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.DevicesTracked.Set(3)
	m.BeatsTotal.Inc()
	m.ConnectionsOpen.Set(2)
	m.PortDiscoveries.WithLabelValues("found").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"djlink_devices_tracked",
		"djlink_beats_total",
		"djlink_master_changes_total",
		"djlink_dbquery_in_flight",
		"djlink_dbquery_duration_seconds",
		"djlink_dbquery_errors_total",
		"djlink_dbconn_pool_size",
		"djlink_port_discoveries_total",
	} {
		if !names[want] {
			t.Errorf("missing registered metric %q", want)
		}
	}
}

func TestObserveQueryRecordsLatencyAndErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveQuery("menu", 10*time.Millisecond, nil)
	m.ObserveQuery("menu", 20*time.Millisecond, errSomething)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var latencyCount uint64
	var errorCount float64
	for _, f := range families {
		switch f.GetName() {
		case "djlink_dbquery_duration_seconds":
			for _, metric := range f.GetMetric() {
				latencyCount += metric.GetHistogram().GetSampleCount()
			}
		case "djlink_dbquery_errors_total":
			for _, metric := range f.GetMetric() {
				errorCount += metric.GetCounter().GetValue()
			}
		}
	}
	if latencyCount != 2 {
		t.Errorf("latency sample count = %d, want 2", latencyCount)
	}
	if errorCount != 1 {
		t.Errorf("error count = %v, want 1", errorCount)
	}
}

var errSomething = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
