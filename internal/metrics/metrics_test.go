package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCallMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CallStarted()
	m.CallStarted()
	m.CallStarted()
	m.CallEnded("answered", 42)
	m.CallEnded("missed", 0)
	m.CallDiscarded()

	if got := testutil.ToFloat64(m.ActiveCalls); got != 0 {
		t.Errorf("active calls = %v, want 0", got)
	}

	expected := `
		# HELP messenger_calls_ended_total Terminal call transitions by outcome
		# TYPE messenger_calls_ended_total counter
		messenger_calls_ended_total{outcome="answered"} 1
		messenger_calls_ended_total{outcome="missed"} 1
	`
	if err := testutil.CollectAndCompare(m.CallsEnded, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
	if count := testutil.CollectAndCount(m.CallDuration); count != 1 {
		t.Errorf("duration histogram count = %d, want 1", count)
	}
}

func TestNotificationMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordNotification("message", nil)
	m.RecordNotification("message", errors.New("unreachable"))
	m.RecordNotification("incoming_call", nil)

	if got := testutil.ToFloat64(m.Notifications.WithLabelValues("message", "error")); got != 1 {
		t.Errorf("message errors = %v, want 1", got)
	}
	if count := testutil.CollectAndCount(m.Notifications); count != 3 {
		t.Errorf("label combinations = %d, want 3", count)
	}
}

func TestConnectionGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	if got := testutil.ToFloat64(m.ActiveConnections); got != 1 {
		t.Errorf("active connections = %v, want 1", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ConnectionOpened()
	m.RecordAdmission("access")
	m.CallStarted()
	m.CallEnded("answered", 1)
	m.RecordMessage(true)
	m.RecordNotification("message", nil)
}
