// Package metrics exposes the service's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "messenger"

// Metrics holds every collector of the service.
type Metrics struct {
	// ActiveConnections is the number of admitted websocket connections.
	ActiveConnections prometheus.Gauge

	// Admissions counts connection attempts.
	// Labels: result (access|refresh|rejected)
	Admissions *prometheus.CounterVec

	// TokenRefreshes counts access token re-mints.
	// Labels: trigger (periodic|on_demand), status (success|error)
	TokenRefreshes *prometheus.CounterVec

	// ActiveCalls is the number of in-flight call sessions.
	ActiveCalls prometheus.Gauge

	// CallsEnded counts terminal call transitions.
	// Labels: outcome (answered|rejected|missed)
	CallsEnded *prometheus.CounterVec

	// CallDuration measures answered call duration in seconds.
	CallDuration prometheus.Histogram

	// SignalingEvents counts handled call frames.
	// Labels: type, result (ok|error|dropped)
	SignalingEvents *prometheus.CounterVec

	// Messages counts relayed chat messages.
	// Labels: delivery (online|offline)
	Messages *prometheus.CounterVec

	// Notifications counts push dispatches.
	// Labels: kind (message|incoming_call|missed_call), status (success|error)
	Notifications *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of admitted websocket connections",
		}),
		Admissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Connection admission attempts by result",
		}, []string{"result"}),
		TokenRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Access token re-mints by trigger and status",
		}, []string{"trigger", "status"}),
		ActiveCalls: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of in-flight call sessions",
		}),
		CallsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_ended_total",
			Help:      "Terminal call transitions by outcome",
		}, []string{"outcome"}),
		CallDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Duration of answered calls in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		SignalingEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_events_total",
			Help:      "Handled call signaling frames by type and result",
		}, []string{"type", "result"}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Relayed chat messages by delivery",
		}, []string{"delivery"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Push notification dispatches by kind and status",
		}, []string{"kind", "status"}),
	}
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

func (m *Metrics) RecordAdmission(result string) {
	if m == nil {
		return
	}
	m.Admissions.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordTokenRefresh(trigger string, err error) {
	if m == nil {
		return
	}
	m.TokenRefreshes.WithLabelValues(trigger, status(err)).Inc()
}

func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.ActiveCalls.Inc()
}

// CallEnded records a terminal transition. answered calls also observe
// their duration.
func (m *Metrics) CallEnded(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ActiveCalls.Dec()
	m.CallsEnded.WithLabelValues(outcome).Inc()
	if outcome == "answered" {
		m.CallDuration.Observe(durationSeconds)
	}
}

// CallDiscarded records a session that left the table without a history
// record.
func (m *Metrics) CallDiscarded() {
	if m == nil {
		return
	}
	m.ActiveCalls.Dec()
}

func (m *Metrics) RecordSignaling(msgType, result string) {
	if m == nil {
		return
	}
	m.SignalingEvents.WithLabelValues(msgType, result).Inc()
}

func (m *Metrics) RecordMessage(online bool) {
	if m == nil {
		return
	}
	delivery := "offline"
	if online {
		delivery = "online"
	}
	m.Messages.WithLabelValues(delivery).Inc()
}

func (m *Metrics) RecordNotification(kind string, err error) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
