// Package metrics exposes the operational counters and gauges for the
// alarm core, grounded on the teacher's package-level promauto pattern
// (client/doublezerod/internal/liveness/metrics.go,
// controlplane/telemetry/internal/metrics/metrics.go).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelClientID  = "client_id"
	LabelTransport = "transport"
	LabelReason    = "reason"
	LabelEvent     = "event"
)

var (
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alarmcore_queue_depth",
			Help: "Number of unacknowledged events currently queued per client",
		},
		[]string{LabelClientID},
	)

	TransportFailovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alarmcore_transport_failovers_total",
			Help: "Count of transitions from IP transport to phone fallback, per client",
		},
		[]string{LabelClientID},
	)

	AckLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "alarmcore_ack_latency_seconds",
			Help: "Time between sending an event and receiving its ACK",
		},
		[]string{LabelClientID, LabelTransport},
	)

	BreachTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alarmcore_breach_transitions_total",
			Help: "Count of TRIGGERED -> BREACH arming state transitions",
		},
		[]string{LabelClientID},
	)

	ReconcilerGaps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alarmcore_reconciler_gaps_total",
			Help: "Count of sequence gaps observed by the server reconciler (received seq > expected)",
		},
		[]string{LabelClientID},
	)

	ReconcilerDuplicates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alarmcore_reconciler_duplicates_total",
			Help: "Count of duplicate sequence numbers observed by the server reconciler (received seq < expected)",
		},
		[]string{LabelClientID},
	)

	HandlerDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alarmcore_handler_dispatches_total",
			Help: "Count of handler fires by event kind",
		},
		[]string{LabelEvent},
	)

	DecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alarmcore_decode_errors_total",
			Help: "Count of malformed datagrams or DTMF chunks dropped at decode",
		},
		[]string{LabelReason},
	)
)
