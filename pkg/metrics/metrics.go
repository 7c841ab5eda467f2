// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// PinsCurrent tracks pins held in memory per partition.
	PinsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pins_current",
			Help: "Pins currently held by the pin store",
		},
		[]string{"partition"},
	)

	// SessionsCurrent tracks chat sessions held in memory.
	SessionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_sessions_current",
			Help: "Chat sessions currently held by the chat history store",
		},
	)

	// TripsCurrent tracks trips held in memory.
	TripsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trips_current",
			Help: "Trips currently held by the trip store",
		},
	)

	// SessionSyncTotal tracks remote sync attempts.
	SessionSyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_session_sync_total",
			Help: "Chat session sync attempts",
		},
		[]string{"operation", "status"},
	)

	// PersistWritesTotal tracks snapshot writes to the durable key-value store.
	PersistWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_persist_writes_total",
			Help: "Snapshot writes to durable storage",
		},
		[]string{"store", "status"},
	)

	// RemoteRequestDuration tracks calls to remote collaborators.
	RemoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remote_request_duration_seconds",
			Help:    "Remote collaborator call duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation", "status"},
	)

	// StoreEventsTotal tracks store events handed to the event publisher.
	StoreEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_events_total",
			Help: "Store events published",
		},
		[]string{"type", "status"},
	)

	// GuideRepliesTotal tracks guide replies by responder.
	GuideRepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guide_replies_total",
			Help: "Guide replies by responder and outcome",
		},
		[]string{"responder", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordRemote records metrics for a remote collaborator call.
func RecordRemote(operation, status string, duration float64) {
	RemoteRequestDuration.WithLabelValues(operation, status).Observe(duration)
}

// RecordSync records the outcome of a session sync.
func RecordSync(operation string, ok bool) {
	SessionSyncTotal.WithLabelValues(operation, outcome(ok)).Inc()
}

// RecordPersist records the outcome of a snapshot write.
func RecordPersist(store string, ok bool) {
	PersistWritesTotal.WithLabelValues(store, outcome(ok)).Inc()
}

// SetPins updates the per-partition pin gauges.
func SetPins(wantToGo, events int) {
	PinsCurrent.WithLabelValues("wantToGo").Set(float64(wantToGo))
	PinsCurrent.WithLabelValues("events").Set(float64(events))
}

// RecordLLM records token usage of an LLM completion.
func RecordLLM(model string, tokensIn, tokensOut int) {
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
