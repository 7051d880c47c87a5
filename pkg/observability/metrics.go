package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	sessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "duet_session_state",
			Help: "Current lifecycle state of each agent session (0=disconnected .. 4=active)",
		},
		[]string{"agent"},
	)

	connectAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_connect_attempts_total",
			Help: "Total number of channel connect attempts",
		},
		[]string{"agent", "status"},
	)

	authFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_auth_failures_total",
			Help: "Total number of fatal authentication failures",
		},
		[]string{"agent"},
	)

	// Message metrics
	messagesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_messages_received_total",
			Help: "Total number of chat messages dispatched to reply logic",
		},
		[]string{"agent"},
	)

	messagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_messages_sent_total",
			Help: "Total number of chat messages sent",
		},
		[]string{"agent"},
	)

	repliesSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_replies_skipped_total",
			Help: "Total number of incoming messages left unanswered",
		},
		[]string{"agent", "reason"},
	)

	// Generation metrics
	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duet_generation_duration_seconds",
			Help:    "Text completion latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	generationFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_generation_fallbacks_total",
			Help: "Total number of canned lines used instead of generated text",
		},
		[]string{"reason"},
	)

	// System metrics
	replyTasksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "duet_reply_tasks_in_flight",
			Help: "Number of reply tasks currently running",
		},
	)

	partnerRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "duet_partner_records",
			Help: "Number of partner memory records held in memory",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the metrics with the default registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			sessionState,
			connectAttemptsTotal,
			authFailuresTotal,
			messagesReceivedTotal,
			messagesSentTotal,
			repliesSkippedTotal,
			generationDuration,
			generationFallbacksTotal,
			replyTasksInFlight,
			partnerRecords,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// SetSessionState records the numeric lifecycle state of an agent.
func SetSessionState(agent string, state int) {
	sessionState.WithLabelValues(agent).Set(float64(state))
}

// RecordConnectAttempt counts a connect attempt with its outcome.
func RecordConnectAttempt(agent, status string) {
	connectAttemptsTotal.WithLabelValues(agent, status).Inc()
}

// RecordAuthFailure counts a fatal authentication failure.
func RecordAuthFailure(agent string) {
	authFailuresTotal.WithLabelValues(agent).Inc()
}

// RecordMessageReceived counts an inbound chat message.
func RecordMessageReceived(agent string) {
	messagesReceivedTotal.WithLabelValues(agent).Inc()
}

// RecordMessageSent counts an outbound chat message.
func RecordMessageSent(agent string) {
	messagesSentTotal.WithLabelValues(agent).Inc()
}

// RecordReplySkipped counts an unanswered message and why.
func RecordReplySkipped(agent, reason string) {
	repliesSkippedTotal.WithLabelValues(agent, reason).Inc()
}

// RecordGeneration records completion latency.
func RecordGeneration(status string, duration time.Duration) {
	generationDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordFallback counts a canned substitution.
func RecordFallback(reason string) {
	generationFallbacksTotal.WithLabelValues(reason).Inc()
}

// SetReplyTasksInFlight sets the in-flight reply task gauge.
func SetReplyTasksInFlight(n int) {
	replyTasksInFlight.Set(float64(n))
}

// SetPartnerRecords sets the partner record gauge.
func SetPartnerRecords(n int) {
	partnerRecords.Set(float64(n))
}
