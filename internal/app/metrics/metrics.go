package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raffle_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "raffle_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	entriesAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "raffle",
			Name:      "entries_accepted_total",
			Help:      "Total number of accepted raffle entries.",
		},
	)

	entriesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "raffle",
			Name:      "entries_rejected_total",
			Help:      "Total number of rejected raffle entries.",
		},
		[]string{"reason"},
	)

	roundsClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "raffle",
			Name:      "rounds_closed_total",
			Help:      "Total number of rounds moved to the calculating state.",
		},
	)

	roundsResolved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "raffle",
			Name:      "rounds_resolved_total",
			Help:      "Total number of rounds resolved with a winner paid out.",
		},
	)

	payoutFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "raffle",
			Name:      "payout_failures_total",
			Help:      "Total number of winner payouts reported failed by the ledger.",
		},
	)

	resolutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "raffle_layer",
			Subsystem: "raffle",
			Name:      "resolution_duration_seconds",
			Help:      "Duration of winner resolution including payout.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		entriesAccepted,
		entriesRejected,
		roundsClosed,
		roundsResolved,
		payoutFailures,
		resolutionDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordEntryAccepted counts an accepted raffle entry.
func RecordEntryAccepted() {
	entriesAccepted.Inc()
}

// RecordEntryRejected counts a rejected raffle entry by reason.
func RecordEntryRejected(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	entriesRejected.WithLabelValues(reason).Inc()
}

// RecordRoundClosed counts a successful OPEN to CALCULATING transition.
func RecordRoundClosed() {
	roundsClosed.Inc()
}

// RecordRoundResolved records a completed resolution with its duration.
func RecordRoundResolved(duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	roundsResolved.Inc()
	resolutionDuration.Observe(duration.Seconds())
}

// RecordPayoutFailure counts a ledger transfer failure during resolution.
func RecordPayoutFailure() {
	payoutFailures.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 {
		return "/"
	}
	if parts[0] != "rounds" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/rounds"
	}
	return "/rounds/:id"
}
