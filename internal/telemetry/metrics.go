package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	// ---- Liveness ----
	PeersTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pingparty",
			Name:      "peers_tracked",
			Help:      "Number of peers currently inside their heartbeat window.",
		},
	)

	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pingparty",
			Name:      "heartbeats_total",
			Help:      "Heartbeats observed, split by whether the peer was new.",
		},
		[]string{"peer"}, // "new" | "refresh"
	)

	EvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pingparty",
			Name:      "evictions_total",
			Help:      "Peers evicted after missing their deadline.",
		},
	)

	EvictionRacesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pingparty",
			Name:      "eviction_races_total",
			Help:      "Evictions skipped because the peer was refreshed concurrently.",
		},
	)

	// ---- Wire ----
	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pingparty",
			Name:      "messages_received_total",
			Help:      "Decoded datagrams by message kind.",
		},
		[]string{"kind"},
	)

	DecodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pingparty",
			Name:      "decode_errors_total",
			Help:      "Datagrams dropped because they could not be decoded.",
		},
	)

	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pingparty",
			Name:      "messages_sent_total",
			Help:      "Datagrams sent by operation.",
		},
		[]string{"op"}, // "announce" | "reply"
	)

	SendErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pingparty",
			Name:      "send_errors_total",
			Help:      "Failed datagram sends by operation.",
		},
		[]string{"op"},
	)

	// ---- Admin HTTP ----
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pingparty",
			Name:      "requests_total",
			Help:      "Total number of admin HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pingparty",
			Name:      "request_duration_seconds",
			Help:      "Latency of admin HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pingparty",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and instance).",
		},
		[]string{"version", "instance"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "pingparty",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		PeersTracked, HeartbeatsTotal, EvictionsTotal, EvictionRacesTotal,
		MessagesReceived, DecodeErrors, MessagesSent, SendErrors,
		RequestsTotal, RequestDuration, buildInfo, uptime,
	)
}

// MetricsHandler exposes the registry. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup.
func SetBuildInfo(version, instance string) {
	buildInfo.WithLabelValues(version, instance).Set(1)
}

// ---- Middleware instrumentation ----

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
//
//	mux.Handle("/peers", telemetry.Instrument("peers", http.HandlerFunc(n.Peers)))
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
