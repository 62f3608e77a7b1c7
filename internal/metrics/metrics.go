// Package metrics exports Prometheus collectors for generation and HTTP
// traffic. Collectors register with the default registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/samcharles93/wavvy/internal/chat"
	"github.com/samcharles93/wavvy/internal/inference"
)

const namespace = "wavvy"

var (
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "total",
			Help:      "Generations that ended, by finish reason or error kind.",
		},
		[]string{"variant", "outcome"},
	)
	tokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "tokens_total",
			Help:      "Prompt and completion tokens processed.",
		},
		[]string{"variant", "type"},
	)
	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Wall time from prompt ingestion to the final token.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"variant"},
	)
	promptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "prompt_duration_seconds",
			Help:      "Time spent ingesting the prompt.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"variant"},
	)
	tokensPerSecond = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "tokens_per_second",
			Help:      "Decode throughput of completed generations.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"variant"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(generationsTotal)
	prometheus.MustRegister(tokensTotal)
	prometheus.MustRegister(generationDuration)
	prometheus.MustRegister(promptDuration)
	prometheus.MustRegister(tokensPerSecond)
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
}

// Observer records generation outcomes. It satisfies inference.Observer.
type Observer struct{}

func (Observer) ObserveGeneration(v chat.Variant, stats inference.Stats, finish string, err error) {
	RecordGeneration(v, stats, finish, err)
}

// RecordGeneration records one finished or failed generation. Failures are
// labelled with their error kind instead of a finish reason.
func RecordGeneration(v chat.Variant, stats inference.Stats, finish string, err error) {
	variant := v.String()
	outcome := finish
	if err != nil {
		outcome = inference.Kind(err)
	}
	generationsTotal.WithLabelValues(variant, outcome).Inc()
	tokensTotal.WithLabelValues(variant, "prompt").Add(float64(stats.PromptTokens))
	tokensTotal.WithLabelValues(variant, "completion").Add(float64(stats.TokensGenerated))
	if err != nil {
		return
	}
	promptDuration.WithLabelValues(variant).Observe(stats.PromptDuration.Seconds())
	generationDuration.WithLabelValues(variant).Observe(stats.Duration.Seconds())
	if stats.TPS > 0 {
		tokensPerSecond.WithLabelValues(variant).Observe(stats.TPS)
	}
}

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(method, path string, status int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// Middleware records request counts and latency for next. Paths outside
// routes are labelled "other" to bound label cardinality.
func Middleware(routes []string, next http.Handler) http.Handler {
	known := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		known[r] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if _, ok := known[path]; !ok {
			path = "other"
		}
		RecordHTTPRequest(r.Method, path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

// Flush keeps server-sent event streams working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
