package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Histogram: gateway HTTP latency in seconds, labeled by route pattern.
	GatewayLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_latency_seconds",
			Help:    "HTTP request latency for the gateway in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"route", "method", "status_code"},
	)

	// Counter: Responses calls by tier, mode (stream|non_stream) and outcome.
	ResponsesRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "responses_requests_total",
			Help: "Total number of Responses-protocol calls.",
		},
		[]string{"tier", "mode", "outcome"},
	)

	ResponsesStreamEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "responses_stream_events_total",
			Help: "Total number of Responses lifecycle events written to clients.",
		},
		[]string{"type"},
	)

	// Counter: upstream failures by kind (transport|status|decode).
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_errors_total",
			Help: "Total number of failed upstream calls.",
		},
		[]string{"kind"},
	)

	CatalogModels = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalog_models",
			Help: "Number of models currently admitted per tier.",
		},
		[]string{"tier"},
	)

	CatalogRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_refresh_total",
			Help: "Total number of catalog refreshes by kind (full|diff) and result.",
		},
		[]string{"kind", "result"},
	)

	SnapshotStoreOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_store_ops_total",
			Help: "Total number of snapshot store operations by op and result.",
		},
		[]string{"op", "result"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		GatewayLatencySeconds,
		ResponsesRequestsTotal,
		ResponsesStreamEventsTotal,
		UpstreamErrorsTotal,
		CatalogModels,
		CatalogRefreshTotal,
		SnapshotStoreOpsTotal,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures gateway latency for each HTTP request. The route label
// is the matched chi pattern so path parameters do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// capture status code
		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		GatewayLatencySeconds.
			WithLabelValues(route, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.statusCode = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

// Flush keeps SSE responses streaming through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: underlying ResponseWriter does not support hijacking")
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
