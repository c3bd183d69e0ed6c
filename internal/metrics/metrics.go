// Package metrics provides Prometheus instrumentation for the trading
// simulation services.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PurchasesTotal counts resolved purchase requests by outcome.
	PurchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksim_purchases_total",
		Help: "Purchase requests resolved, by outcome",
	}, []string{"outcome"})

	// MarketEventsTotal counts applied market events by kind.
	MarketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksim_market_events_total",
		Help: "Market events applied to the stock ledger",
	}, []string{"kind"})

	// BusMessagesTotal counts bus traffic by topic and handling result.
	BusMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksim_bus_messages_total",
		Help: "Bus messages processed, by topic and result",
	}, []string{"topic", "result"})

	// EstimationQueueDepth tracks the pending estimation jobs.
	EstimationQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stocksim_estimation_queue_depth",
		Help: "Estimation jobs waiting in the queue",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksim_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stocksim_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware instruments every request with a counter and a duration
// histogram, labeled by the chi route pattern rather than the raw path.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		path := r.URL.Path
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(recorder.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
