package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"manulmonday/economy/internal/model"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "manul_economy",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "manul_economy",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "manul_economy",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	economyOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "manul_economy",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by outcome.",
		},
		[]string{"operation", "result"},
	)

	economyRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "manul_economy",
			Subsystem: "ledger",
			Name:      "transient_retries_total",
			Help:      "Attempts repeated after a transient store error.",
		},
		[]string{"operation"},
	)

	currencyMoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "manul_economy",
			Subsystem: "ledger",
			Name:      "currency_total",
			Help:      "Currency spent on purchases or paid out as quiz rewards.",
		},
		[]string{"direction"},
	)

	catalogSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "manul_economy",
			Subsystem: "catalog",
			Name:      "syncs_total",
			Help:      "Catalog syncs from the content API.",
		},
		[]string{"result"},
	)

	catalogCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "manul_economy",
			Subsystem: "catalog",
			Name:      "cache_lookups_total",
			Help:      "Catalog cache lookups by outcome.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		economyOperations,
		economyRetries,
		currencyMoved,
		catalogSyncs,
		catalogCache,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Result maps an operation error onto a low-cardinality label.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrAlreadyOwned):
		return "already_owned"
	case errors.Is(err, model.ErrAlreadyCompleted):
		return "already_completed"
	case errors.Is(err, model.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, model.ErrSubscriberOnly):
		return "subscriber_only"
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, model.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, model.ErrNotOwned):
		return "not_owned"
	case errors.Is(err, model.ErrIdempotencyConflict):
		return "idempotency_conflict"
	case errors.Is(err, model.ErrTransientStore):
		return "transient"
	default:
		return "error"
	}
}

func RecordOperation(operation string, err error) {
	economyOperations.WithLabelValues(operation, Result(err)).Inc()
}

func RecordRetry(operation string) {
	economyRetries.WithLabelValues(operation).Inc()
}

func RecordSpend(amount int64) {
	if amount > 0 {
		currencyMoved.WithLabelValues("spent").Add(float64(amount))
	}
}

func RecordReward(amount int64) {
	if amount > 0 {
		currencyMoved.WithLabelValues("rewarded").Add(float64(amount))
	}
}

func RecordSync(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	catalogSyncs.WithLabelValues(result).Inc()
}

func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	catalogCache.WithLabelValues(result).Inc()
}
