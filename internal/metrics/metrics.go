// Package metrics provides Prometheus instrumentation for the balance engine.
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
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PassesTotal counts balancing passes by pass name and result
	// (ok, skipped, error).
	PassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "balance_passes_total",
		Help: "Total number of balancing passes",
	}, []string{"pass", "result"})

	// PassDuration tracks how long each completed pass took.
	PassDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "balance_pass_duration_seconds",
		Help:    "Balancing pass duration in seconds",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"pass"})

	// TrackedFactions is the population size seen by the last power pass.
	TrackedFactions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "balance_tracked_factions",
		Help: "Number of factions in the last population snapshot",
	})

	// PopulationMean and PopulationStdDev mirror the current PopulationStats.
	PopulationMean = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "balance_population_power_mean",
		Help: "Mean accumulated power across factions",
	})
	PopulationStdDev = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "balance_population_power_stddev",
		Help: "Standard deviation of accumulated power across factions",
	})

	// FactionsByClassification counts factions per classification after the
	// last power pass.
	FactionsByClassification = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "balance_factions_by_classification",
		Help: "Factions per classification (normal, overpowered, underpowered)",
	}, []string{"classification"})

	// IncomeCorrections counts multiplier changes by reason.
	IncomeCorrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "balance_income_corrections_total",
		Help: "Income multiplier corrections applied",
	}, []string{"reason"})

	// TransactionsTotal counts reported market transactions by side.
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "balance_market_transactions_total",
		Help: "Market transactions reported",
	}, []string{"side"})

	// MarketCorrections counts prices nudged toward the cross-region average.
	MarketCorrections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "balance_market_corrections_total",
		Help: "Regional prices damped toward the cross-region average",
	})

	// RegionPrice is the latest computed price per region and class.
	RegionPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "balance_region_price",
		Help: "Current regional price of a resource class",
	}, []string{"region", "class"})

	// NotificationsTotal counts notification deliveries by sink and result.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "balance_notifications_total",
		Help: "Faction notifications by sink and result",
	}, []string{"sink", "result"})

	// PersistenceErrors counts failed record saves and loads.
	PersistenceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "balance_persistence_errors_total",
		Help: "Record persistence failures",
	}, []string{"op"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "balance_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "balance_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "balance_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Faction, region and class ids live in the path; label by route
		// pattern once chi has resolved it.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
