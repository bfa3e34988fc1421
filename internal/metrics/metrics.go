// Package metrics provides Prometheus instrumentation for the SABR engine.
package metrics

import (
	"bufio"
	"fmt"
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
	// CalibrationsTotal counts slice calibrations, partitioned by mode and outcome
	// ("converged", "not_converged", "error").
	CalibrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sabr_calibrations_total",
		Help: "Total number of slice calibrations",
	}, []string{"mode", "outcome"})

	CalibrationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sabr_calibration_duration_seconds",
		Help:    "Per-slice calibration time in seconds",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"mode"})

	// CalibrationLoss records the final sum of squared residuals.
	CalibrationLoss = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sabr_calibration_loss",
		Help:    "Final calibration loss (sum of squared residuals)",
		Buckets: prometheus.ExponentialBuckets(1e-14, 100, 8),
	}, []string{"mode"})

	// PricingsTotal counts priced instruments by kind.
	PricingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sabr_pricings_total",
		Help: "Total number of instruments priced",
	}, []string{"instrument"})

	// FallbackLegs counts cap/floor legs priced with fallback parameters.
	FallbackLegs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sabr_fallback_legs_total",
		Help: "Cap/floor legs priced with fallback SABR parameters",
	})

	// Workspaces tracks workspaces created since start.
	Workspaces = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sabr_workspaces_created_total",
		Help: "Workspaces created",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sabr_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sabr_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sabr_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCalibration records one slice outcome.
func ObserveCalibration(mode string, converged bool, failed bool, loss float64, d time.Duration) {
	outcome := "converged"
	switch {
	case failed:
		outcome = "error"
	case !converged:
		outcome = "not_converged"
	}
	CalibrationsTotal.WithLabelValues(mode, outcome).Inc()
	CalibrationDuration.WithLabelValues(mode).Observe(d.Seconds())
	if !failed {
		CalibrationLoss.WithLabelValues(mode).Observe(loss)
	}
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: %T does not implement http.Hijacker", w.ResponseWriter)
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
