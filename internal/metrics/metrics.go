// Package metrics provides Prometheus instrumentation for the Chronolend
// protocol.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chronolend",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chronolend",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// LoansIssuedTotal counts issued loans by token type.
	LoansIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chronolend",
			Name:      "loans_issued_total",
			Help:      "Total loans issued by token type.",
		},
		[]string{"token"},
	)

	// LoansRepaidTotal counts repaid loans by lateness class.
	LoansRepaidTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chronolend",
			Name:      "loans_repaid_total",
			Help:      "Total loans repaid, labelled on_time or late.",
		},
		[]string{"timing"},
	)

	// LoansForfeitedTotal counts forfeited loans.
	LoansForfeitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chronolend",
		Name:      "loans_forfeited_total",
		Help:      "Total loans forfeited to the protocol.",
	})

	// PenaltiesAppliedTotal counts non-zero late penalties retained.
	PenaltiesAppliedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chronolend",
		Name:      "penalties_applied_total",
		Help:      "Total late-repayment penalties retained from collateral.",
	})

	// ActiveLoans tracks the number of currently active loans.
	ActiveLoans = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chronolend",
		Name:      "active_loans",
		Help:      "Number of currently active loans.",
	})

	// PredictionsTotal counts chronotype classifier calls by result.
	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chronolend",
			Name:      "chronotype_predictions_total",
			Help:      "Total chronotype classifier calls by result.",
		},
		[]string{"result"},
	)

	// LoanDuration observes time from issuance to resolution.
	LoanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chronolend",
		Name:      "loan_duration_seconds",
		Help:      "Time from loan issuance to resolution in seconds.",
		Buckets:   []float64{3600, 86400, 604800, 1296000, 2592000, 3456000, 5184000},
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chronolend",
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chronolend", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chronolend", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chronolend", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chronolend", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		LoansIssuedTotal,
		LoansRepaidTotal,
		LoansForfeitedTotal,
		PenaltiesAppliedTotal,
		ActiveLoans,
		PredictionsTotal,
		LoanDuration,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
