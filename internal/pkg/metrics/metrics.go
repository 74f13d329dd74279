package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plonk",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "plonk",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "plonk",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Guess pipeline metrics
	RoundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plonk",
		Subsystem: "round",
		Name:      "completed_total",
		Help:      "Rounds finished, by terminal status",
	}, []string{"status"})

	RoundTurns = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "plonk",
		Subsystem: "round",
		Name:      "turns",
		Help:      "Exploration turns used per round",
		Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10, 15},
	})

	GuessDistanceKm = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "plonk",
		Subsystem: "round",
		Name:      "guess_distance_km",
		Help:      "Great-circle error of submitted guesses",
		Buckets:   []float64{1, 5, 25, 100, 250, 500, 1000, 2500, 5000, 10000},
	})

	GuessScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "plonk",
		Subsystem: "round",
		Name:      "score_points",
		Help:      "Game score of submitted guesses",
		Buckets:   []float64{0, 500, 1000, 2000, 3000, 4000, 4500, 4900, 5000},
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "plonk",
		Subsystem: "inference",
		Name:      "duration_seconds",
		Help:      "Latency of inference backend calls",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"backend"})

	InferenceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plonk",
		Subsystem: "inference",
		Name:      "errors_total",
		Help:      "Inference call failures by classified kind",
	}, []string{"backend", "kind"})

	GateWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "plonk",
		Subsystem: "inference",
		Name:      "gate_wait_seconds",
		Help:      "Time spent waiting on the shared rate-limit gate",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
	})

	DriverActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plonk",
		Subsystem: "driver",
		Name:      "actions_total",
		Help:      "Driver operations performed, by kind",
	}, []string{"action"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "plonk",
		Subsystem: "session",
		Name:      "active",
		Help:      "Sessions currently being played",
	})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "plonk",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plonk",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plonk",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "plonk",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "plonk",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "plonk",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// UpdateDBPoolMetrics updates database pool metrics from pgx pool stats.
// Uses a small interface to keep pgxpool out of this package.
func UpdateDBPoolMetrics(stat interface{}) {
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
	}
}
