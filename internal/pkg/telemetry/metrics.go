package telemetry

// SLI metric names used for instrumentation.
const (
	// Latency
	MetricAPILatencyP50 = "api.latency.p50"
	MetricAPILatencyP95 = "api.latency.p95"
	MetricAPILatencyP99 = "api.latency.p99"

	// Throughput
	MetricRequestsPerSec = "api.requests_per_second"

	// Guess pipeline
	MetricRoundDuration    = "round.duration_seconds"
	MetricInferenceLatency = "inference.latency_seconds"
	MetricGuessErrorKm     = "round.guess_error_km"

	// Availability
	MetricUptime = "service.uptime_percentage"

	// Business
	MetricRoundsAnswered = "business.rounds_answered"
	MetricScorePerRound  = "business.score_per_round"
)
