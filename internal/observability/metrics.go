package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransferBytes tracks bytes transferred during a migration's file
	// transfer step.
	TransferBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migration_control_transfer_bytes_total",
			Help: "Total bytes transferred during migrations",
		},
		[]string{"session_id", "direction"},
	)

	// TransferDuration tracks file-transfer step duration.
	TransferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "migration_control_transfer_duration_seconds",
			Help:    "Duration of migration file transfers",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 15), // 0.1s to ~27 minutes
		},
		[]string{"status"},
	)

	// ActiveSessions tracks currently running migration sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "migration_control_active_sessions",
			Help: "Number of currently active migration sessions",
		},
	)

	// SessionStatus tracks migration session outcomes.
	SessionStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migration_control_sessions_total",
			Help: "Total number of migration sessions by terminal status",
		},
		[]string{"status"},
	)

	// StepDuration tracks per-step execution latency.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "migration_control_step_duration_seconds",
			Help:    "Duration of individual migration steps",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 16),
		},
		[]string{"step_id", "status"},
	)

	// StepOutcome tracks step completion/failure counts.
	StepOutcome = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migration_control_step_outcomes_total",
			Help: "Total number of migration step outcomes",
		},
		[]string{"step_id", "status"},
	)

	// PoolInFlight tracks worker-pool concurrency utilization.
	PoolInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "migration_control_pool_in_flight",
			Help: "Number of tasks currently executing in the worker pool",
		},
	)

	// PoolQueueDepth tracks queued-but-not-yet-running pool tasks.
	PoolQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "migration_control_pool_queue_depth",
			Help: "Number of tasks waiting for a worker pool slot",
		},
	)

	// ProgressUpdates tracks ProgressTracker update volume.
	ProgressUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migration_control_progress_updates_total",
			Help: "Total number of progress updates recorded",
		},
		[]string{"session_id", "unit"},
	)

	// PerfSamples tracks perfmon sample collection counts.
	PerfSamples = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migration_control_perf_samples_total",
			Help: "Total number of performance monitor samples collected",
		},
		[]string{"metric"},
	)

	// HybridDispatch tracks HybridEngine backend selection.
	HybridDispatch = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migration_control_hybrid_dispatch_total",
			Help: "Total number of hybrid engine operations by backend and outcome",
		},
		[]string{"operation", "backend", "status"},
	)

	// ChecksumVerifications tracks checksum verification results.
	ChecksumVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migration_control_checksum_verifications_total",
			Help: "Total number of checksum verifications",
		},
		[]string{"algorithm", "result"},
	)

	// RetryAttempts tracks retry attempts for failed steps.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migration_control_retry_attempts_total",
			Help: "Total number of step retry attempts",
		},
		[]string{"step_id", "outcome"},
	)

	// AuthRequests tracks AuthGate authentication outcomes.
	AuthRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migration_control_auth_requests_total",
			Help: "Total number of authentication attempts by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	// RateLimited tracks requests rejected by the AuthGate rate limiter.
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migration_control_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"client_id"},
	)

	// ReportsGenerated tracks report generation by kind and format.
	ReportsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migration_control_reports_generated_total",
			Help: "Total number of reports generated",
		},
		[]string{"kind", "format"},
	)
)

// Metrics provides access to all application metrics as methods, so
// callers don't reach for the package-level vectors directly.
type Metrics struct{}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordTransfer records bytes moved during a session's transfer step.
func (m *Metrics) RecordTransfer(sessionID, direction string, bytes float64) {
	TransferBytes.WithLabelValues(sessionID, direction).Add(bytes)
}

// RecordSessionOutcome records a migration session's terminal status.
func (m *Metrics) RecordSessionOutcome(status string) {
	SessionStatus.WithLabelValues(status).Inc()
}

// RecordStep records a step's outcome and duration.
func (m *Metrics) RecordStep(stepID, status string, seconds float64) {
	StepOutcome.WithLabelValues(stepID, status).Inc()
	StepDuration.WithLabelValues(stepID, status).Observe(seconds)
}

// SetActiveSessions sets the number of active migration sessions.
func (m *Metrics) SetActiveSessions(count float64) {
	ActiveSessions.Set(count)
}

// SetPoolUtilization sets current worker-pool in-flight and queued counts.
func (m *Metrics) SetPoolUtilization(inFlight, queued float64) {
	PoolInFlight.Set(inFlight)
	PoolQueueDepth.Set(queued)
}

// RecordAuthRequest records an authentication attempt's method and outcome.
func (m *Metrics) RecordAuthRequest(method, outcome string) {
	AuthRequests.WithLabelValues(method, outcome).Inc()
}

// RecordHybridDispatch records a hybrid engine operation's backend and
// outcome.
func (m *Metrics) RecordHybridDispatch(operation, backend, status string) {
	HybridDispatch.WithLabelValues(operation, backend, status).Inc()
}
