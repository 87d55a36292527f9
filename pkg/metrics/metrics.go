// Package metrics exposes the Prometheus collectors instrumenting the QAM
// engine's three monitoring loops (metric collection, SLA validation, alert
// dispatch) plus the deployment, execution, policy, reservation, and
// optimizer subsystems they drive.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeploymentsTotal counts deployment state-machine transitions.
	DeploymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deployments_total",
		Help: "Total number of deployment state transitions, labeled by resulting state.",
	}, []string{"state"})

	// DeploymentDuration records time spent in each deployment state.
	DeploymentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deployment_state_duration_seconds",
		Help:    "Time spent in a deployment state before transitioning out of it.",
		Buckets: prometheus.DefBuckets,
	}, []string{"state"})

	// ExecutionsTotal counts circuit executions by backend and outcome.
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executions_total",
		Help: "Total number of circuit executions, labeled by backend and status.",
	}, []string{"backend", "status"})

	// ExecutionDuration records wall-clock execution latency per backend.
	ExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "execution_duration_seconds",
		Help:    "Circuit execution duration, labeled by backend.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"backend"})

	// PolicyDecisionsTotal counts Policy Gate outcomes.
	PolicyDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policy_decisions_total",
		Help: "Total Policy Gate decisions, labeled by decision (allow, deny, approval_required).",
	}, []string{"decision"})

	// SanctionsBlocksTotal counts denials caused by sanctions screening hits.
	SanctionsBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sanctions_blocks_total",
		Help: "Total number of deployments blocked by sanctions screening.",
	})

	// SLAViolationsTotal counts Correctness SLA Engine violations by metric.
	SLAViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_violations_total",
		Help: "Total SLA violations, labeled by the metric that breached its threshold.",
	}, []string{"metric"})

	// ReservationDeniedTotal counts Resource Reservation denials due to pool
	// exhaustion.
	ReservationDeniedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservation_denied_total",
		Help: "Total number of resource reservation requests denied for insufficient capacity.",
	})

	// OptimizerAdaptationsTotal counts parameter adaptations applied by the
	// Adaptive Optimizer, labeled by algorithm.
	OptimizerAdaptationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optimizer_adaptations_total",
		Help: "Total number of parameter adaptations applied, labeled by learning algorithm.",
	}, []string{"algorithm"})

	// OptimizerRewardObserved records the reward signal fed back to the
	// learner.
	OptimizerRewardObserved = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "optimizer_reward_observed",
		Help:    "Reward values observed by the adaptive optimizer, labeled by algorithm.",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	}, []string{"algorithm"})

	// AuditChainBreaksTotal counts detected hash-chain integrity failures.
	AuditChainBreaksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_chain_breaks_total",
		Help: "Total number of audit hash-chain integrity breaks detected.",
	})

	// BackendCallsTotal counts outbound calls to quantum backend drivers.
	BackendCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_calls_total",
		Help: "Total backend driver calls, labeled by backend and status.",
	}, []string{"backend", "status"})

	// ConcurrentExecutionsRunning tracks in-flight circuit executions.
	ConcurrentExecutionsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "concurrent_executions_running",
		Help: "Number of circuit executions currently in flight.",
	})

	// AlertsProcessedTotal counts alerts generated by the Alert Manager.
	AlertsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alerts_processed_total",
		Help: "Total number of alerts processed by the alert manager.",
	})

	// AlertsSuppressedTotal counts alerts suppressed by deduplication,
	// labeled by suppression reason.
	AlertsSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alerts_suppressed_total",
		Help: "Total number of alerts suppressed, labeled by reason.",
	}, []string{"reason"})

	// WebhookRequestsTotal counts outbound notification deliveries.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_requests_total",
		Help: "Total notification delivery attempts, labeled by outcome.",
	}, []string{"status"})
)

// RecordDeployment increments the deployment transition counter for state.
func RecordDeployment(state string) {
	DeploymentsTotal.WithLabelValues(state).Inc()
}

// ObserveDeploymentDuration records how long a deployment spent in state.
func ObserveDeploymentDuration(state string, d time.Duration) {
	DeploymentDuration.WithLabelValues(state).Observe(d.Seconds())
}

// RecordExecution increments the execution counter for backend/status.
func RecordExecution(backend, status string) {
	ExecutionsTotal.WithLabelValues(backend, status).Inc()
}

// ObserveExecutionDuration records execution latency for backend.
func ObserveExecutionDuration(backend string, d time.Duration) {
	ExecutionDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordPolicyDecision increments the Policy Gate decision counter.
func RecordPolicyDecision(decision string) {
	PolicyDecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordSanctionsBlock increments the sanctions-block counter.
func RecordSanctionsBlock() {
	SanctionsBlocksTotal.Inc()
}

// RecordSLAViolation increments the SLA violation counter for metric.
func RecordSLAViolation(metric string) {
	SLAViolationsTotal.WithLabelValues(metric).Inc()
}

// RecordReservationDenied increments the reservation-denied counter.
func RecordReservationDenied() {
	ReservationDeniedTotal.Inc()
}

// RecordOptimizerAdaptation increments the adaptation counter for algorithm.
func RecordOptimizerAdaptation(algorithm string) {
	OptimizerAdaptationsTotal.WithLabelValues(algorithm).Inc()
}

// ObserveOptimizerReward records a reward observation for algorithm.
func ObserveOptimizerReward(algorithm string, reward float64) {
	OptimizerRewardObserved.WithLabelValues(algorithm).Observe(reward)
}

// RecordAuditChainBreak increments the audit chain-break counter.
func RecordAuditChainBreak() {
	AuditChainBreaksTotal.Inc()
}

// RecordBackendCall increments the backend call counter for backend/status.
func RecordBackendCall(backend, status string) {
	BackendCallsTotal.WithLabelValues(backend, status).Inc()
}

// IncrementConcurrentExecutions increments the in-flight execution gauge.
func IncrementConcurrentExecutions() {
	ConcurrentExecutionsRunning.Inc()
}

// DecrementConcurrentExecutions decrements the in-flight execution gauge.
func DecrementConcurrentExecutions() {
	ConcurrentExecutionsRunning.Dec()
}

// RecordAlert increments the processed-alerts counter.
func RecordAlert() {
	AlertsProcessedTotal.Inc()
}

// RecordAlertSuppressed increments the suppressed-alerts counter for reason.
func RecordAlertSuppressed(reason string) {
	AlertsSuppressedTotal.WithLabelValues(reason).Inc()
}

// RecordWebhookRequest increments the webhook delivery counter for status.
func RecordWebhookRequest(status string) {
	WebhookRequestsTotal.WithLabelValues(status).Inc()
}

// Timer measures elapsed wall-clock time and records it against the
// execution or deployment histograms on completion.
type Timer struct {
	start time.Time
}

// NewTimer starts a new Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// RecordExecution records the elapsed time as an execution duration for
// backend and increments its counter.
func (t *Timer) RecordExecution(backend, status string) {
	ObserveExecutionDuration(backend, t.Elapsed())
	RecordExecution(backend, status)
}

// RecordDeployment records the elapsed time as a deployment-state duration
// and increments its transition counter.
func (t *Timer) RecordDeployment(state string) {
	ObserveDeploymentDuration(state, t.Elapsed())
	RecordDeployment(state)
}
