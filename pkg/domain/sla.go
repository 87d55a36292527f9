package domain

import "time"

// MetricKind names a correctness metric the SLA Validator knows how to
// compute.
type MetricKind string

const (
	MetricErrorRate          MetricKind = "ERROR_RATE"
	MetricFidelity           MetricKind = "FIDELITY"
	MetricSuccessProbability MetricKind = "SUCCESS_PROBABILITY"
	MetricQuantumVolume      MetricKind = "QUANTUM_VOLUME"
	MetricGateErrorRate      MetricKind = "GATE_ERROR_RATE"
	MetricCoherenceTime      MetricKind = "COHERENCE_TIME"
)

// ComplianceStatus summarizes an SLAAgreement's rolling health.
type ComplianceStatus string

const (
	ComplianceCompliant ComplianceStatus = "COMPLIANT"
	ComplianceAtRisk    ComplianceStatus = "AT_RISK"
	ComplianceViolated  ComplianceStatus = "VIOLATED"
)

// PerformanceTargets are the latency/availability obligations of an
// SLAAgreement, independent of per-execution correctness metrics.
type PerformanceTargets struct {
	MaxExecutionTime time.Duration
	MaxQueueTime     time.Duration
	Availability     float64
	ResponseTime     time.Duration
}

// MonitoringSpec declares how often and which metrics an agreement is
// checked against.
type MonitoringSpec struct {
	Frequency time.Duration
	Metrics   []MetricKind
}

// ComplianceState is the agreement's rolling score and recent violation
// history.
type ComplianceState struct {
	Score      float64
	Status     ComplianceStatus
	Violations []Violation
	Credits    []string
}

// SLAAgreement binds a Template to a tenant's correctness and performance
// obligations.
type SLAAgreement struct {
	TemplateID  string
	TenantID    string
	Requirements []SLARequirement
	Performance PerformanceTargets
	Monitoring  MonitoringSpec
	Compliance  ComplianceState
	ValidUntil  time.Time
}

// Severity is a Violation's urgency tier, derived from deviation ratio.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// RemediationAction is one step of a deterministic remediation plan.
type RemediationAction string

const (
	RemediationBackendSwitch        RemediationAction = "BACKEND_SWITCH"
	RemediationErrorMitigation      RemediationAction = "ERROR_MITIGATION"
	RemediationCircuitSimplification RemediationAction = "CIRCUIT_SIMPLIFICATION"
)

// RemediationPlan is the ordered sequence of actions to try for a
// violation, with the conditions that trigger a rollback of the plan.
type RemediationPlan struct {
	Actions          []RemediationAction
	RollbackTriggers []string
}

// Violation is a single metric result that failed its threshold.
type Violation struct {
	ID          string
	AgreementKey string // (tenantID, templateID) composite key
	Metric      MetricKind
	Severity    Severity
	Threshold   float64
	Actual      float64
	Remediation RemediationPlan
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// MetricResult is the outcome of validating one SLARequirement against an
// execution.
type MetricResult struct {
	Metric     MetricKind
	Value      float64
	Threshold  float64
	Passed     bool
	Confidence float64
	Details    string
}

// ComplianceGrade buckets an overall SLA score into a qualitative grade.
type ComplianceGrade string

const (
	GradeExcellent   ComplianceGrade = "EXCELLENT"
	GradeGood        ComplianceGrade = "GOOD"
	GradeSatisfactory ComplianceGrade = "SATISFACTORY"
	GradePoor        ComplianceGrade = "POOR"
	GradeFailed      ComplianceGrade = "FAILED"
)

// ValidationReport is the complete output of validating one execution
// against its agreement: per-requirement results, overall score/grade, and
// any violations raised.
type ValidationReport struct {
	Results    []MetricResult
	Score      float64
	Grade      ComplianceGrade
	Passed     bool
	Violations []Violation
}
