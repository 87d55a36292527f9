package domain

import "time"

// ExecutionStatus tracks a single circuit run through the Execution
// Runner. Terminal states are absorbing.
type ExecutionStatus string

const (
	ExecQueued        ExecutionStatus = "QUEUED"
	ExecValidating    ExecutionStatus = "VALIDATING"
	ExecAllocating    ExecutionStatus = "ALLOCATING"
	ExecExecuting     ExecutionStatus = "EXECUTING"
	ExecPostProcessing ExecutionStatus = "POST_PROCESSING"
	ExecCompleted     ExecutionStatus = "COMPLETED"
	ExecFailed        ExecutionStatus = "FAILED"
	ExecCancelled     ExecutionStatus = "CANCELLED"
	ExecTimeout       ExecutionStatus = "TIMEOUT"
)

// IsExecutionTerminal reports whether status has no further transitions.
func IsExecutionTerminal(status ExecutionStatus) bool {
	switch status {
	case ExecCompleted, ExecFailed, ExecCancelled, ExecTimeout:
		return true
	default:
		return false
	}
}

// MeasurementOutcome is one distinct bitstring result and its observed
// count/confidence from a backend driver.
type MeasurementOutcome struct {
	Bitstring  string
	Count      int
	Confidence float64
}

// ExecutionResults holds the raw output of a completed execution.
type ExecutionResults struct {
	Outcomes []MeasurementOutcome
	Shots    int
}

// CorrectnessMetrics is the bundle of correctness figures computed by the
// SLA Validator for one execution.
type CorrectnessMetrics struct {
	ErrorRate          float64
	Fidelity           float64
	SuccessProbability float64
	QuantumVolume      float64
	GateErrorRate      float64
	CoherenceTimeUs    float64
}

// PerformanceStats is the execution's timing/throughput profile.
type PerformanceStats struct {
	QueueTime      time.Duration
	ExecutionTime  time.Duration
	TotalTime      time.Duration
}

// CostBreakdown is the execution's resource cost.
type CostBreakdown struct {
	CostPerShot float64
	TotalCost   float64
}

// Execution is a single run of a Deployment against a chosen backend.
// Deployment.Executions owns these by value; an Execution refers back to
// its deployment only by id, never by pointer, to avoid a cyclic reference.
type Execution struct {
	ID                string
	DeploymentID      string
	BackendSelected   BackendKind
	BackendName       string
	Shots             int
	OptimizationLevel int
	ErrorMitigation   bool
	Status            ExecutionStatus
	Results           ExecutionResults
	Correctness       CorrectnessMetrics
	Perf              PerformanceStats
	Cost              CostBreakdown
	AuditTrail        []AuditEntryRef
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

// ExecutionConfig is the caller-supplied parameters for one execute() call.
type ExecutionConfig struct {
	Shots             int
	OptimizationLevel int
	ErrorMitigation   bool
}
