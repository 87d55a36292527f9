package domain

import "time"

// DeploymentState is a node in the Deployment Supervisor's lifecycle state
// machine (spec §4.1).
type DeploymentState string

const (
	StatePending                   DeploymentState = "PENDING"
	StateConfiguring               DeploymentState = "CONFIGURING"
	StateValidatingExportControl   DeploymentState = "VALIDATING_EXPORT_CONTROL"
	StateAllocatingResources       DeploymentState = "ALLOCATING_RESOURCES"
	StateDeployed                  DeploymentState = "DEPLOYED"
	StateExecuting                 DeploymentState = "EXECUTING"
	StateCompleted                 DeploymentState = "COMPLETED"
	StateFailed                    DeploymentState = "FAILED"
	StateSuspended                 DeploymentState = "SUSPENDED"
	StateArchived                  DeploymentState = "ARCHIVED"
)

// transitions enumerates the legal DeploymentState edges from §4.1's
// diagram. A transition not listed here is rejected.
var transitions = map[DeploymentState][]DeploymentState{
	StatePending:                 {StateConfiguring, StateFailed},
	StateConfiguring:             {StateValidatingExportControl, StateFailed},
	StateValidatingExportControl: {StateAllocatingResources, StateFailed},
	StateAllocatingResources:     {StateDeployed, StateFailed},
	StateDeployed:                {StateExecuting, StateSuspended, StateArchived, StateFailed},
	StateExecuting:               {StateCompleted, StateDeployed, StateFailed},
	StateSuspended:               {StateDeployed, StateArchived},
	StateCompleted:               {StateArchived},
	StateFailed:                  {StateArchived},
	StateArchived:                {},
}

// CanTransition reports whether moving from to is legal.
func CanTransition(from, to DeploymentState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether state has no outgoing transitions other than
// to ARCHIVED (COMPLETED, FAILED) or none at all (ARCHIVED).
func IsTerminal(state DeploymentState) bool {
	switch state {
	case StateCompleted, StateFailed, StateArchived:
		return true
	default:
		return false
	}
}

// DeploymentConfig is the tenant-declared, validated configuration for one
// deployment: parameter values plus backend and concurrency preferences.
type DeploymentConfig struct {
	Parameters        map[string]interface{}
	BackendPreferences []BackendKind
	AllowConcurrent   bool
	Extras            map[string]any
}

// ReservationHold is the resource hold a deployment owns while active.
type ReservationHold struct {
	Reserved         bool
	QuantumMinutes   float64
	ClassicalCompute float64
	MemoryGB         float64
	StorageGB        float64
	ReservedAt       time.Time
	ReleasedAt       *time.Time
}

// Deployment is a per-tenant instantiation of a Template.
type Deployment struct {
	ID           string
	TemplateID   string
	TenantID     string
	TenantPriority int // higher wins FIFO ties on resource contention
	Config       DeploymentConfig
	SLAAgreement *SLAAgreement
	Reservation  ReservationHold
	ApprovalID   string // "" if no approval required/created
	State        DeploymentState
	Executions   []Execution // owned by composition, not a pointer back-reference
	CreatedAt    time.Time
	UpdatedAt    time.Time
	EnqueuedAt   time.Time // for FIFO resource-contention tie-breaks
}
