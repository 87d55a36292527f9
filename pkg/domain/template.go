// Package domain holds the QAM entity types shared across every
// subsystem: templates, deployments, approvals, executions, SLA
// agreements, violations, export-control rules, and optimizer state.
package domain

import "time"

// TemplateStatus is a Template's publication lifecycle stage.
type TemplateStatus string

const (
	TemplateAvailable   TemplateStatus = "AVAILABLE"
	TemplateExperimental TemplateStatus = "EXPERIMENTAL"
	TemplateRestricted  TemplateStatus = "RESTRICTED"
	TemplateDeprecated  TemplateStatus = "DEPRECATED"
	TemplateMaintenance TemplateStatus = "MAINTENANCE"
)

// ExportControlLevel classifies a template's export-control sensitivity.
type ExportControlLevel string

const (
	LevelUnrestricted   ExportControlLevel = "UNRESTRICTED"
	LevelDualUse        ExportControlLevel = "DUAL_USE"
	LevelRestricted     ExportControlLevel = "RESTRICTED"
	LevelITARControlled ExportControlLevel = "ITAR_CONTROLLED"
	LevelEARControlled  ExportControlLevel = "EAR_CONTROLLED"
	LevelClassified     ExportControlLevel = "CLASSIFIED"
)

// ExportClassification is the result of classifying a template for export
// control, cached by (template id, version, rule generation).
type ExportClassification struct {
	Level         ExportControlLevel
	ControlCodes  []string
	Category      string
	Confidence    float64
	ClassifiedAt  time.Time
}

// ParameterType names the primitive kind of a template parameter.
type ParameterType string

const (
	ParamInt    ParameterType = "int"
	ParamFloat  ParameterType = "float"
	ParamString ParameterType = "string"
	ParamBool   ParameterType = "bool"
)

// ParameterSpec describes one entry in a template's parameter schema,
// covering every kind of validation the Registry performs at deploy time.
type ParameterSpec struct {
	Name          string
	Type          ParameterType
	Required      bool
	Min           *float64
	Max           *float64
	AllowedValues []string
	Pattern       string // regex, applies to string parameters
	Default       interface{}
}

// ResourceEstimate is the expected resource footprint of a single
// execution of a template, used by Resource Reservation to size a hold.
type ResourceEstimate struct {
	QuantumMinutes   float64
	ClassicalCompute float64
	MemoryGB         float64
	StorageGB        float64
}

// BackendKind is one of the three execution substrates a circuit may run
// on.
type BackendKind string

const (
	BackendClassical BackendKind = "CLASSICAL"
	BackendEmulator  BackendKind = "EMULATOR"
	BackendQPU       BackendKind = "QPU"
)

// SLARequirement is one correctness metric threshold a deployment must
// satisfy, with the backend fallback chain it may use.
type SLARequirement struct {
	Metric        MetricKind
	Threshold     float64
	FallbackChain []BackendKind
}

// AlgorithmFamily is implemented by each concrete per-algorithm parameter
// payload (VQE, QAOA, Grover, generic), replacing an inheritance hierarchy
// with a tagged variant: the outer Template carries shared fields, and
// Algorithm holds exactly one of these.
type AlgorithmFamily interface {
	FamilyName() string
}

// VQEParameters is the algorithm-specific payload for a Variational
// Quantum Eigensolver template.
type VQEParameters struct {
	Ansatz     string
	Optimizer  string
	MaxIter    int
}

func (VQEParameters) FamilyName() string { return "VQE" }

// QAOAParameters is the algorithm-specific payload for a Quantum
// Approximate Optimization Algorithm template.
type QAOAParameters struct {
	Layers     int
	MixerType  string
}

func (QAOAParameters) FamilyName() string { return "QAOA" }

// GroverParameters is the algorithm-specific payload for a Grover search
// template.
type GroverParameters struct {
	OracleType  string
	Iterations  int
}

func (GroverParameters) FamilyName() string { return "Grover" }

// GenericParameters is the fallback payload for templates whose algorithm
// doesn't warrant a dedicated family.
type GenericParameters struct {
	Notes string
}

func (GenericParameters) FamilyName() string { return "Generic" }

// Template is an immutable, versioned quantum algorithm package. A new
// version is always a new id: once published, a Template is never mutated.
type Template struct {
	ID                  string
	Version             string // semver
	Category            string
	Algorithms          []string
	Algorithm           AlgorithmFamily
	ParameterSchema     []ParameterSpec
	ExportClassification *ExportClassification
	SLARequirements     []SLARequirement
	ResourceEstimate    ResourceEstimate
	Status              TemplateStatus
	Name                string
	Description         string
	Tags                []string
	PublishedAt         time.Time
	ArmCount            int // optimizer arm count for this template (configurable, not hard-coded)
	Extras              map[string]any
}

// RequiresApproval reports whether the template's classification implies a
// manual approval gate regardless of end-use.
func (t *Template) RequiresApproval() bool {
	switch t.ExportClassification.Level {
	case LevelRestricted, LevelITARControlled, LevelEARControlled, LevelClassified:
		return true
	default:
		return false
	}
}
