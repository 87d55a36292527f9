package domain

import "time"

// ActorType distinguishes the kinds of principals the Policy Gate screens.
type ActorType string

const (
	ActorUser        ActorType = "USER"
	ActorServiceAccount ActorType = "SERVICE_ACCOUNT"
	ActorTenant      ActorType = "TENANT"
)

// Actor is the principal requesting a deployment, screened by the Policy
// Gate.
type Actor struct {
	ID           string
	Type         ActorType
	Jurisdiction string
	Licenses     []string

	// HasDocumentation reports whether the actor has filed the supporting
	// paperwork an Exemption with RequiresDocumentation demands.
	HasDocumentation bool
}

// SanctionsStatus is the outcome of screening an Actor.
type SanctionsStatus string

const (
	SanctionsClear          SanctionsStatus = "CLEAR"
	SanctionsPotentialMatch SanctionsStatus = "POTENTIAL_MATCH"
	SanctionsConfirmedMatch SanctionsStatus = "CONFIRMED_MATCH"
	SanctionsBlocked        SanctionsStatus = "BLOCKED"
)

// ScreenResult is the Policy Gate's sanctions-screening output.
type ScreenResult struct {
	Status  SanctionsStatus
	Matches []string
}

// PolicyDecisionLevel says whether a request needs no further action, is
// denied outright, or requires manual approval.
type PolicyDecisionLevel string

const (
	DecisionAutoApproved    PolicyDecisionLevel = "AUTO_APPROVED"
	DecisionDenied          PolicyDecisionLevel = "DENIED"
	DecisionNeedsApproval   PolicyDecisionLevel = "NEEDS_APPROVAL"
)

// PolicyDecision is the Policy Gate's verdict for one (template, actor,
// destination, end-use) query.
type PolicyDecision struct {
	Approved          bool
	Level             PolicyDecisionLevel
	Restrictions      []string
	RequiredApprovals []ReviewerLevel
	ValidLicenses     []string
	MissingLicenses   []string
	Reasoning         string
}

// Restriction is one jurisdiction-specific control on a control-list item.
type Restriction struct {
	Kind        string // geographic, entity, end_use, technology, time_limited, conditional
	EndUse      string
	Description string
	ExpiresAt   *time.Time
}

// Exemption excuses a Restriction when its criteria are met by the
// declared end-use and the actor's documentation.
type Exemption struct {
	Keywords             []string
	ExplicitTags         []string
	RequiresDocumentation bool
}

// ControlListItem is one entry in an ExportControlRule's control list,
// binding restrictions and exemptions to required licenses.
type ControlListItem struct {
	Code             string
	Restrictions     []Restriction
	Exemptions       []Exemption
	RequiredLicenses []string
	Severity         Severity
}

// ExportControlRule is the per-jurisdiction rule set the Policy Gate
// evaluates during the jurisdiction-check stage.
type ExportControlRule struct {
	Jurisdiction string
	ControlList  []ControlListItem
}
