package domain

import "time"

// ApprovalStatus is monotonic once it leaves PENDING: after reaching
// APPROVED, CONDITIONAL, DENIED, or EXPIRED, it may only further move to
// EXPIRED or REVOKED.
type ApprovalStatus string

const (
	ApprovalPending     ApprovalStatus = "PENDING"
	ApprovalApproved    ApprovalStatus = "APPROVED"
	ApprovalConditional ApprovalStatus = "CONDITIONAL"
	ApprovalDenied      ApprovalStatus = "DENIED"
	ApprovalExpired     ApprovalStatus = "EXPIRED"
	ApprovalRevoked     ApprovalStatus = "REVOKED"
)

// monotoneFrom lists the statuses each status may still move to. Terminal
// decisions (APPROVED, CONDITIONAL, DENIED, EXPIRED) may only be revisited
// by EXPIRED or REVOKED.
var monotoneFrom = map[ApprovalStatus][]ApprovalStatus{
	ApprovalPending:     {ApprovalApproved, ApprovalConditional, ApprovalDenied, ApprovalExpired, ApprovalRevoked},
	ApprovalApproved:    {ApprovalExpired, ApprovalRevoked},
	ApprovalConditional: {ApprovalExpired, ApprovalRevoked},
	ApprovalDenied:      {ApprovalExpired, ApprovalRevoked},
	ApprovalExpired:     {ApprovalRevoked},
	ApprovalRevoked:     {},
}

// CanTransitionApproval reports whether an Approval may move from to.
func CanTransitionApproval(from, to ApprovalStatus) bool {
	for _, s := range monotoneFrom[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ReviewerLevel names an escalation tier in the approval workflow.
type ReviewerLevel string

const (
	ReviewerCompliance ReviewerLevel = "compliance"
	ReviewerLegal      ReviewerLevel = "legal"
	ReviewerSecurity   ReviewerLevel = "security"
)

// ReviewVote is one reviewer's decision on an Approval.
type ReviewVote struct {
	Reviewer  string
	Level     ReviewerLevel
	Approve   bool
	Condition string
	VotedAt   time.Time
}

// AuditEntryRef is a lightweight pointer into the Receipt/Audit Log kept
// inline on the Approval for quick inspection without a log read.
type AuditEntryRef struct {
	Seq       uint64
	Event     string
	Actor     string
	Timestamp time.Time
}

// Approval is the state machine for one manual Policy Gate decision.
type Approval struct {
	ID              string
	DeploymentID    string
	RequiredLevels  []ReviewerLevel
	Votes           []ReviewVote
	Status          ApprovalStatus
	Conditions      []string
	CurrentLevel    int // index into RequiredLevels for escalation
	ValidUntil      time.Time
	StageDeadline   time.Time
	AuditTrail      []AuditEntryRef
	CreatedAt       time.Time
}

// HasQuorum reports whether every required reviewer level has at least one
// approving vote and none has denied.
func (a *Approval) HasQuorum() bool {
	approved := make(map[ReviewerLevel]bool)
	for _, v := range a.Votes {
		if !v.Approve {
			return false
		}
		approved[v.Level] = true
	}
	for _, level := range a.RequiredLevels {
		if !approved[level] {
			return false
		}
	}
	return true
}
