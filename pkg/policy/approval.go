package policy

import (
	"time"

	qamerrors "github.com/qam-project/qam/internal/errors"
	"github.com/qam-project/qam/pkg/domain"
)

// ApprovalWorkflow drives one domain.Approval through its reviewer
// escalation ladder: each RequiredLevels entry, in order, must cast an
// approving vote (or the whole Approval is denied) before StageDeadline.
// Only an approving vote advances to the next level; a missed stage
// deadline expires the Approval and does not escalate to the next level.
type ApprovalWorkflow struct {
	stageTimeout time.Duration
}

func NewApprovalWorkflow(stageTimeout time.Duration) *ApprovalWorkflow {
	return &ApprovalWorkflow{stageTimeout: stageTimeout}
}

// NewApproval creates a pending Approval for a deployment requiring the
// given reviewer levels, with the first stage's deadline set.
func (w *ApprovalWorkflow) NewApproval(id, deploymentID string, levels []domain.ReviewerLevel, validUntil time.Time) *domain.Approval {
	now := time.Now().UTC()
	return &domain.Approval{
		ID:             id,
		DeploymentID:   deploymentID,
		RequiredLevels: levels,
		Status:         domain.ApprovalPending,
		CurrentLevel:   0,
		ValidUntil:     validUntil,
		StageDeadline:  now.Add(w.stageTimeout),
		CreatedAt:      now,
	}
}

// Vote records a reviewer's decision at the Approval's current escalation
// level. A denial immediately terminates the Approval as DENIED. An
// approval at the final required level resolves the Approval as APPROVED
// (or CONDITIONAL, if the vote carried a condition); otherwise it advances
// CurrentLevel and resets the stage deadline.
func (w *ApprovalWorkflow) Vote(approval *domain.Approval, vote domain.ReviewVote) error {
	if approval.Status != domain.ApprovalPending {
		return qamerrors.New(qamerrors.ErrorTypeParameterInvalid, "approval is no longer pending")
	}
	if approval.CurrentLevel >= len(approval.RequiredLevels) {
		return qamerrors.New(qamerrors.ErrorTypeParameterInvalid, "approval has no more pending escalation levels")
	}
	if vote.Level != approval.RequiredLevels[approval.CurrentLevel] {
		return qamerrors.New(qamerrors.ErrorTypeParameterInvalid, "vote is not for the current escalation level")
	}

	vote.VotedAt = time.Now().UTC()
	approval.Votes = append(approval.Votes, vote)

	if !vote.Approve {
		approval.Status = domain.ApprovalDenied
		return nil
	}
	if vote.Condition != "" {
		approval.Conditions = append(approval.Conditions, vote.Condition)
	}

	approval.CurrentLevel++
	if approval.CurrentLevel >= len(approval.RequiredLevels) {
		if len(approval.Conditions) > 0 {
			approval.Status = domain.ApprovalConditional
		} else {
			approval.Status = domain.ApprovalApproved
		}
		return nil
	}

	approval.StageDeadline = time.Now().UTC().Add(w.stageTimeout)
	return nil
}

// CheckDeadline expires a still-pending Approval whose current stage
// deadline has passed, or whose ValidUntil has passed regardless of stage.
// It reports whether the Approval's status changed.
func (w *ApprovalWorkflow) CheckDeadline(approval *domain.Approval, now time.Time) bool {
	if approval.Status != domain.ApprovalPending {
		return false
	}
	if now.After(approval.ValidUntil) || now.After(approval.StageDeadline) {
		approval.Status = domain.ApprovalExpired
		return true
	}
	return false
}

// Revoke terminates a previously decided Approval, which is always legal
// per the monotonicity rule in domain.CanTransitionApproval.
func (w *ApprovalWorkflow) Revoke(approval *domain.Approval) error {
	if !domain.CanTransitionApproval(approval.Status, domain.ApprovalRevoked) {
		return qamerrors.New(qamerrors.ErrorTypeParameterInvalid, "approval cannot be revoked from its current status")
	}
	approval.Status = domain.ApprovalRevoked
	return nil
}
