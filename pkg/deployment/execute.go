package deployment

import (
	"context"
	"time"

	"github.com/google/uuid"

	qamerrors "github.com/qam-project/qam/internal/errors"
	"github.com/qam-project/qam/pkg/domain"
	"github.com/qam-project/qam/pkg/metrics"
	"github.com/qam-project/qam/pkg/sla"
)

// StartExecution begins execute(deploymentId, execConfig): it is only
// valid against a DEPLOYED deployment and moves it to EXECUTING, so a
// second call while a run is active is rejected even when the deployment's
// config sets AllowConcurrent. It selects a backend from the deployment's preferences and the template's SLA
// fallback chain, and creates the Execution record in QUEUED. The caller
// (the Execution Runner) is handed the chosen backend.Candidate's name and
// is responsible for actually submitting the circuit and reporting back
// via CompleteExecution or FailExecution.
func (s *Supervisor) StartExecution(ctx context.Context, deploymentID string, cfg domain.ExecutionConfig, preferences []domain.BackendKind, fallbackChain []domain.BackendKind) (*domain.Deployment, *domain.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.store.Get(ctx, deploymentID)
	if err != nil {
		return nil, nil, err
	}
	if d.State != domain.StateDeployed {
		return nil, nil, qamerrors.New(qamerrors.ErrorTypeParameterInvalid, "execute is only valid on a DEPLOYED deployment, got "+string(d.State))
	}
	if !d.Config.AllowConcurrent && hasActiveExecution(d) {
		return nil, nil, qamerrors.New(qamerrors.ErrorTypeResourceUnavailable, "deployment already has an active execution and does not allow concurrent runs")
	}

	candidate, err := s.selector.Select(ctx, preferences, fallbackChain)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	exec := domain.Execution{
		ID:                uuid.NewString(),
		DeploymentID:      d.ID,
		BackendSelected:   candidate.Description.Kind,
		BackendName:       candidate.Name,
		Shots:             cfg.Shots,
		OptimizationLevel: cfg.OptimizationLevel,
		ErrorMitigation:   cfg.ErrorMitigation,
		Status:            domain.ExecQueued,
		Cost:              domain.CostBreakdown{CostPerShot: candidate.Description.CostPerShot},
		CreatedAt:         now,
	}
	d.Executions = append(d.Executions, exec)

	if err := s.transition(ctx, d, domain.StateExecuting, "execution_started"); err != nil {
		return nil, nil, err
	}
	if err := s.store.Save(ctx, d); err != nil {
		return nil, nil, err
	}
	metrics.IncrementConcurrentExecutions()
	return d, &d.Executions[len(d.Executions)-1], nil
}

// hasActiveExecution reports whether d has any non-terminal Execution.
func hasActiveExecution(d *domain.Deployment) bool {
	for i := range d.Executions {
		if !domain.IsExecutionTerminal(d.Executions[i].Status) {
			return true
		}
	}
	return false
}

// CompleteExecution records a successful run's results and returns the
// deployment to DEPLOYED, ready for its next execute() call. violations is
// the set of SLA breaches the Correctness SLA Engine raised against this
// run, if the caller validated one (nil for an execution with no bound
// SLAAgreement); it folds into the deployment's rolling ComplianceState via
// the same §4.3 scoring rule the periodic compliance-validation loop uses.
func (s *Supervisor) CompleteExecution(ctx context.Context, deploymentID, executionID string, results domain.ExecutionResults, correctness domain.CorrectnessMetrics, perf domain.PerformanceStats, totalCost float64, violations []domain.Violation) (*domain.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, exec, err := s.findExecution(ctx, deploymentID, executionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	exec.Status = domain.ExecCompleted
	exec.Results = results
	exec.Correctness = correctness
	exec.Perf = perf
	exec.Cost.TotalCost = totalCost
	exec.CompletedAt = &now

	if d.SLAAgreement != nil && len(violations) > 0 {
		recent := append(append([]domain.Violation{}, d.SLAAgreement.Compliance.Violations...), violations...)
		d.SLAAgreement.Compliance = sla.UpdateCompliance(recentWithin(recent, now, 7*24*time.Hour))
		for _, v := range violations {
			metrics.RecordSLAViolation(string(v.Metric))
		}
	}

	if err := s.transition(ctx, d, domain.StateDeployed, "execution_completed"); err != nil {
		return nil, err
	}
	metrics.DecrementConcurrentExecutions()
	metrics.RecordExecution(exec.BackendName, "completed")
	metrics.ObserveExecutionDuration(exec.BackendName, perf.ExecutionTime)
	return d, s.store.Save(ctx, d)
}

// recentWithin filters violations to those created within window of now,
// matching the Correctness SLA Engine's rolling-compliance-window rule.
func recentWithin(violations []domain.Violation, now time.Time, window time.Duration) []domain.Violation {
	cutoff := now.Add(-window)
	out := make([]domain.Violation, 0, len(violations))
	for _, v := range violations {
		if v.CreatedAt.After(cutoff) {
			out = append(out, v)
		}
	}
	return out
}

// FailExecution marks the running Execution FAILED — per the failure
// semantics the deployment itself is NOT rolled back past DEPLOYED, since
// the deployment's resources are still held and valid for a retry.
func (s *Supervisor) FailExecution(ctx context.Context, deploymentID, executionID string, cause error) (*domain.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, exec, err := s.findExecution(ctx, deploymentID, executionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	exec.Status = domain.ExecFailed
	exec.CompletedAt = &now

	if err := s.transition(ctx, d, domain.StateDeployed, "execution_failed"); err != nil {
		return nil, err
	}
	metrics.DecrementConcurrentExecutions()
	metrics.RecordExecution(exec.BackendName, "failed")
	reason := "execution failed"
	if cause != nil {
		reason = cause.Error()
	}
	s.record(ctx, d, "execution_failure_reason", d.TenantID, map[string]interface{}{"executionId": executionID, "reason": reason})
	return d, s.store.Save(ctx, d)
}

// CancelExecution stops a still-running Execution ahead of its deadline,
// transitioning it to CANCELLED and returning the deployment to DEPLOYED.
func (s *Supervisor) CancelExecution(ctx context.Context, deploymentID, executionID string) (*domain.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, exec, err := s.findExecution(ctx, deploymentID, executionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	exec.Status = domain.ExecCancelled
	exec.CompletedAt = &now

	if err := s.transition(ctx, d, domain.StateDeployed, "execution_cancelled"); err != nil {
		return nil, err
	}
	metrics.DecrementConcurrentExecutions()
	metrics.RecordExecution(exec.BackendName, "cancelled")
	return d, s.store.Save(ctx, d)
}

func (s *Supervisor) findExecution(ctx context.Context, deploymentID, executionID string) (*domain.Deployment, *domain.Execution, error) {
	d, err := s.store.Get(ctx, deploymentID)
	if err != nil {
		return nil, nil, err
	}
	for i := range d.Executions {
		if d.Executions[i].ID == executionID {
			if domain.IsExecutionTerminal(d.Executions[i].Status) {
				return nil, nil, qamerrors.New(qamerrors.ErrorTypeParameterInvalid, "execution "+executionID+" is already terminal")
			}
			return d, &d.Executions[i], nil
		}
	}
	return nil, nil, qamerrors.New(qamerrors.ErrorTypeParameterInvalid, "execution "+executionID+" not found on deployment "+deploymentID)
}
