// Package execution implements the Execution Runner: it submits one
// Execution's circuit to its selected backend, polls until the run
// terminates, computes correctness metrics, and reports the outcome back
// to the Deployment Supervisor. An execution error is retried once, on the
// backend the Selector picks from the SLA's fallback chain when that is a
// different backend, before the execution is failed outright.
package execution

import (
	"context"
	"sync"
	"time"

	qamerrors "github.com/qam-project/qam/internal/errors"
	"github.com/qam-project/qam/pkg/backend"
	"github.com/qam-project/qam/pkg/deployment"
	"github.com/qam-project/qam/pkg/domain"
	"github.com/qam-project/qam/pkg/metrics"
	"github.com/qam-project/qam/pkg/optimizer"
	"github.com/qam-project/qam/pkg/registry"
	"github.com/qam-project/qam/pkg/sla"
)

// CircuitSpec is the static description of the circuit an Execution runs,
// independent of which backend it lands on.
type CircuitSpec struct {
	Circuit       string
	Qubits        int
	Depth         int
	BaselineNoise float64
	NoiseFactor   float64
}

// retryableExecutionErrors are the §7 "Execution errors" kinds: retried
// once on a fallback backend before the execution fails.
var retryableExecutionErrors = map[qamerrors.ErrorType]bool{
	qamerrors.ErrorTypeBackendUnavailable:     true,
	qamerrors.ErrorTypeBackendTimeout:         true,
	qamerrors.ErrorTypeBackendMalformedResult: true,
}

func isRetryableExecutionError(err error) bool {
	return retryableExecutionErrors[qamerrors.GetType(err)]
}

// Runner drives one Execution's submit/poll/cancel lifecycle.
type Runner struct {
	selector *backend.Selector
	breakers *backend.BreakerManager
	sup      *deployment.Supervisor

	pollInterval time.Duration
	method       sla.ValidationMethod

	mu      sync.Mutex
	handles map[string]backend.ExecutionHandle // executionID -> in-flight driver handle

	now func() time.Time

	templates registry.Repository
	optimizer *optimizer.Service
}

func NewRunner(selector *backend.Selector, breakers *backend.BreakerManager, sup *deployment.Supervisor, pollInterval time.Duration) *Runner {
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	return &Runner{
		selector:     selector,
		breakers:     breakers,
		sup:          sup,
		pollInterval: pollInterval,
		method:       sla.MethodSampling,
		handles:      make(map[string]backend.ExecutionHandle),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithOptimizer wires the Adaptive Optimizer into the runner: after every
// successfully completed execution, Run feeds its outcome to svc and, if
// the gating policy applies an adaptation, writes the new parameters back
// onto the deployment via the Supervisor. templates resolves a
// deployment's template so Observe has the parameter schema and arm count
// to seed a learner's action space from. Not calling WithOptimizer leaves
// the runner's execution path unchanged.
func (r *Runner) WithOptimizer(templates registry.Repository, svc *optimizer.Service) *Runner {
	r.templates = templates
	r.optimizer = svc
	return r
}

// Run carries d's currently EXECUTING exec through submit/poll to a
// terminal state, then reports the outcome to the Supervisor: success
// calls CompleteExecution with the computed correctness/perf/cost figures,
// an execution error (after the fallback-chain retry is exhausted) calls
// FailExecution. The returned ValidationReport is nil if the run
// failed or agreement is nil.
func (r *Runner) Run(ctx context.Context, d *domain.Deployment, exec *domain.Execution, spec CircuitSpec, agreement *domain.SLAAgreement, fallbackChain []domain.BackendKind, deadline time.Time) (*domain.ValidationReport, error) {
	queuedAt := r.now()

	results, usedBackend, err := r.submitAndPoll(ctx, exec, spec, exec.BackendName, deadline)
	if err != nil && isRetryableExecutionError(err) && len(fallbackChain) > 0 {
		if candidate, selErr := r.selector.Select(ctx, fallbackChain, fallbackChain); selErr == nil && candidate.Name != exec.BackendName {
			results, usedBackend, err = r.submitAndPoll(ctx, exec, spec, candidate.Name, deadline)
		}
	}
	if err != nil {
		if _, failErr := r.sup.FailExecution(ctx, d.ID, exec.ID, err); failErr != nil {
			return nil, failErr
		}
		return nil, err
	}

	finishedAt := r.now()
	meta := sla.BackendMetadata{
		Kind:            usedBackend.Description.Kind,
		BaselineNoise:   spec.BaselineNoise,
		NoiseFactor:     spec.NoiseFactor,
		GateErrorRate:   usedBackend.Description.GateErrorRate,
		CoherenceTimeUs: usedBackend.Description.CoherenceTimeUs,
		Qubits:          spec.Qubits,
		Depth:           spec.Depth,
	}

	withResults := *exec
	withResults.Results = results
	withResults.BackendSelected = usedBackend.Description.Kind
	withResults.BackendName = usedBackend.Name
	correctness := sla.CorrectnessMetrics(withResults, meta)

	perf := domain.PerformanceStats{
		QueueTime:     finishedAt.Sub(queuedAt),
		ExecutionTime: finishedAt.Sub(queuedAt),
		TotalTime:     finishedAt.Sub(queuedAt),
	}
	totalCost := usedBackend.Description.CostPerShot * float64(results.Shots)

	var report *domain.ValidationReport
	var violations []domain.Violation
	if agreement != nil {
		validated := sla.Validate(withResults, *agreement, meta, r.method)
		for i := range validated.Violations {
			validated.Violations[i].CreatedAt = finishedAt
		}
		report = &validated
		violations = validated.Violations
	}

	if _, err := r.sup.CompleteExecution(ctx, d.ID, exec.ID, results, correctness, perf, totalCost, violations); err != nil {
		return report, err
	}

	r.observeForOptimizer(ctx, d, spec, exec, usedBackend, fallbackChain, finishedAt, correctness, perf, totalCost, len(violations))
	return report, nil
}

// observeForOptimizer feeds a completed execution's outcome to the Adaptive
// Optimizer, if one is wired in, and writes back any adaptation it applies.
// A failure here never fails the execution itself: the optimizer is an
// advisory learner riding on top of an already-successful run.
func (r *Runner) observeForOptimizer(ctx context.Context, d *domain.Deployment, spec CircuitSpec, exec *domain.Execution, usedBackend backend.Candidate, fallbackChain []domain.BackendKind, finishedAt time.Time, correctness domain.CorrectnessMetrics, perf domain.PerformanceStats, totalCost float64, violationCount int) {
	if r.optimizer == nil || r.templates == nil {
		return
	}

	tmpl, err := r.templates.Latest(ctx, d.TemplateID)
	if err != nil {
		return
	}

	backendIndex := 0
	for i, k := range fallbackChain {
		if k == usedBackend.Description.Kind {
			backendIndex = i + 1
			break
		}
	}

	successRate := 1.0
	if violationCount > 0 {
		successRate = 1 / float64(1+violationCount)
	}

	obs := optimizer.Observation{
		Context: optimizer.ContextInput{
			CircuitDepth:      spec.Depth,
			QubitCount:        spec.Qubits,
			Shots:             exec.Shots,
			OptimizationLevel: exec.OptimizationLevel,
			GateCount:         spec.Depth * spec.Qubits,
			BackendIndex:      backendIndex,
			BackendCount:      len(fallbackChain) + 1,
			RecentSuccessRate: successRate,
			HourOfDay:         finishedAt.Hour(),
			MaxCircuitDepth:   1000,
			MaxQubitCount:     100,
			MaxShots:          100000,
			MaxOptimization:   3,
			MaxGateCount:      100000,
		},
		Reward: optimizer.RewardObservation{
			LatencySeconds: perf.TotalTime.Seconds(),
			Cost:           totalCost,
			Quality:        correctness.Fidelity,
			Reliability:    correctness.SuccessProbability,
			Security:       successRate,
		},
		Weights: optimizer.WeightsFor(d.TenantPriority),
	}

	event, newParams := r.optimizer.Observe(d.TemplateID, d.TenantID, tmpl.ParameterSchema, tmpl.ArmCount, obs)
	if event.Type == domain.AdaptationApplied {
		_, _ = r.sup.ApplyAdaptation(ctx, d.ID, newParams)
	}
}

// submitAndPoll submits spec.Circuit to backendName and polls until the
// run reaches a terminal RunStatus or ctx/deadline expires, wrapping the
// submit call in that backend's circuit breaker.
func (r *Runner) submitAndPoll(ctx context.Context, exec *domain.Execution, spec CircuitSpec, backendName string, deadline time.Time) (domain.ExecutionResults, backend.Candidate, error) {
	candidate, ok := r.selector.ByName(backendName)
	if !ok {
		return domain.ExecutionResults{}, backend.Candidate{}, qamerrors.NewBackendUnavailable(backendName, nil)
	}

	opts := backend.SubmitOptions{
		Shots:             exec.Shots,
		OptimizationLevel: exec.OptimizationLevel,
		ErrorMitigation:   exec.ErrorMitigation,
		Deadline:          deadline,
	}

	raw, err := r.breakers.Call(ctx, backendName, func(ctx context.Context) (interface{}, error) {
		return candidate.Driver.Submit(ctx, spec.Circuit, exec.Shots, opts)
	})
	if err != nil {
		metrics.RecordBackendCall(backendName, "rejected")
		return domain.ExecutionResults{}, candidate, err
	}
	metrics.RecordBackendCall(backendName, "submitted")
	handle := raw.(backend.ExecutionHandle)
	r.trackHandle(exec.ID, handle)
	defer r.untrackHandle(exec.ID)

	outcomes, err := r.poll(ctx, candidate, handle, deadline)
	if err != nil {
		_ = candidate.Driver.Cancel(ctx, handle)
		return domain.ExecutionResults{}, candidate, err
	}

	shots := 0
	for _, o := range outcomes {
		shots += o.Count
	}
	return domain.ExecutionResults{Outcomes: outcomes, Shots: shots}, candidate, nil
}

func (r *Runner) trackHandle(executionID string, handle backend.ExecutionHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[executionID] = handle
}

func (r *Runner) untrackHandle(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, executionID)
}

func (r *Runner) poll(ctx context.Context, candidate backend.Candidate, handle backend.ExecutionHandle, deadline time.Time) ([]domain.MeasurementOutcome, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		result, err := candidate.Driver.Poll(ctx, handle)
		if err != nil {
			return nil, qamerrors.NewBackendUnavailable(candidate.Name, err)
		}
		switch result.Status {
		case backend.RunDone:
			return result.PartialResults, nil
		case backend.RunFailed:
			return nil, qamerrors.Wrap(nil, qamerrors.ErrorTypeBackendMalformedResult, "backend "+candidate.Name+" reported a failed run")
		}

		if !deadline.IsZero() && r.now().After(deadline) {
			return nil, qamerrors.NewBackendTimeout(candidate.Name)
		}
		select {
		case <-ctx.Done():
			return nil, qamerrors.Wrap(ctx.Err(), qamerrors.ErrorTypeBackendTimeout, "context cancelled while polling "+candidate.Name)
		case <-ticker.C:
		}
	}
}

// Cancel stops a still-running execution ahead of its deadline: the driver
// is told to cancel, the Execution transitions to CANCELLED, and the
// deployment returns to DEPLOYED.
func (r *Runner) Cancel(ctx context.Context, d *domain.Deployment, exec *domain.Execution) (*domain.Deployment, error) {
	r.mu.Lock()
	handle, tracked := r.handles[exec.ID]
	r.mu.Unlock()

	if tracked {
		if candidate, ok := r.selector.ByName(exec.BackendName); ok {
			_ = candidate.Driver.Cancel(ctx, handle)
		}
	}
	return r.sup.CancelExecution(ctx, d.ID, exec.ID)
}
