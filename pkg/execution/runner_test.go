package execution_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"

	qamerrors "github.com/qam-project/qam/internal/errors"
	"github.com/qam-project/qam/pkg/audit"
	"github.com/qam-project/qam/pkg/backend"
	"github.com/qam-project/qam/pkg/deployment"
	"github.com/qam-project/qam/pkg/domain"
	"github.com/qam-project/qam/pkg/execution"
	"github.com/qam-project/qam/pkg/policy"
	"github.com/qam-project/qam/pkg/registry"
	"github.com/qam-project/qam/pkg/reservation"
)

type scriptedDriver struct {
	name         string
	desc         backend.Description
	submitErr    error
	pollStatus   backend.RunStatus
	outcomes     []domain.MeasurementOutcome
	cancelCalled bool
}

func (d *scriptedDriver) Submit(context.Context, string, int, backend.SubmitOptions) (backend.ExecutionHandle, error) {
	if d.submitErr != nil {
		return "", d.submitErr
	}
	return backend.ExecutionHandle(d.name + "-handle"), nil
}

func (d *scriptedDriver) Poll(context.Context, backend.ExecutionHandle) (backend.PollResult, error) {
	return backend.PollResult{Status: d.pollStatus, PartialResults: d.outcomes}, nil
}

func (d *scriptedDriver) Cancel(context.Context, backend.ExecutionHandle) error {
	d.cancelCalled = true
	return nil
}

func (d *scriptedDriver) Describe(context.Context) (backend.Description, error) {
	return d.desc, nil
}

func unrestrictedTemplate(id string) *domain.Template {
	return &domain.Template{
		ID:      id,
		Version: "1.0.0",
		Status:  domain.TemplateAvailable,
		ParameterSchema: []domain.ParameterSpec{
			{Name: "shots", Type: domain.ParamInt, Required: true},
		},
		ExportClassification: &domain.ExportClassification{Level: domain.LevelUnrestricted},
		ResourceEstimate:      domain.ResourceEstimate{QuantumMinutes: 1, ClassicalCompute: 1, MemoryGB: 1, StorageGB: 1},
	}
}

func newHarness(t *testing.T) (*deployment.Supervisor, *backend.Selector, registry.Repository) {
	t.Helper()
	repo := registry.NewMemoryRepository()
	gate := policy.NewGate(policy.NewStaticSanctionsList(nil), nil)
	approvals := policy.NewApprovalWorkflow(0)
	ledger := reservation.NewMemoryLedger(reservation.Request{QuantumMinutes: 100, ClassicalCompute: 100, MemoryGB: 100, StorageGB: 100})
	selector := backend.NewSelector()
	chain := audit.NewChain(audit.NewMemoryStore(), nil, logr.Discard())
	sup := deployment.NewSupervisor(deployment.NewMemoryStore(), repo, gate, approvals, ledger, selector, chain)
	return sup, selector, repo
}

func deployOne(t *testing.T, sup *deployment.Supervisor, repo registry.Repository, templateID string) *domain.Deployment {
	t.Helper()
	ctx := context.Background()
	_ = repo.Publish(ctx, unrestrictedTemplate(templateID))
	d, err := sup.Deploy(ctx, deployment.DeployInput{
		TemplateID: templateID,
		TenantID:   "tenant-a",
		Config:     domain.DeploymentConfig{Parameters: map[string]interface{}{"shots": 100}},
		Actor:      domain.Actor{ID: "actor-1", Jurisdiction: "US"},
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	return d
}

func TestRunCompletesSuccessfullyAndReturnsDeploymentToDeployed(t *testing.T) {
	ctx := context.Background()
	sup, selector, repo := newHarness(t)
	selector.Register(domain.BackendClassical, backend.Candidate{
		Name: "sim-1",
		Driver: &scriptedDriver{
			name: "sim-1",
			desc: backend.Description{Kind: domain.BackendClassical, Availability: 0.99, CostPerShot: 0.01},
			pollStatus: backend.RunDone,
			outcomes:   []domain.MeasurementOutcome{{Bitstring: "00", Count: 90, Confidence: 0.9}, {Bitstring: "11", Count: 10, Confidence: 0.9}},
		},
	})

	d := deployOne(t, sup, repo, "tmpl-1")
	d, exec, err := sup.StartExecution(ctx, d.ID, domain.ExecutionConfig{Shots: 100}, []domain.BackendKind{domain.BackendClassical}, nil)
	if err != nil {
		t.Fatalf("start execution: %v", err)
	}

	runner := execution.NewRunner(selector, backend.NewBreakerManager(), sup, time.Millisecond)
	report, err := runner.Run(ctx, d, exec, execution.CircuitSpec{Circuit: "bell-pair", Qubits: 2, Depth: 2}, nil, nil, time.Time{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report != nil {
		t.Fatal("expected no ValidationReport without an SLAAgreement")
	}

	completed, err := sup.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if completed.State != domain.StateDeployed {
		t.Fatalf("expected DEPLOYED after a successful run, got %s", completed.State)
	}
	if completed.Executions[0].Status != domain.ExecCompleted {
		t.Fatalf("expected COMPLETED execution, got %s", completed.Executions[0].Status)
	}
	if completed.Executions[0].Correctness.SuccessProbability != 0.9 {
		t.Fatalf("expected success probability 0.9, got %v", completed.Executions[0].Correctness.SuccessProbability)
	}
}

func TestRunRetriesOnceOnFallbackBackendAfterBackendUnavailable(t *testing.T) {
	ctx := context.Background()
	sup, selector, repo := newHarness(t)
	failing := &scriptedDriver{
		name:      "flaky-qpu",
		desc:      backend.Description{Kind: domain.BackendQPU, Availability: 0.9, CostPerShot: 1.0},
		submitErr: qamerrors.NewBackendUnavailable("flaky-qpu", nil),
	}
	healthy := &scriptedDriver{
		name:       "sim-fallback",
		desc:       backend.Description{Kind: domain.BackendClassical, Availability: 0.99, CostPerShot: 0.01},
		pollStatus: backend.RunDone,
		outcomes:   []domain.MeasurementOutcome{{Bitstring: "0", Count: 100, Confidence: 0.95}},
	}
	selector.Register(domain.BackendQPU, backend.Candidate{Name: "flaky-qpu", Driver: failing})
	selector.Register(domain.BackendClassical, backend.Candidate{Name: "sim-fallback", Driver: healthy})

	d := deployOne(t, sup, repo, "tmpl-2")
	d, exec, err := sup.StartExecution(ctx, d.ID, domain.ExecutionConfig{Shots: 100}, []domain.BackendKind{domain.BackendQPU}, nil)
	if err != nil {
		t.Fatalf("start execution: %v", err)
	}

	runner := execution.NewRunner(selector, backend.NewBreakerManager(), sup, time.Millisecond)
	_, err = runner.Run(ctx, d, exec, execution.CircuitSpec{Circuit: "c", Qubits: 1, Depth: 1}, nil, []domain.BackendKind{domain.BackendClassical}, time.Time{})
	if err != nil {
		t.Fatalf("expected the fallback attempt to succeed, got: %v", err)
	}

	completed, err := sup.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if completed.Executions[0].Status != domain.ExecCompleted {
		t.Fatalf("expected COMPLETED via fallback, got %s", completed.Executions[0].Status)
	}
	if completed.Executions[0].BackendName != "sim-fallback" {
		t.Fatalf("expected the fallback backend name recorded, got %s", completed.Executions[0].BackendName)
	}
}

func TestRunFailsExecutionWhenFallbackChainIsExhausted(t *testing.T) {
	ctx := context.Background()
	sup, selector, repo := newHarness(t)
	failing := &scriptedDriver{
		name:      "only-backend",
		desc:      backend.Description{Kind: domain.BackendClassical, Availability: 0.99, CostPerShot: 0.01},
		submitErr: qamerrors.NewBackendTimeout("only-backend"),
	}
	selector.Register(domain.BackendClassical, backend.Candidate{Name: "only-backend", Driver: failing})

	d := deployOne(t, sup, repo, "tmpl-3")
	d, exec, err := sup.StartExecution(ctx, d.ID, domain.ExecutionConfig{Shots: 100}, []domain.BackendKind{domain.BackendClassical}, nil)
	if err != nil {
		t.Fatalf("start execution: %v", err)
	}

	runner := execution.NewRunner(selector, backend.NewBreakerManager(), sup, time.Millisecond)
	_, err = runner.Run(ctx, d, exec, execution.CircuitSpec{Circuit: "c", Qubits: 1, Depth: 1}, nil, nil, time.Time{})
	if err == nil {
		t.Fatal("expected the run to fail with no fallback chain configured")
	}

	failed, err := sup.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if failed.State != domain.StateDeployed {
		t.Fatalf("a failed execution must return the deployment to DEPLOYED, got %s", failed.State)
	}
	if failed.Executions[0].Status != domain.ExecFailed {
		t.Fatalf("expected FAILED execution, got %s", failed.Executions[0].Status)
	}
}
