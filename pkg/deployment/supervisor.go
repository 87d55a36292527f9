// Package deployment implements the Deployment Supervisor: the state
// machine that carries one tenant's instantiation of a Template from
// PENDING through CONFIGURING, VALIDATING_EXPORT_CONTROL, and
// ALLOCATING_RESOURCES to DEPLOYED, and on into EXECUTING/SUSPENDED/
// COMPLETED/FAILED/ARCHIVED. It composes the Template Registry, Policy
// Gate, Approval Workflow, Resource Reservation ledger, Backend Selector,
// and Receipt/Audit Log rather than owning any of their storage itself.
package deployment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	qamerrors "github.com/qam-project/qam/internal/errors"
	"github.com/qam-project/qam/pkg/audit"
	"github.com/qam-project/qam/pkg/backend"
	"github.com/qam-project/qam/pkg/domain"
	"github.com/qam-project/qam/pkg/metrics"
	"github.com/qam-project/qam/pkg/policy"
	"github.com/qam-project/qam/pkg/registry"
	"github.com/qam-project/qam/pkg/reservation"
)

// DeployInput is deploy()'s request payload.
type DeployInput struct {
	TemplateID      string
	TemplateVersion string // "" selects the template's latest published version
	TenantID        string
	TenantPriority  int
	Config          domain.DeploymentConfig
	SLAOverrides    []domain.SLARequirement

	Actor          domain.Actor
	Destination    string // jurisdiction the export is headed to; distinct from Actor.Jurisdiction
	EndUse         string
	RuleGeneration uint64
	Classify       func(ctx context.Context) (*domain.ExportClassification, error)
}

// Store is the Deployment Supervisor's persistence contract. MemoryStore
// satisfies it for tests and for any deployment that hasn't wired a
// database-backed implementation yet.
type Store interface {
	Save(ctx context.Context, d *domain.Deployment) error
	Get(ctx context.Context, id string) (*domain.Deployment, error)
	// List returns every deployment currently tracked, for the engine's
	// periodic compliance-validation and alert-queue-processing loops.
	List(ctx context.Context) ([]*domain.Deployment, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*domain.Deployment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*domain.Deployment)}
}

func (s *MemoryStore) Save(_ context.Context, d *domain.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[d.ID] = d
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[id]
	if !ok {
		return nil, qamerrors.New(qamerrors.ErrorTypeTemplateNotFound, "deployment "+id+" not found")
	}
	return d, nil
}

func (s *MemoryStore) List(_ context.Context) ([]*domain.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Deployment, 0, len(s.byID))
	for _, d := range s.byID {
		out = append(out, d)
	}
	return out, nil
}

// Supervisor drives every Deployment it owns through the state machine
// in pkg/domain/deployment.go, one subject at a time under its own lock.
type Supervisor struct {
	mu sync.Mutex

	store        Store
	templates    registry.Repository
	gate         *policy.Gate
	approvals    *policy.ApprovalWorkflow
	reservations reservation.Ledger
	selector     *backend.Selector
	chain        *audit.Chain

	now func() time.Time
}

func NewSupervisor(store Store, templates registry.Repository, gate *policy.Gate, approvals *policy.ApprovalWorkflow, reservations reservation.Ledger, selector *backend.Selector, chain *audit.Chain) *Supervisor {
	return &Supervisor{
		store:        store,
		templates:    templates,
		gate:         gate,
		approvals:    approvals,
		reservations: reservations,
		selector:     selector,
		chain:        chain,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Supervisor) Get(ctx context.Context, id string) (*domain.Deployment, error) {
	return s.store.Get(ctx, id)
}

// List returns every deployment the Supervisor's Store tracks, for the
// engine's periodic compliance-validation and alert loops.
func (s *Supervisor) List(ctx context.Context) ([]*domain.Deployment, error) {
	return s.store.List(ctx)
}

// Deploy runs a new Deployment through PENDING..DEPLOYED. A failure at any
// stage releases whatever reservation was already held and rolls the
// deployment back to FAILED rather than leaving it stuck mid-pipeline.
func (s *Supervisor) Deploy(ctx context.Context, in DeployInput) (*domain.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmpl, err := s.resolveTemplate(ctx, in.TemplateID, in.TemplateVersion)
	if err != nil {
		return nil, err
	}

	requirements := tmpl.SLARequirements
	if len(in.SLAOverrides) > 0 {
		requirements = in.SLAOverrides
	}

	now := s.now()
	d := &domain.Deployment{
		ID:             uuid.NewString(),
		TemplateID:     tmpl.ID,
		TenantID:       in.TenantID,
		TenantPriority: in.TenantPriority,
		Config:         in.Config,
		SLAAgreement: &domain.SLAAgreement{
			TemplateID:   tmpl.ID,
			TenantID:     in.TenantID,
			Requirements: requirements,
		},
		State:      domain.StatePending,
		CreatedAt:  now,
		UpdatedAt:  now,
		EnqueuedAt: now,
	}
	s.record(ctx, d, "deployment_created", in.TenantID, map[string]interface{}{"templateId": tmpl.ID, "templateVersion": tmpl.Version})

	if tmpl.Status != domain.TemplateAvailable {
		return s.fail(ctx, d, qamerrors.NewTemplateUnavailable(tmpl.ID, string(tmpl.Status)))
	}

	if err := s.transition(ctx, d, domain.StateConfiguring, "configuring"); err != nil {
		return nil, err
	}
	if err := registry.ValidateParameters(tmpl.ParameterSchema, in.Config.Parameters); err != nil {
		return s.fail(ctx, d, err)
	}

	if err := s.transition(ctx, d, domain.StateValidatingExportControl, "validating_export_control"); err != nil {
		return nil, err
	}
	decision, err := s.gate.Evaluate(ctx, in.Actor, tmpl, in.Destination, in.EndUse, in.RuleGeneration, in.Classify)
	if err != nil {
		return s.fail(ctx, d, err)
	}
	switch decision.Level {
	case domain.DecisionAutoApproved:
		metrics.RecordPolicyDecision("allow")
		// falls through to ALLOCATING_RESOURCES
	case domain.DecisionNeedsApproval:
		metrics.RecordPolicyDecision("approval_required")
		if s.approvals == nil {
			return s.fail(ctx, d, qamerrors.NewPolicyDenied("approval required but no approval workflow configured"))
		}
		approval := s.approvals.NewApproval(uuid.NewString(), d.ID, decision.RequiredApprovals, now.Add(30*24*time.Hour))
		d.ApprovalID = approval.ID
		s.record(ctx, d, "approval_requested", in.TenantID, map[string]interface{}{"approvalId": approval.ID, "levels": decision.RequiredApprovals})
		return s.fail(ctx, d, qamerrors.NewPolicyDenied("deployment awaits manual approval: "+approval.ID))
	default:
		metrics.RecordPolicyDecision("deny")
		return s.fail(ctx, d, qamerrors.NewPolicyDenied(decision.Reasoning))
	}

	if err := s.transition(ctx, d, domain.StateAllocatingResources, "allocating_resources"); err != nil {
		return nil, err
	}
	req := reservation.Request{
		QuantumMinutes:   tmpl.ResourceEstimate.QuantumMinutes,
		ClassicalCompute: tmpl.ResourceEstimate.ClassicalCompute,
		MemoryGB:         tmpl.ResourceEstimate.MemoryGB,
		StorageGB:        tmpl.ResourceEstimate.StorageGB,
	}
	hold, err := s.reservations.Reserve(ctx, d.ID, in.TenantID, in.TenantPriority, d.EnqueuedAt, req)
	if err != nil {
		metrics.RecordReservationDenied()
		return s.fail(ctx, d, err)
	}
	d.Reservation = hold

	if err := s.transition(ctx, d, domain.StateDeployed, "deployed"); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Supervisor) resolveTemplate(ctx context.Context, id, version string) (*domain.Template, error) {
	if version == "" {
		return s.templates.Latest(ctx, id)
	}
	return s.templates.Get(ctx, id, version)
}

// transition applies a legal domain.DeploymentState edge, appending an
// audit entry, or returns a rejection if the edge isn't permitted.
func (s *Supervisor) transition(ctx context.Context, d *domain.Deployment, to domain.DeploymentState, event string) error {
	if !domain.CanTransition(d.State, to) {
		return qamerrors.New(qamerrors.ErrorTypeParameterInvalid, "illegal deployment transition "+string(d.State)+" -> "+string(to))
	}
	from := d.State
	d.State = to
	d.UpdatedAt = s.now()
	s.record(ctx, d, event, d.TenantID, map[string]interface{}{"from": from, "to": to})
	metrics.RecordDeployment(string(to))
	return nil
}

// fail rolls d back to FAILED, releasing any reservation already held, and
// returns the causing error to the caller.
func (s *Supervisor) fail(ctx context.Context, d *domain.Deployment, cause error) (*domain.Deployment, error) {
	if d.Reservation.Reserved {
		_ = s.reservations.Release(ctx, d.ID)
		released := s.now()
		d.Reservation.Reserved = false
		d.Reservation.ReleasedAt = &released
	}
	if domain.CanTransition(d.State, domain.StateFailed) {
		d.State = domain.StateFailed
		d.UpdatedAt = s.now()
	}
	s.record(ctx, d, "deployment_failed", d.TenantID, map[string]interface{}{"reason": cause.Error()})
	_ = s.store.Save(ctx, d)
	return nil, cause
}

func (s *Supervisor) record(ctx context.Context, d *domain.Deployment, event, actor string, details map[string]interface{}) {
	if s.chain == nil {
		return
	}
	_, _ = s.chain.Append(ctx, d.ID, event, actor, details)
}

// Suspend moves a DEPLOYED deployment to SUSPENDED. Idempotent: suspending
// an already-SUSPENDED deployment is a no-op success.
func (s *Supervisor) Suspend(ctx context.Context, id string) (*domain.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.State == domain.StateSuspended {
		return d, nil
	}
	if err := s.transition(ctx, d, domain.StateSuspended, "suspended"); err != nil {
		return nil, err
	}
	return d, s.store.Save(ctx, d)
}

// Resume moves a SUSPENDED deployment back to DEPLOYED. Idempotent:
// resuming an already-DEPLOYED deployment is a no-op success.
func (s *Supervisor) Resume(ctx context.Context, id string) (*domain.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.State == domain.StateDeployed {
		return d, nil
	}
	if err := s.transition(ctx, d, domain.StateDeployed, "resumed"); err != nil {
		return nil, err
	}
	return d, s.store.Save(ctx, d)
}

// Archive moves a DEPLOYED, SUSPENDED, COMPLETED or FAILED deployment to
// ARCHIVED, releasing its reservation if one is still held. Idempotent:
// archiving an already-ARCHIVED deployment is a no-op success.
func (s *Supervisor) Archive(ctx context.Context, id string) (*domain.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.State == domain.StateArchived {
		return d, nil
	}
	if d.Reservation.Reserved {
		if err := s.reservations.Release(ctx, d.ID); err != nil {
			return nil, err
		}
		released := s.now()
		d.Reservation.Reserved = false
		d.Reservation.ReleasedAt = &released
	}
	if err := s.transition(ctx, d, domain.StateArchived, "archived"); err != nil {
		return nil, err
	}
	return d, s.store.Save(ctx, d)
}
