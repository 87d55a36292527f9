package deployment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	qamerrors "github.com/qam-project/qam/internal/errors"
	"github.com/qam-project/qam/pkg/domain"
)

// PostgresStore is the Deployment Supervisor's database-backed Store. A
// deployment's row is upserted on every Save, since the Supervisor calls
// Save on every state transition rather than just at creation.
type PostgresStore struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewPostgresStore(db *sqlx.DB, log *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

type deploymentRow struct {
	ID             string    `db:"id"`
	TemplateID     string    `db:"template_id"`
	TenantID       string    `db:"tenant_id"`
	TenantPriority int       `db:"tenant_priority"`
	Config         []byte    `db:"config"`
	SLAAgreement   []byte    `db:"sla_agreement"`
	Reservation    []byte    `db:"reservation"`
	ApprovalID     string    `db:"approval_id"`
	State          string    `db:"state"`
	CreatedAt      sql.NullTime `db:"created_at"`
	UpdatedAt      sql.NullTime `db:"updated_at"`
	EnqueuedAt     sql.NullTime `db:"enqueued_at"`
}

func (s *PostgresStore) Save(ctx context.Context, d *domain.Deployment) error {
	row, err := deploymentToRow(d)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deployments (
			id, template_id, tenant_id, tenant_priority, config, sla_agreement,
			reservation, approval_id, state, created_at, updated_at, enqueued_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			tenant_priority = EXCLUDED.tenant_priority,
			config          = EXCLUDED.config,
			sla_agreement   = EXCLUDED.sla_agreement,
			reservation     = EXCLUDED.reservation,
			approval_id     = EXCLUDED.approval_id,
			state           = EXCLUDED.state,
			updated_at      = EXCLUDED.updated_at`,
		row.ID, row.TemplateID, row.TenantID, row.TenantPriority, row.Config, row.SLAAgreement,
		row.Reservation, row.ApprovalID, row.State, row.CreatedAt, row.UpdatedAt, row.EnqueuedAt,
	)
	if err != nil {
		s.log.Error("failed to save deployment", zap.String("id", d.ID), zap.Error(err))
		return fmt.Errorf("deployment: failed to save: %w", err)
	}

	return s.saveExecutions(ctx, d)
}

// saveExecutions upserts every Execution owned by d. Executions are
// append-mostly (new ones created by StartExecution, existing ones updated
// in place by Complete/Fail/CancelExecution), so an upsert per row mirrors
// the deployment upsert above.
func (s *PostgresStore) saveExecutions(ctx context.Context, d *domain.Deployment) error {
	for i := range d.Executions {
		exec := &d.Executions[i]
		row, err := executionToRow(d.ID, exec)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO executions (
				id, deployment_id, backend_selected, backend_name, shots,
				optimization_level, error_mitigation, status, results, correctness,
				perf, cost, created_at, completed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (id) DO UPDATE SET
				backend_selected = EXCLUDED.backend_selected,
				backend_name     = EXCLUDED.backend_name,
				status           = EXCLUDED.status,
				results          = EXCLUDED.results,
				correctness      = EXCLUDED.correctness,
				perf             = EXCLUDED.perf,
				cost             = EXCLUDED.cost,
				completed_at     = EXCLUDED.completed_at`,
			row.ID, row.DeploymentID, row.BackendSelected, row.BackendName, row.Shots,
			row.OptimizationLevel, row.ErrorMitigation, row.Status, row.Results, row.Correctness,
			row.Perf, row.Cost, row.CreatedAt, row.CompletedAt,
		)
		if err != nil {
			s.log.Error("failed to save execution", zap.String("id", exec.ID), zap.Error(err))
			return fmt.Errorf("deployment: failed to save execution: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.Deployment, error) {
	var row deploymentRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM deployments WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, qamerrors.New(qamerrors.ErrorTypeTemplateNotFound, "deployment "+id+" not found")
		}
		return nil, fmt.Errorf("deployment: failed to load: %w", err)
	}

	d, err := row.toDomain()
	if err != nil {
		return nil, err
	}

	var execRows []executionRow
	if err := s.db.SelectContext(ctx, &execRows, `SELECT * FROM executions WHERE deployment_id = $1 ORDER BY created_at`, id); err != nil {
		return nil, fmt.Errorf("deployment: failed to load executions: %w", err)
	}
	for _, er := range execRows {
		exec, err := er.toDomain()
		if err != nil {
			return nil, err
		}
		d.Executions = append(d.Executions, *exec)
	}

	return d, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*domain.Deployment, error) {
	var rows []deploymentRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM deployments ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("deployment: failed to list: %w", err)
	}

	out := make([]*domain.Deployment, 0, len(rows))
	for _, row := range rows {
		d, err := row.toDomain()
		if err != nil {
			return nil, err
		}

		var execRows []executionRow
		if err := s.db.SelectContext(ctx, &execRows, `SELECT * FROM executions WHERE deployment_id = $1 ORDER BY created_at`, d.ID); err != nil {
			return nil, fmt.Errorf("deployment: failed to load executions for %s: %w", d.ID, err)
		}
		for _, er := range execRows {
			exec, err := er.toDomain()
			if err != nil {
				return nil, err
			}
			d.Executions = append(d.Executions, *exec)
		}

		out = append(out, d)
	}
	return out, nil
}

func deploymentToRow(d *domain.Deployment) (deploymentRow, error) {
	config, err := json.Marshal(d.Config)
	if err != nil {
		return deploymentRow{}, fmt.Errorf("deployment: failed to marshal config: %w", err)
	}
	agreement, err := json.Marshal(d.SLAAgreement)
	if err != nil {
		return deploymentRow{}, fmt.Errorf("deployment: failed to marshal sla agreement: %w", err)
	}
	reservation, err := json.Marshal(d.Reservation)
	if err != nil {
		return deploymentRow{}, fmt.Errorf("deployment: failed to marshal reservation: %w", err)
	}

	return deploymentRow{
		ID: d.ID, TemplateID: d.TemplateID, TenantID: d.TenantID, TenantPriority: d.TenantPriority,
		Config: config, SLAAgreement: agreement, Reservation: reservation, ApprovalID: d.ApprovalID,
		State:      string(d.State),
		CreatedAt:  sql.NullTime{Time: d.CreatedAt, Valid: !d.CreatedAt.IsZero()},
		UpdatedAt:  sql.NullTime{Time: d.UpdatedAt, Valid: !d.UpdatedAt.IsZero()},
		EnqueuedAt: sql.NullTime{Time: d.EnqueuedAt, Valid: !d.EnqueuedAt.IsZero()},
	}, nil
}

func (row deploymentRow) toDomain() (*domain.Deployment, error) {
	d := &domain.Deployment{
		ID: row.ID, TemplateID: row.TemplateID, TenantID: row.TenantID, TenantPriority: row.TenantPriority,
		ApprovalID: row.ApprovalID, State: domain.DeploymentState(row.State),
		CreatedAt: row.CreatedAt.Time, UpdatedAt: row.UpdatedAt.Time, EnqueuedAt: row.EnqueuedAt.Time,
	}
	if err := json.Unmarshal(row.Config, &d.Config); err != nil {
		return nil, fmt.Errorf("deployment: failed to unmarshal config: %w", err)
	}
	var agreement *domain.SLAAgreement
	if len(row.SLAAgreement) > 0 && string(row.SLAAgreement) != "null" {
		agreement = &domain.SLAAgreement{}
		if err := json.Unmarshal(row.SLAAgreement, agreement); err != nil {
			return nil, fmt.Errorf("deployment: failed to unmarshal sla agreement: %w", err)
		}
	}
	d.SLAAgreement = agreement
	if err := json.Unmarshal(row.Reservation, &d.Reservation); err != nil {
		return nil, fmt.Errorf("deployment: failed to unmarshal reservation: %w", err)
	}
	return d, nil
}

type executionRow struct {
	ID                string       `db:"id"`
	DeploymentID      string       `db:"deployment_id"`
	BackendSelected   string       `db:"backend_selected"`
	BackendName       string       `db:"backend_name"`
	Shots             int          `db:"shots"`
	OptimizationLevel int          `db:"optimization_level"`
	ErrorMitigation   bool         `db:"error_mitigation"`
	Status            string       `db:"status"`
	Results           []byte       `db:"results"`
	Correctness       []byte       `db:"correctness"`
	Perf              []byte       `db:"perf"`
	Cost              []byte       `db:"cost"`
	CreatedAt         sql.NullTime `db:"created_at"`
	CompletedAt       sql.NullTime `db:"completed_at"`
}

func executionToRow(deploymentID string, exec *domain.Execution) (executionRow, error) {
	results, err := json.Marshal(exec.Results)
	if err != nil {
		return executionRow{}, fmt.Errorf("deployment: failed to marshal results: %w", err)
	}
	correctness, err := json.Marshal(exec.Correctness)
	if err != nil {
		return executionRow{}, fmt.Errorf("deployment: failed to marshal correctness: %w", err)
	}
	perf, err := json.Marshal(exec.Perf)
	if err != nil {
		return executionRow{}, fmt.Errorf("deployment: failed to marshal perf: %w", err)
	}
	cost, err := json.Marshal(exec.Cost)
	if err != nil {
		return executionRow{}, fmt.Errorf("deployment: failed to marshal cost: %w", err)
	}

	completedAt := sql.NullTime{}
	if exec.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *exec.CompletedAt, Valid: true}
	}

	return executionRow{
		ID: exec.ID, DeploymentID: deploymentID, BackendSelected: string(exec.BackendSelected),
		BackendName: exec.BackendName, Shots: exec.Shots, OptimizationLevel: exec.OptimizationLevel,
		ErrorMitigation: exec.ErrorMitigation, Status: string(exec.Status),
		Results: results, Correctness: correctness, Perf: perf, Cost: cost,
		CreatedAt:   sql.NullTime{Time: exec.CreatedAt, Valid: !exec.CreatedAt.IsZero()},
		CompletedAt: completedAt,
	}, nil
}

func (row executionRow) toDomain() (*domain.Execution, error) {
	exec := &domain.Execution{
		ID: row.ID, DeploymentID: row.DeploymentID, BackendSelected: domain.BackendKind(row.BackendSelected), BackendName: row.BackendName,
		Shots: row.Shots, OptimizationLevel: row.OptimizationLevel, ErrorMitigation: row.ErrorMitigation,
		Status: domain.ExecutionStatus(row.Status), CreatedAt: row.CreatedAt.Time,
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time
		exec.CompletedAt = &t
	}
	if err := json.Unmarshal(row.Results, &exec.Results); err != nil {
		return nil, fmt.Errorf("deployment: failed to unmarshal results: %w", err)
	}
	if err := json.Unmarshal(row.Correctness, &exec.Correctness); err != nil {
		return nil, fmt.Errorf("deployment: failed to unmarshal correctness: %w", err)
	}
	if err := json.Unmarshal(row.Perf, &exec.Perf); err != nil {
		return nil, fmt.Errorf("deployment: failed to unmarshal perf: %w", err)
	}
	if err := json.Unmarshal(row.Cost, &exec.Cost); err != nil {
		return nil, fmt.Errorf("deployment: failed to unmarshal cost: %w", err)
	}
	return exec, nil
}
