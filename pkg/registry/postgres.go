package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	qamerrors "github.com/qam-project/qam/internal/errors"
	"github.com/qam-project/qam/pkg/domain"
)

// PostgresRepository is the Template Registry's database-backed Repository,
// one row per (id, version). A row is inserted once and never updated;
// publishing a new version is a new INSERT, never an UPDATE.
type PostgresRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewPostgresRepository(db *sqlx.DB, log *zap.Logger) *PostgresRepository {
	return &PostgresRepository{db: db, log: log}
}

type templateRow struct {
	ID              string    `db:"id"`
	Version         string    `db:"version"`
	Category        string    `db:"category"`
	Algorithms      []byte    `db:"algorithms"`
	AlgorithmFamily string    `db:"algorithm_family"`
	AlgorithmParams []byte    `db:"algorithm_params"`
	ParameterSchema []byte    `db:"parameter_schema"`
	Classification  []byte    `db:"export_classification"`
	SLARequirements []byte    `db:"sla_requirements"`
	ResourceEstimate []byte   `db:"resource_estimate"`
	Status          string    `db:"status"`
	Name            string    `db:"name"`
	Description     string    `db:"description"`
	Tags            []byte    `db:"tags"`
	PublishedAt     time.Time `db:"published_at"`
	ArmCount        int       `db:"arm_count"`
	Extras          []byte    `db:"extras"`
}

func (r *PostgresRepository) Publish(ctx context.Context, tmpl *domain.Template) error {
	row, err := toRow(tmpl)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO templates (
			id, version, category, algorithms, algorithm_family, algorithm_params,
			parameter_schema, export_classification, sla_requirements, resource_estimate,
			status, name, description, tags, published_at, arm_count, extras
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)`,
		row.ID, row.Version, row.Category, row.Algorithms, row.AlgorithmFamily, row.AlgorithmParams,
		row.ParameterSchema, row.Classification, row.SLARequirements, row.ResourceEstimate,
		row.Status, row.Name, row.Description, row.Tags, row.PublishedAt, row.ArmCount, row.Extras,
	)
	if err != nil {
		r.log.Error("failed to publish template", zap.String("id", tmpl.ID), zap.String("version", tmpl.Version), zap.Error(err))
		return fmt.Errorf("registry: failed to publish template: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id, version string) (*domain.Template, error) {
	var row templateRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM templates WHERE id = $1 AND version = $2`, id, version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, qamerrors.NewTemplateNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: failed to load template: %w", err)
	}
	return row.toDomain()
}

func (r *PostgresRepository) Latest(ctx context.Context, id string) (*domain.Template, error) {
	var row templateRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM templates WHERE id = $1 ORDER BY published_at DESC LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, qamerrors.NewTemplateNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: failed to load latest template: %w", err)
	}
	return row.toDomain()
}

func (r *PostgresRepository) ByCategory(ctx context.Context, category string) ([]*domain.Template, error) {
	var rows []templateRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM templates WHERE category = $1 ORDER BY id, version`, category)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to list templates by category: %w", err)
	}
	return rowsToDomain(rows)
}

func (r *PostgresRepository) ByStatus(ctx context.Context, status domain.TemplateStatus) ([]*domain.Template, error) {
	var rows []templateRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM templates WHERE status = $1 ORDER BY id, version`, string(status))
	if err != nil {
		return nil, fmt.Errorf("registry: failed to list templates by status: %w", err)
	}
	return rowsToDomain(rows)
}

// Search uses Postgres full-text search over name, description, and tags.
func (r *PostgresRepository) Search(ctx context.Context, query string) ([]*domain.Template, error) {
	var rows []templateRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM templates
		WHERE to_tsvector('english', name || ' ' || description || ' ' || array_to_string(
			ARRAY(SELECT jsonb_array_elements_text(tags)), ' '))
			@@ plainto_tsquery('english', $1)
		ORDER BY id, version`, query)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to search templates: %w", err)
	}
	return rowsToDomain(rows)
}

func toRow(tmpl *domain.Template) (templateRow, error) {
	algorithms, err := json.Marshal(tmpl.Algorithms)
	if err != nil {
		return templateRow{}, fmt.Errorf("registry: failed to marshal algorithms: %w", err)
	}
	algorithmParams, err := json.Marshal(tmpl.Algorithm)
	if err != nil {
		return templateRow{}, fmt.Errorf("registry: failed to marshal algorithm params: %w", err)
	}
	paramSchema, err := json.Marshal(tmpl.ParameterSchema)
	if err != nil {
		return templateRow{}, fmt.Errorf("registry: failed to marshal parameter schema: %w", err)
	}
	classification, err := json.Marshal(tmpl.ExportClassification)
	if err != nil {
		return templateRow{}, fmt.Errorf("registry: failed to marshal export classification: %w", err)
	}
	slaRequirements, err := json.Marshal(tmpl.SLARequirements)
	if err != nil {
		return templateRow{}, fmt.Errorf("registry: failed to marshal SLA requirements: %w", err)
	}
	resourceEstimate, err := json.Marshal(tmpl.ResourceEstimate)
	if err != nil {
		return templateRow{}, fmt.Errorf("registry: failed to marshal resource estimate: %w", err)
	}
	tags, err := json.Marshal(tmpl.Tags)
	if err != nil {
		return templateRow{}, fmt.Errorf("registry: failed to marshal tags: %w", err)
	}
	extras, err := json.Marshal(tmpl.Extras)
	if err != nil {
		return templateRow{}, fmt.Errorf("registry: failed to marshal extras: %w", err)
	}

	var family string
	if tmpl.Algorithm != nil {
		family = tmpl.Algorithm.FamilyName()
	}

	return templateRow{
		ID: tmpl.ID, Version: tmpl.Version, Category: tmpl.Category,
		Algorithms: algorithms, AlgorithmFamily: family, AlgorithmParams: algorithmParams,
		ParameterSchema: paramSchema, Classification: classification,
		SLARequirements: slaRequirements, ResourceEstimate: resourceEstimate,
		Status: string(tmpl.Status), Name: tmpl.Name, Description: tmpl.Description,
		Tags: tags, PublishedAt: tmpl.PublishedAt, ArmCount: tmpl.ArmCount, Extras: extras,
	}, nil
}

func rowsToDomain(rows []templateRow) ([]*domain.Template, error) {
	out := make([]*domain.Template, 0, len(rows))
	for _, row := range rows {
		tmpl, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, tmpl)
	}
	return out, nil
}

func (row templateRow) toDomain() (*domain.Template, error) {
	tmpl := &domain.Template{
		ID: row.ID, Version: row.Version, Category: row.Category,
		Status: domain.TemplateStatus(row.Status), Name: row.Name, Description: row.Description,
		PublishedAt: row.PublishedAt, ArmCount: row.ArmCount,
	}

	if err := json.Unmarshal(row.Algorithms, &tmpl.Algorithms); err != nil {
		return nil, fmt.Errorf("registry: failed to unmarshal algorithms: %w", err)
	}
	if err := json.Unmarshal(row.ParameterSchema, &tmpl.ParameterSchema); err != nil {
		return nil, fmt.Errorf("registry: failed to unmarshal parameter schema: %w", err)
	}
	if err := json.Unmarshal(row.Classification, &tmpl.ExportClassification); err != nil {
		return nil, fmt.Errorf("registry: failed to unmarshal export classification: %w", err)
	}
	if err := json.Unmarshal(row.SLARequirements, &tmpl.SLARequirements); err != nil {
		return nil, fmt.Errorf("registry: failed to unmarshal SLA requirements: %w", err)
	}
	if err := json.Unmarshal(row.ResourceEstimate, &tmpl.ResourceEstimate); err != nil {
		return nil, fmt.Errorf("registry: failed to unmarshal resource estimate: %w", err)
	}
	if err := json.Unmarshal(row.Tags, &tmpl.Tags); err != nil {
		return nil, fmt.Errorf("registry: failed to unmarshal tags: %w", err)
	}
	if err := json.Unmarshal(row.Extras, &tmpl.Extras); err != nil {
		return nil, fmt.Errorf("registry: failed to unmarshal extras: %w", err)
	}

	algo, err := algorithmFromRow(row.AlgorithmFamily, row.AlgorithmParams)
	if err != nil {
		return nil, err
	}
	tmpl.Algorithm = algo
	return tmpl, nil
}

func algorithmFromRow(family string, raw []byte) (domain.AlgorithmFamily, error) {
	switch family {
	case "VQE":
		var p domain.VQEParameters
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("registry: failed to unmarshal VQE parameters: %w", err)
		}
		return p, nil
	case "QAOA":
		var p domain.QAOAParameters
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("registry: failed to unmarshal QAOA parameters: %w", err)
		}
		return p, nil
	case "Grover":
		var p domain.GroverParameters
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("registry: failed to unmarshal Grover parameters: %w", err)
		}
		return p, nil
	case "":
		return nil, nil
	default:
		var p domain.GenericParameters
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("registry: failed to unmarshal generic parameters: %w", err)
		}
		return p, nil
	}
}
