// Package registry is the Template Registry: an insert-only, versioned
// catalog of quantum algorithm templates. A template is never mutated once
// published; a new version is always a new row with the same id and a new
// version string.
package registry

import (
	"context"
	"sort"
	"strings"
	"sync"

	qamerrors "github.com/qam-project/qam/internal/errors"
	"github.com/qam-project/qam/pkg/domain"
)

// Repository is the Template Registry's storage contract.
type Repository interface {
	Publish(ctx context.Context, tmpl *domain.Template) error
	Get(ctx context.Context, id, version string) (*domain.Template, error)
	Latest(ctx context.Context, id string) (*domain.Template, error)
	ByCategory(ctx context.Context, category string) ([]*domain.Template, error)
	ByStatus(ctx context.Context, status domain.TemplateStatus) ([]*domain.Template, error)
	Search(ctx context.Context, query string) ([]*domain.Template, error)
}

// MemoryRepository is an in-process Repository, used by tests and by any
// deployment that seeds its catalog from static config rather than a
// database.
type MemoryRepository struct {
	mu    sync.RWMutex
	byID  map[string][]*domain.Template // id -> versions, append-only, in publish order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string][]*domain.Template)}
}

func (r *MemoryRepository) Publish(_ context.Context, tmpl *domain.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.byID[tmpl.ID] {
		if existing.Version == tmpl.Version {
			return qamerrors.New(qamerrors.ErrorTypeParameterInvalid,
				"template "+tmpl.ID+" version "+tmpl.Version+" already published")
		}
	}
	r.byID[tmpl.ID] = append(r.byID[tmpl.ID], tmpl)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id, version string) (*domain.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, tmpl := range r.byID[id] {
		if tmpl.Version == version {
			return tmpl, nil
		}
	}
	return nil, qamerrors.NewTemplateNotFound(id)
}

func (r *MemoryRepository) Latest(_ context.Context, id string) (*domain.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.byID[id]
	if len(versions) == 0 {
		return nil, qamerrors.NewTemplateNotFound(id)
	}
	// Publish order is insertion order; the latest published version is
	// the last element, not necessarily the lexically greatest semver.
	return versions[len(versions)-1], nil
}

func (r *MemoryRepository) ByCategory(_ context.Context, category string) ([]*domain.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Template
	for _, versions := range r.byID {
		for _, tmpl := range versions {
			if tmpl.Category == category {
				out = append(out, tmpl)
			}
		}
	}
	sortByIDThenVersion(out)
	return out, nil
}

func (r *MemoryRepository) ByStatus(_ context.Context, status domain.TemplateStatus) ([]*domain.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Template
	for _, versions := range r.byID {
		for _, tmpl := range versions {
			if tmpl.Status == status {
				out = append(out, tmpl)
			}
		}
	}
	sortByIDThenVersion(out)
	return out, nil
}

// Search does a case-insensitive substring match over name, description,
// and tags. It's a stand-in for full-text search in the in-memory
// repository; PostgresRepository.Search uses the database's own
// to_tsvector/plainto_tsquery instead.
func (r *MemoryRepository) Search(_ context.Context, query string) ([]*domain.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	var out []*domain.Template
	for _, versions := range r.byID {
		for _, tmpl := range versions {
			if matches(tmpl, q) {
				out = append(out, tmpl)
			}
		}
	}
	sortByIDThenVersion(out)
	return out, nil
}

func matches(tmpl *domain.Template, q string) bool {
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(tmpl.Name), q) {
		return true
	}
	if strings.Contains(strings.ToLower(tmpl.Description), q) {
		return true
	}
	for _, tag := range tmpl.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

func sortByIDThenVersion(templates []*domain.Template) {
	sort.Slice(templates, func(i, j int) bool {
		if templates[i].ID != templates[j].ID {
			return templates[i].ID < templates[j].ID
		}
		return templates[i].Version < templates[j].Version
	})
}
