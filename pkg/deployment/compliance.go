package deployment

import (
	"context"
	"time"

	"github.com/qam-project/qam/pkg/domain"
	"github.com/qam-project/qam/pkg/sla"
)

// RefreshCompliance re-scores every deployment's SLAAgreement.Compliance
// against window, dropping violations that have aged out since the last
// execution completed. The engine's periodic compliance-validation loop
// calls this so a deployment's compliance state decays back toward
// COMPLIANT even during a quiet period with no new executions. Returns the
// number of deployments whose compliance state changed.
func (s *Supervisor) RefreshCompliance(ctx context.Context, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deployments, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	changed := 0
	for _, d := range deployments {
		if d.SLAAgreement == nil || len(d.SLAAgreement.Compliance.Violations) == 0 {
			continue
		}
		fresh := recentWithin(d.SLAAgreement.Compliance.Violations, now, window)
		if len(fresh) == len(d.SLAAgreement.Compliance.Violations) {
			continue
		}
		d.SLAAgreement.Compliance = sla.UpdateCompliance(fresh)
		if err := s.store.Save(ctx, d); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// ComplianceSnapshot returns every deployment carrying an SLAAgreement,
// for the engine's metric-collection loop to republish gauges from.
func (s *Supervisor) ComplianceSnapshot(ctx context.Context) ([]*domain.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.List(ctx)
}
