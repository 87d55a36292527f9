package deployment

import (
	"context"

	"github.com/qam-project/qam/pkg/domain"
)

// ApplyAdaptation merges the Adaptive Optimizer's newly proposed parameter
// values into a deployment's live config and records the change, without
// moving the deployment's lifecycle state. It is valid in any state: an
// adaptation can land while the deployment is DEPLOYED awaiting its next
// execute(), or while EXECUTING, since it only changes what the next run
// picks up.
func (s *Supervisor) ApplyAdaptation(ctx context.Context, deploymentID string, newParams map[string]float64) (*domain.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.store.Get(ctx, deploymentID)
	if err != nil {
		return nil, err
	}

	if d.Config.Parameters == nil {
		d.Config.Parameters = make(map[string]interface{}, len(newParams))
	}
	for name, value := range newParams {
		d.Config.Parameters[name] = value
	}
	d.UpdatedAt = s.now()

	s.record(ctx, d, "adaptation_applied", "optimizer", map[string]interface{}{"parameters": newParams})
	return d, s.store.Save(ctx, d)
}
