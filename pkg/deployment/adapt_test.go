package deployment_test

import (
	"context"
	"testing"

	"github.com/qam-project/qam/pkg/deployment"
	"github.com/qam-project/qam/pkg/domain"
)

func TestApplyAdaptationMergesParametersWithoutChangingState(t *testing.T) {
	ctx := context.Background()
	sup, repo := newTestSupervisor(t)
	_ = repo.Publish(ctx, unrestrictedTemplate("tmpl-adapt", domain.TemplateAvailable))

	d, err := sup.Deploy(ctx, deployment.DeployInput{
		TemplateID: "tmpl-adapt",
		TenantID:   "tenant-a",
		Config:     domain.DeploymentConfig{Parameters: map[string]interface{}{"shots": 100}},
		Actor:      domain.Actor{ID: "actor-1", Jurisdiction: "US"},
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}

	updated, err := sup.ApplyAdaptation(ctx, d.ID, map[string]float64{"shots": 150})
	if err != nil {
		t.Fatalf("apply adaptation: %v", err)
	}
	if updated.State != domain.StateDeployed {
		t.Fatalf("expected adaptation to leave state DEPLOYED, got %s", updated.State)
	}
	if v, ok := updated.Config.Parameters["shots"].(float64); !ok || v != 150 {
		t.Fatalf("expected shots parameter updated to 150, got %v", updated.Config.Parameters["shots"])
	}

	fetched, err := sup.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v, ok := fetched.Config.Parameters["shots"].(float64); !ok || v != 150 {
		t.Fatalf("expected persisted shots to be 150, got %v", fetched.Config.Parameters["shots"])
	}
}

func TestApplyAdaptationUnknownDeploymentErrors(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	if _, err := sup.ApplyAdaptation(context.Background(), "does-not-exist", map[string]float64{"x": 1}); err == nil {
		t.Fatal("expected an error for an unknown deployment id")
	}
}
