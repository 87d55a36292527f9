package policy_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	qamerrors "github.com/qam-project/qam/internal/errors"
	"github.com/qam-project/qam/pkg/domain"
	"github.com/qam-project/qam/pkg/policy"
)

func unrestrictedTemplate() *domain.Template {
	return &domain.Template{
		ID: "vqe-h2", Version: "v1.0.0",
		ExportClassification: &domain.ExportClassification{Level: domain.LevelUnrestricted},
	}
}

func restrictedTemplate() *domain.Template {
	return &domain.Template{
		ID: "qaoa-military-logistics", Version: "v1.0.0",
		ExportClassification: &domain.ExportClassification{Level: domain.LevelDualUse},
	}
}

func TestGateAutoApprovesUnrestrictedTemplates(t *testing.T) {
	ctx := context.Background()
	gate := policy.NewGate(policy.NewStaticSanctionsList(nil), nil)

	decision, err := gate.Evaluate(ctx, domain.Actor{ID: "alice", Jurisdiction: "US"}, unrestrictedTemplate(), "US", "research", 1, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !decision.Approved || decision.Level != domain.DecisionAutoApproved {
		t.Fatalf("expected auto-approval for an unrestricted template, got %+v", decision)
	}
}

func TestGateBlocksSanctionedActors(t *testing.T) {
	ctx := context.Background()
	gate := policy.NewGate(policy.NewStaticSanctionsList([]string{"bad-actor"}), nil)

	_, err := gate.Evaluate(ctx, domain.Actor{ID: "bad-actor", Jurisdiction: "US"}, unrestrictedTemplate(), "US", "research", 1, nil)
	if err == nil {
		t.Fatal("expected a sanctioned actor to be blocked")
	}
	appErr, ok := err.(*qamerrors.AppError)
	if !ok || appErr.Type != qamerrors.ErrorTypeSanctionsBlocked {
		t.Fatalf("expected ErrorTypeSanctionsBlocked, got %v", err)
	}
}

func TestGateRequiresApprovalWhenLicenseIsMissing(t *testing.T) {
	ctx := context.Background()
	gate := policy.NewGate(policy.NewStaticSanctionsList(nil), nil)

	rule := &domain.ExportControlRule{
		Jurisdiction: "US",
		ControlList: []domain.ControlListItem{
			{Code: "ECCN-1A001", RequiredLicenses: []string{"dual-use-export-license"}},
		},
	}
	if err := gate.LoadRule(ctx, rule, ""); err != nil {
		t.Fatalf("load rule: %v", err)
	}

	decision, err := gate.Evaluate(ctx, domain.Actor{ID: "alice", Jurisdiction: "US", Licenses: nil}, restrictedTemplate(), "US", "research", 1, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Approved {
		t.Fatal("expected the request to not be auto-approved without the required license")
	}
	if len(decision.MissingLicenses) == 0 {
		t.Fatal("expected at least one missing license to be reported")
	}
}

func TestGateAutoApprovesWhenLicenseIsPresentAndNoRestrictions(t *testing.T) {
	ctx := context.Background()
	gate := policy.NewGate(policy.NewStaticSanctionsList(nil), nil)

	rule := &domain.ExportControlRule{
		Jurisdiction: "US",
		ControlList: []domain.ControlListItem{
			{Code: "ECCN-1A001", RequiredLicenses: []string{"dual-use-export-license"}},
		},
	}
	if err := gate.LoadRule(ctx, rule, ""); err != nil {
		t.Fatalf("load rule: %v", err)
	}

	decision, err := gate.Evaluate(ctx, domain.Actor{ID: "alice", Jurisdiction: "US", Licenses: []string{"dual-use-export-license"}}, restrictedTemplate(), "US", "research", 1, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !decision.Approved {
		t.Fatalf("expected auto-approval once the license is present, got %+v", decision)
	}
}

func TestGateChecksDestinationJurisdictionNotActorHomeJurisdiction(t *testing.T) {
	ctx := context.Background()
	gate := policy.NewGate(policy.NewStaticSanctionsList(nil), nil)

	// Only the CN rule is loaded; the actor's own jurisdiction (US) has none.
	rule := &domain.ExportControlRule{
		Jurisdiction: "CN",
		ControlList: []domain.ControlListItem{
			{Code: "ITAR-CRYPTO-001", RequiredLicenses: []string{"ITAR-CRYPTO-001"}},
		},
	}
	if err := gate.LoadRule(ctx, rule, ""); err != nil {
		t.Fatalf("load rule: %v", err)
	}

	tmpl := &domain.Template{
		ID: "qt-crypto-v1", Version: "v1.0.0",
		ExportClassification: &domain.ExportClassification{Level: domain.LevelDualUse},
	}

	decision, err := gate.Evaluate(ctx, domain.Actor{ID: "alice", Jurisdiction: "US"}, tmpl, "CN", "commercial", 1, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Approved {
		t.Fatalf("expected the CN destination rule to apply regardless of the actor's US home jurisdiction, got %+v", decision)
	}
	if len(decision.MissingLicenses) == 0 || decision.MissingLicenses[0] != "ITAR-CRYPTO-001" {
		t.Fatalf("expected the missing ITAR-CRYPTO-001 license to be reported, got %+v", decision.MissingLicenses)
	}
}

func TestGateExemptionExcusesRestrictionWithDocumentation(t *testing.T) {
	ctx := context.Background()
	gate := policy.NewGate(policy.NewStaticSanctionsList(nil), nil)

	rule := &domain.ExportControlRule{
		Jurisdiction: "DE",
		ControlList: []domain.ControlListItem{
			{
				Code:         "ECCN-3A001",
				Restrictions: []domain.Restriction{{Kind: "end_use", Description: "no unlicensed transfer"}},
				Exemptions: []domain.Exemption{
					{Keywords: []string{"humanitarian"}, RequiresDocumentation: true},
				},
			},
		},
	}
	if err := gate.LoadRule(ctx, rule, ""); err != nil {
		t.Fatalf("load rule: %v", err)
	}

	tmpl := &domain.Template{
		ID: "vqe-catalysis", Version: "v1.0.0",
		ExportClassification: &domain.ExportClassification{Level: domain.LevelDualUse},
	}

	actor := domain.Actor{ID: "alice", Jurisdiction: "US", HasDocumentation: true}
	decision, err := gate.Evaluate(ctx, actor, tmpl, "DE", "humanitarian disaster relief programme", 1, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !decision.Approved {
		t.Fatalf("expected the documented humanitarian exemption to excuse the restriction and auto-approve, got %+v", decision)
	}
	if len(decision.Restrictions) != 0 {
		t.Fatalf("expected the exempted restriction to be excused, got %+v", decision.Restrictions)
	}
}

func TestGateExemptionWithheldWithoutDocumentation(t *testing.T) {
	ctx := context.Background()
	gate := policy.NewGate(policy.NewStaticSanctionsList(nil), nil)

	rule := &domain.ExportControlRule{
		Jurisdiction: "DE",
		ControlList: []domain.ControlListItem{
			{
				Code:         "ECCN-3A001",
				Restrictions: []domain.Restriction{{Kind: "end_use", Description: "no unlicensed transfer"}},
				Exemptions: []domain.Exemption{
					{Keywords: []string{"humanitarian"}, RequiresDocumentation: true},
				},
			},
		},
	}
	if err := gate.LoadRule(ctx, rule, ""); err != nil {
		t.Fatalf("load rule: %v", err)
	}

	tmpl := &domain.Template{
		ID: "vqe-catalysis", Version: "v1.0.0",
		ExportClassification: &domain.ExportClassification{Level: domain.LevelDualUse},
	}

	actor := domain.Actor{ID: "alice", Jurisdiction: "US", HasDocumentation: false}
	decision, err := gate.Evaluate(ctx, actor, tmpl, "DE", "humanitarian disaster relief programme", 1, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Approved {
		t.Fatalf("expected the exemption to be withheld without documentation, got %+v", decision)
	}
	if len(decision.Restrictions) == 0 {
		t.Fatal("expected the restriction to still apply without documentation")
	}
}

func TestGateDualUseAutoApprovesLowRiskEndUseDespiteRestriction(t *testing.T) {
	ctx := context.Background()
	gate := policy.NewGate(policy.NewStaticSanctionsList(nil), nil)

	rule := &domain.ExportControlRule{
		Jurisdiction: "FR",
		ControlList: []domain.ControlListItem{
			{Code: "ECCN-3A002", Restrictions: []domain.Restriction{{Kind: "geographic", Description: "embargoed third-party transfer"}}},
		},
	}
	if err := gate.LoadRule(ctx, rule, ""); err != nil {
		t.Fatalf("load rule: %v", err)
	}

	decision, err := gate.Evaluate(ctx, domain.Actor{ID: "alice", Jurisdiction: "US"}, restrictedTemplate(), "FR", "commercial optimization deployment", 1, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !decision.Approved || decision.Level != domain.DecisionAutoApproved {
		t.Fatalf("expected a DUAL_USE, low-risk end-use request to auto-approve, got %+v", decision)
	}
}

func TestGateDualUseDoesNotAutoApproveHighRiskEndUse(t *testing.T) {
	ctx := context.Background()
	gate := policy.NewGate(policy.NewStaticSanctionsList(nil), nil)

	rule := &domain.ExportControlRule{
		Jurisdiction: "FR",
		ControlList: []domain.ControlListItem{
			{Code: "ECCN-3A002", Restrictions: []domain.Restriction{{Kind: "geographic", Description: "embargoed third-party transfer"}}},
		},
	}
	if err := gate.LoadRule(ctx, rule, ""); err != nil {
		t.Fatalf("load rule: %v", err)
	}

	decision, err := gate.Evaluate(ctx, domain.Actor{ID: "alice", Jurisdiction: "US"}, restrictedTemplate(), "FR", "military surveillance logistics", 1, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Approved {
		t.Fatalf("expected a high-risk end-use keyword to block DUAL_USE auto-approval, got %+v", decision)
	}
}

func TestGateDualUseRespectsAllowedDestinations(t *testing.T) {
	ctx := context.Background()
	gate := policy.NewGate(policy.NewStaticSanctionsList(nil), nil)
	gate.SetAllowedDestinations([]string{"US"})

	rule := &domain.ExportControlRule{
		Jurisdiction: "FR",
		ControlList: []domain.ControlListItem{
			{Code: "ECCN-3A002", Restrictions: []domain.Restriction{{Kind: "geographic", Description: "embargoed third-party transfer"}}},
		},
	}
	if err := gate.LoadRule(ctx, rule, ""); err != nil {
		t.Fatalf("load rule: %v", err)
	}

	decision, err := gate.Evaluate(ctx, domain.Actor{ID: "alice", Jurisdiction: "US"}, restrictedTemplate(), "FR", "commercial optimization deployment", 1, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Approved {
		t.Fatalf("expected FR to be excluded from the allowed-destinations set, got %+v", decision)
	}
}

func TestGateEscalatesReviewersForHighSeverityClassification(t *testing.T) {
	ctx := context.Background()
	gate := policy.NewGate(policy.NewStaticSanctionsList(nil), nil)

	rule := &domain.ExportControlRule{
		Jurisdiction: "CN",
		ControlList: []domain.ControlListItem{
			{Code: "ECCN-9A515", Restrictions: []domain.Restriction{{Kind: "technology", Description: "no re-export without license"}}},
		},
	}
	if err := gate.LoadRule(ctx, rule, ""); err != nil {
		t.Fatalf("load rule: %v", err)
	}

	tmpl := &domain.Template{
		ID: "qaoa-restricted", Version: "v1.0.0",
		ExportClassification: &domain.ExportClassification{Level: domain.LevelRestricted},
	}

	decision, err := gate.Evaluate(ctx, domain.Actor{ID: "alice", Jurisdiction: "US"}, tmpl, "CN", "commercial", 1, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Approved {
		t.Fatalf("expected a RESTRICTED classification to require manual approval, got %+v", decision)
	}
	found := false
	for _, r := range decision.RequiredApprovals {
		if r == domain.ReviewerSecurity {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected security escalation for a RESTRICTED classification, got %+v", decision.RequiredApprovals)
	}
}

func TestClassificationCacheComputesOncePerKey(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cache := policy.NewClassificationCache(client)
	calls := 0
	classify := func(context.Context) (*domain.ExportClassification, error) {
		calls++
		return &domain.ExportClassification{Level: domain.LevelDualUse}, nil
	}

	first, err := cache.GetOrClassify(ctx, "tmpl-1", "v1.0.0", 1, classify)
	if err != nil {
		t.Fatalf("get or classify: %v", err)
	}
	second, err := cache.GetOrClassify(ctx, "tmpl-1", "v1.0.0", 1, classify)
	if err != nil {
		t.Fatalf("get or classify: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected classify to run exactly once, ran %d times", calls)
	}
	if first.Level != second.Level {
		t.Fatalf("expected both results to agree, got %v vs %v", first.Level, second.Level)
	}

	// Bumping the rule generation must miss the cache even for the same template/version.
	if _, err := cache.GetOrClassify(ctx, "tmpl-1", "v1.0.0", 2, classify); err != nil {
		t.Fatalf("get or classify at new generation: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected a rule-generation bump to recompute the classification, calls=%d", calls)
	}
}

func TestApprovalWorkflowEscalatesAndApproves(t *testing.T) {
	workflow := policy.NewApprovalWorkflow(time.Hour)
	approval := workflow.NewApproval("appr-1", "dep-1", []domain.ReviewerLevel{domain.ReviewerCompliance, domain.ReviewerLegal}, time.Now().Add(24*time.Hour))

	if err := workflow.Vote(approval, domain.ReviewVote{Reviewer: "carol", Level: domain.ReviewerCompliance, Approve: true}); err != nil {
		t.Fatalf("vote 1: %v", err)
	}
	if approval.Status != domain.ApprovalPending {
		t.Fatalf("expected the approval to remain pending after the first of two levels, got %v", approval.Status)
	}

	if err := workflow.Vote(approval, domain.ReviewVote{Reviewer: "dana", Level: domain.ReviewerLegal, Approve: true}); err != nil {
		t.Fatalf("vote 2: %v", err)
	}
	if approval.Status != domain.ApprovalApproved {
		t.Fatalf("expected the approval to be approved after both levels voted yes, got %v", approval.Status)
	}
}

func TestApprovalWorkflowDenialIsImmediatelyTerminal(t *testing.T) {
	workflow := policy.NewApprovalWorkflow(time.Hour)
	approval := workflow.NewApproval("appr-2", "dep-2", []domain.ReviewerLevel{domain.ReviewerCompliance, domain.ReviewerLegal}, time.Now().Add(24*time.Hour))

	if err := workflow.Vote(approval, domain.ReviewVote{Reviewer: "carol", Level: domain.ReviewerCompliance, Approve: false}); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if approval.Status != domain.ApprovalDenied {
		t.Fatalf("expected an immediate denial, got %v", approval.Status)
	}

	err := workflow.Vote(approval, domain.ReviewVote{Reviewer: "dana", Level: domain.ReviewerLegal, Approve: true})
	if err == nil {
		t.Fatal("expected voting on a denied approval to fail")
	}
}

func TestApprovalWorkflowExpiresPastStageDeadline(t *testing.T) {
	workflow := policy.NewApprovalWorkflow(time.Minute)
	approval := workflow.NewApproval("appr-3", "dep-3", []domain.ReviewerLevel{domain.ReviewerCompliance}, time.Now().Add(24*time.Hour))

	changed := workflow.CheckDeadline(approval, time.Now().Add(2*time.Minute))
	if !changed || approval.Status != domain.ApprovalExpired {
		t.Fatalf("expected the approval to expire past its stage deadline, got %v changed=%v", approval.Status, changed)
	}
}

func TestApprovalWorkflowRevokeRequiresMonotonicity(t *testing.T) {
	workflow := policy.NewApprovalWorkflow(time.Hour)
	approval := workflow.NewApproval("appr-4", "dep-4", []domain.ReviewerLevel{domain.ReviewerCompliance}, time.Now().Add(24*time.Hour))
	_ = workflow.Vote(approval, domain.ReviewVote{Reviewer: "carol", Level: domain.ReviewerCompliance, Approve: true})

	if err := workflow.Revoke(approval); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if approval.Status != domain.ApprovalRevoked {
		t.Fatalf("expected REVOKED, got %v", approval.Status)
	}
	if err := workflow.Revoke(approval); err == nil {
		t.Fatal("expected revoking an already-revoked approval to fail")
	}
}
