package policy

import (
	"context"
	"strings"

	qamerrors "github.com/qam-project/qam/internal/errors"
	"github.com/qam-project/qam/pkg/domain"
)

// SanctionsList is the contract the Policy Gate screens an Actor against.
// A Rego-backed or vendor-API-backed implementation can both satisfy this.
type SanctionsList interface {
	Screen(ctx context.Context, actor domain.Actor) (domain.ScreenResult, error)
}

// StaticSanctionsList screens against a fixed denylist of actor ids, used
// for tests and for deployments that mirror a sanctions list into local
// config rather than calling out to a vendor API.
type StaticSanctionsList struct {
	Blocked map[string]bool
}

func NewStaticSanctionsList(blocked []string) *StaticSanctionsList {
	set := make(map[string]bool, len(blocked))
	for _, id := range blocked {
		set[id] = true
	}
	return &StaticSanctionsList{Blocked: set}
}

func (s *StaticSanctionsList) Screen(_ context.Context, actor domain.Actor) (domain.ScreenResult, error) {
	if s.Blocked[actor.ID] {
		return domain.ScreenResult{Status: domain.SanctionsBlocked, Matches: []string{actor.ID}}, nil
	}
	return domain.ScreenResult{Status: domain.SanctionsClear}, nil
}

// Gate runs a deployment request through the Policy Gate pipeline: screen
// the actor, classify the template, jurisdiction-check, license-check, then
// decide whether the result is auto-approved, denied, or needs manual
// approval. Sanctions screening runs before classification, so a blocked
// actor is denied without the template being classified.
type Gate struct {
	rules      map[string]*domain.ExportControlRule // destination jurisdiction -> rules
	evaluators map[string]*Evaluator                // destination jurisdiction -> compiled policy
	sanctions  SanctionsList
	cache      *ClassificationCache

	// allowedDestinations gates DUAL_USE auto-approval (see dualUseAutoApproveEligible).
	// A nil/empty set means every destination is allowed.
	allowedDestinations map[string]bool
}

func NewGate(sanctions SanctionsList, cache *ClassificationCache) *Gate {
	return &Gate{
		rules:      make(map[string]*domain.ExportControlRule),
		evaluators: make(map[string]*Evaluator),
		sanctions:  sanctions,
		cache:      cache,
	}
}

// SetAllowedDestinations restricts DUAL_USE auto-approval to the given
// destination jurisdictions. Passing a nil or empty slice lifts the
// restriction (every destination is allowed), which is also the zero-value
// behavior of a Gate that never calls this method.
func (g *Gate) SetAllowedDestinations(destinations []string) {
	if len(destinations) == 0 {
		g.allowedDestinations = nil
		return
	}
	set := make(map[string]bool, len(destinations))
	for _, d := range destinations {
		set[d] = true
	}
	g.allowedDestinations = set
}

func (g *Gate) destinationAllowed(destination string) bool {
	if len(g.allowedDestinations) == 0 {
		return true
	}
	return g.allowedDestinations[destination]
}

// LoadRule registers a control list and compiles its Rego policy (or the
// built-in default if regoModule is empty) for rule.Jurisdiction - the
// destination jurisdiction the export is headed to, not an actor's home
// jurisdiction.
func (g *Gate) LoadRule(ctx context.Context, rule *domain.ExportControlRule, regoModule string) error {
	evaluator, err := NewEvaluator(ctx, regoModule)
	if err != nil {
		return err
	}
	g.rules[rule.Jurisdiction] = rule
	g.evaluators[rule.Jurisdiction] = evaluator
	return nil
}

// dualUseLowRiskEndUseKeywords and dualUseHighRiskEndUseKeywords implement
// the DUAL_USE auto-approve end-use test: a low-risk keyword must be
// present and no high-risk keyword may be.
var dualUseLowRiskEndUseKeywords = []string{"research", "education", "academic", "commercial", "optimization"}
var dualUseHighRiskEndUseKeywords = []string{"military", "defense", "weapon", "surveillance", "intelligence"}

func dualUseAutoApproveEligible(endUse string) bool {
	lower := strings.ToLower(endUse)
	lowRisk := false
	for _, kw := range dualUseLowRiskEndUseKeywords {
		if strings.Contains(lower, kw) {
			lowRisk = true
			break
		}
	}
	if !lowRisk {
		return false
	}
	for _, kw := range dualUseHighRiskEndUseKeywords {
		if strings.Contains(lower, kw) {
			return false
		}
	}
	return true
}

// exemptionApplies reports whether ex excuses a restriction given the
// declared end-use and the requesting actor: its keyword or explicit-tag
// criteria must match endUse, and the actor must satisfy any documentation
// requirement.
func exemptionApplies(ex domain.Exemption, endUse string, actor domain.Actor) bool {
	if ex.RequiresDocumentation && !actor.HasDocumentation {
		return false
	}
	lower := strings.ToLower(endUse)
	for _, kw := range ex.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	for _, tag := range ex.ExplicitTags {
		tag = strings.ToLower(tag)
		for _, token := range strings.Fields(lower) {
			if strings.Trim(token, ",.;") == tag {
				return true
			}
		}
	}
	return false
}

// restrictionApplies reports whether r is the applicable restriction for
// the declared end-use: an empty Restriction.EndUse applies to every
// end-use, otherwise it must match (case-insensitive, substring) the
// declared text.
func restrictionApplies(r domain.Restriction, endUse string) bool {
	if r.EndUse == "" {
		return true
	}
	return strings.Contains(strings.ToLower(endUse), strings.ToLower(r.EndUse))
}

// resolveControlList narrows each control-list item's restrictions to those
// that apply to the declared end-use, then clears them entirely when an
// exemption's criteria are met - the jurisdiction-check stage (spec step 3)
// run before the item is handed to the license/restriction Rego query.
func resolveControlList(items []domain.ControlListItem, endUse string, actor domain.Actor) []domain.ControlListItem {
	out := make([]domain.ControlListItem, len(items))
	copy(out, items)
	for i, item := range out {
		applicable := make([]domain.Restriction, 0, len(item.Restrictions))
		for _, r := range item.Restrictions {
			if restrictionApplies(r, endUse) {
				applicable = append(applicable, r)
			}
		}
		for _, ex := range item.Exemptions {
			if exemptionApplies(ex, endUse, actor) {
				applicable = nil
				break
			}
		}
		out[i].Restrictions = applicable
	}
	return out
}

// Evaluate runs the full pipeline for one (template, actor, destination,
// end-use) request and returns the Policy Gate's verdict. destination is
// the jurisdiction the export is headed to - distinct from actor.Jurisdiction,
// which is only where the requesting actor is based.
func (g *Gate) Evaluate(
	ctx context.Context,
	actor domain.Actor,
	tmpl *domain.Template,
	destination string,
	endUse string,
	ruleGeneration uint64,
	classify func(ctx context.Context) (*domain.ExportClassification, error),
) (domain.PolicyDecision, error) {
	screenResult, err := g.sanctions.Screen(ctx, actor)
	if err != nil {
		return domain.PolicyDecision{}, err
	}
	if screenResult.Status == domain.SanctionsBlocked || screenResult.Status == domain.SanctionsConfirmedMatch {
		return domain.PolicyDecision{
			Approved: false, Level: domain.DecisionDenied,
			Reasoning: "actor failed sanctions screening: " + strings.Join(screenResult.Matches, ", "),
		}, qamerrors.NewSanctionsBlocked(actor.ID)
	}

	classification := tmpl.ExportClassification
	if classification == nil && g.cache != nil && classify != nil {
		classification, err = g.cache.GetOrClassify(ctx, tmpl.ID, tmpl.Version, ruleGeneration, classify)
		if err != nil {
			return domain.PolicyDecision{}, err
		}
	}
	if classification == nil {
		return domain.PolicyDecision{}, qamerrors.New(qamerrors.ErrorTypeParameterInvalid, "template has no export classification")
	}

	if classification.Level == domain.LevelUnrestricted {
		return domain.PolicyDecision{Approved: true, Level: domain.DecisionAutoApproved, Reasoning: "unrestricted template"}, nil
	}

	rule := g.rules[destination]
	if rule == nil {
		return domain.PolicyDecision{
			Approved: false, Level: domain.DecisionNeedsApproval,
			RequiredApprovals: []domain.ReviewerLevel{domain.ReviewerCompliance},
			Reasoning:         "no jurisdiction rule loaded for destination " + destination,
		}, nil
	}

	controlList := resolveControlList(rule.ControlList, endUse, actor)

	evaluator := g.evaluators[destination]
	output, err := evaluator.Evaluate(ctx, RegoInput{
		Actor: actor, Destination: destination, Classification: string(classification.Level),
		ControlList: controlList, EndUse: endUse,
	})
	if err != nil {
		return domain.PolicyDecision{}, err
	}

	decision := domain.PolicyDecision{
		MissingLicenses: output.MissingLicenses,
		Restrictions:    output.Restrictions,
		Reasoning:       output.Reason,
	}
	for _, lic := range actor.Licenses {
		decision.ValidLicenses = append(decision.ValidLicenses, lic)
	}
	for _, level := range output.RequiredApprovals {
		decision.RequiredApprovals = append(decision.RequiredApprovals, domain.ReviewerLevel(level))
	}

	switch {
	case output.Allow:
		decision.Approved = true
		decision.Level = domain.DecisionAutoApproved
	case len(decision.MissingLicenses) == 0 && classification.Level == domain.LevelDualUse &&
		dualUseAutoApproveEligible(endUse) && g.destinationAllowed(destination):
		decision.Approved = true
		decision.Level = domain.DecisionAutoApproved
		decision.Reasoning = "dual-use, low-risk end-use, destination within allowed jurisdictions"
	case len(decision.RequiredApprovals) > 0:
		decision.Approved = false
		decision.Level = domain.DecisionNeedsApproval
	default:
		decision.Approved = false
		decision.Level = domain.DecisionDenied
	}
	return decision, nil
}
