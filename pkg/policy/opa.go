// Package policy implements the Policy Gate: export-control classification,
// sanctions screening, jurisdiction and license checks, and the manual
// Approval Workflow that handles anything the gate can't auto-approve.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/qam-project/qam/pkg/domain"
)

// RegoInput is what gets serialized to `input` for the jurisdiction/license
// Rego query. Destination is the jurisdiction the export is headed to (not
// the actor's own jurisdiction); Classification lets a policy scale its
// required approvals with the template's export-control severity.
type RegoInput struct {
	Actor          domain.Actor             `json:"actor"`
	Destination    string                   `json:"destination"`
	Classification string                   `json:"classification"`
	ControlList    []domain.ControlListItem `json:"controlList"`
	EndUse         string                   `json:"endUse"`
}

// RegoOutput is the decision object a jurisdiction policy must return.
type RegoOutput struct {
	Allow             bool     `json:"allow"`
	RequiredApprovals []string `json:"requiredApprovals"`
	MissingLicenses   []string `json:"missingLicenses"`
	Restrictions      []string `json:"restrictions"`
	Reason            string   `json:"reason"`
}

// defaultJurisdictionPolicy is the built-in Rego module used when no
// per-jurisdiction policy has been loaded: it denies control-listed items
// unless the actor holds every required license, and otherwise defers to
// manual approval when any restriction applies. Required approvals escalate
// to include "security" when the template's classification is one of the
// higher-severity levels (RESTRICTED, ITAR_CONTROLLED, EAR_CONTROLLED,
// CLASSIFIED), matching the "restricted -> compliance + legal + security"
// reviewer scaling.
const defaultJurisdictionPolicy = `
package qam.jurisdiction

default decision = {"allow": false, "requiredApprovals": [], "missingLicenses": [], "restrictions": [], "reason": "no matching control list entry"}

decision = result {
	some item in input.controlList
	missing := [lic | lic := item.requiredLicenses[_]; not license_held(lic)]
	count(missing) == 0
	count(item.restrictions) == 0
	result := {"allow": true, "requiredApprovals": [], "missingLicenses": [], "restrictions": [], "reason": "no restrictions, all licenses present"}
}

decision = result {
	some item in input.controlList
	missing := [lic | lic := item.requiredLicenses[_]; not license_held(lic)]
	count(missing) > 0
	result := {"allow": false, "requiredApprovals": missing_license_approvals, "missingLicenses": missing, "restrictions": [], "reason": "missing required license(s)"}
}

decision = result {
	some item in input.controlList
	missing := [lic | lic := item.requiredLicenses[_]; not license_held(lic)]
	count(missing) == 0
	count(item.restrictions) > 0
	result := {"allow": false, "requiredApprovals": restriction_approvals, "missingLicenses": [], "restrictions": [r | r := item.restrictions[_].description], "reason": "control-listed with restrictions, needs manual review"}
}

missing_license_approvals = ["compliance", "security"] {
	high_severity
} else = ["compliance"]

restriction_approvals = ["compliance", "legal", "security"] {
	high_severity
} else = ["compliance", "legal"]

high_severity {
	input.classification == "RESTRICTED"
}

high_severity {
	input.classification == "ITAR_CONTROLLED"
}

high_severity {
	input.classification == "EAR_CONTROLLED"
}

high_severity {
	input.classification == "CLASSIFIED"
}

license_held(lic) {
	some held in input.actor.licenses
	held == lic
}
`

// Evaluator wraps a prepared Rego query for a jurisdiction's export-control
// policy, following the pattern of compiling once and reusing the prepared
// query across every evaluation.
type Evaluator struct {
	prepared rego.PreparedEvalQuery
	module   string
}

// NewEvaluator compiles regoModule (or the built-in default, when empty)
// into a prepared query.
func NewEvaluator(ctx context.Context, regoModule string) (*Evaluator, error) {
	if regoModule == "" {
		regoModule = defaultJurisdictionPolicy
	}
	prepared, err := rego.New(
		rego.Query("data.qam.jurisdiction.decision"),
		rego.Module("jurisdiction.rego", regoModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy: failed to prepare jurisdiction policy: %w", err)
	}
	return &Evaluator{prepared: prepared, module: regoModule}, nil
}

// Evaluate runs the prepared query against input and decodes its decision
// object. A query with no results is treated as an implicit deny
// (fail-closed).
func (e *Evaluator) Evaluate(ctx context.Context, input RegoInput) (RegoOutput, error) {
	results, err := e.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return RegoOutput{}, fmt.Errorf("policy: jurisdiction evaluation failed: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return RegoOutput{Allow: false, Reason: "policy returned no decision (fail closed)"}, nil
	}

	raw, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return RegoOutput{Allow: false, Reason: "policy returned a malformed decision (fail closed)"}, nil
	}
	return decodeRegoOutput(raw), nil
}

func decodeRegoOutput(raw map[string]interface{}) RegoOutput {
	out := RegoOutput{}
	if allow, ok := raw["allow"].(bool); ok {
		out.Allow = allow
	}
	out.RequiredApprovals = stringSlice(raw["requiredApprovals"])
	out.MissingLicenses = stringSlice(raw["missingLicenses"])
	out.Restrictions = stringSlice(raw["restrictions"])
	if reason, ok := raw["reason"].(string); ok {
		out.Reason = reason
	}
	return out
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
