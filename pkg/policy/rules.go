package policy

import (
	"context"
	"os"

	"gopkg.in/yaml.v3"

	qerrors "github.com/qam-project/qam/pkg/shared/errors"

	"github.com/qam-project/qam/pkg/domain"
)

// rulesFile is the on-disk shape of a Policy Gate rules_path document: one
// export control rule per jurisdiction, each with an optional Rego module
// overriding the evaluator's built-in default policy.
type rulesFile struct {
	Rules []struct {
		domain.ExportControlRule `yaml:",inline"`
		RegoModule               string `yaml:"rego_module"`
	} `yaml:"rules"`
}

// LoadRulesFile reads path (the Policy Gate's configured rules_path),
// compiles each jurisdiction's Rego evaluator, and registers all of them on
// gate. Returns the number of jurisdictions loaded.
func LoadRulesFile(ctx context.Context, gate *Gate, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, qerrors.FailedToWithDetails("load export control rules", "rules_path", path, err)
	}

	var doc rulesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, qerrors.ParseError(path, "YAML", err)
	}

	for _, entry := range doc.Rules {
		rule := entry.ExportControlRule
		if err := gate.LoadRule(ctx, &rule, entry.RegoModule); err != nil {
			return 0, qerrors.FailedToWithDetails("compile export control rule", "jurisdiction", rule.Jurisdiction, err)
		}
	}
	return len(doc.Rules), nil
}
