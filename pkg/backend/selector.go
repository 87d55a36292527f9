package backend

import (
	"context"

	qamerrors "github.com/qam-project/qam/internal/errors"
	"github.com/qam-project/qam/pkg/domain"
)

// Candidate is one backend the Selector can choose from: its kind, the
// driver that serves it, and a cached describe() result.
type Candidate struct {
	Name        string
	Driver      Driver
	Description Description
}

// Selector chooses a backend from a deployment's preference list, filtered
// by availability and the SLA's fallback chain. Numerical tie-breaks:
// lower expected cost-per-shot wins; on a cost tie, lower latency (modeled
// here as a lower coherence-time-driven overhead is not latency, so the
// candidate's own reported availability's complement stands in for queue
// latency); on a further tie, the earlier element of the preference list.
type Selector struct {
	candidates map[domain.BackendKind][]Candidate // kind -> all registered candidates of that kind
}

func NewSelector() *Selector {
	return &Selector{candidates: make(map[domain.BackendKind][]Candidate)}
}

func (s *Selector) Register(kind domain.BackendKind, candidate Candidate) {
	s.candidates[kind] = append(s.candidates[kind], candidate)
}

const minAvailability = 0.5

// Select picks the best candidate among preferences (in preference order),
// restricted to kinds present in fallbackChain when fallbackChain is
// non-empty (an SLA requirement's allowed fallback chain).
func (s *Selector) Select(ctx context.Context, preferences []domain.BackendKind, fallbackChain []domain.BackendKind) (Candidate, error) {
	allowed := toSet(fallbackChain)

	var best Candidate
	var bestPrefIndex = -1
	found := false

	for prefIndex, kind := range preferences {
		if len(allowed) > 0 && !allowed[kind] {
			continue
		}
		for _, candidate := range s.candidates[kind] {
			desc, err := candidate.Driver.Describe(ctx)
			if err != nil {
				continue
			}
			candidate.Description = desc
			if desc.Availability < minAvailability {
				continue
			}

			if !found {
				best, bestPrefIndex, found = candidate, prefIndex, true
				continue
			}
			if better(candidate, prefIndex, best, bestPrefIndex) {
				best, bestPrefIndex = candidate, prefIndex
			}
		}
	}

	if !found {
		return Candidate{}, qamerrors.New(qamerrors.ErrorTypeBackendUnavailable, "no backend candidate satisfies availability and fallback-chain constraints")
	}
	return best, nil
}

// better reports whether candidate (at prefIndex in the preference list)
// should replace the current best (at bestPrefIndex): lower cost-per-shot
// wins; on a tie, lower latency (approximated by 1-availability, since a
// backend nearer full availability queues shorter); on a further tie, the
// earlier preference-list position wins.
func better(candidate Candidate, prefIndex int, best Candidate, bestPrefIndex int) bool {
	if candidate.Description.CostPerShot != best.Description.CostPerShot {
		return candidate.Description.CostPerShot < best.Description.CostPerShot
	}
	candidateLatency := 1 - candidate.Description.Availability
	bestLatency := 1 - best.Description.Availability
	if candidateLatency != bestLatency {
		return candidateLatency < bestLatency
	}
	return prefIndex < bestPrefIndex
}

// ByName looks up a previously registered Candidate by its name, for a
// caller (the Execution Runner) that already knows which backend a prior
// Select call chose and needs its Driver back to submit a circuit.
func (s *Selector) ByName(name string) (Candidate, bool) {
	for _, candidates := range s.candidates {
		for _, c := range candidates {
			if c.Name == name {
				return c, true
			}
		}
	}
	return Candidate{}, false
}

func toSet(kinds []domain.BackendKind) map[domain.BackendKind]bool {
	if len(kinds) == 0 {
		return nil
	}
	set := make(map[domain.BackendKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return set
}
