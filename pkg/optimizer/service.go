package optimizer

import (
	"sync"
	"time"

	"github.com/qam-project/qam/pkg/domain"
)

// learnerKey identifies one per-(template, tenant) bandit learner.
type learnerKey struct {
	TemplateID string
	TenantID   string
}

// Service is the Adaptive Optimizer's learner registry (spec §4.4): one
// LearnerState per (template, tenant) pair, advanced by Observe after every
// completed execution. It composes the package's standalone primitives
// (BuildContext, Algorithm, NormalizeReward/Composite, ProposeAdaptation)
// into the single seam a caller drives with raw execution outcomes,
// instead of each caller re-deriving the bandit bookkeeping itself.
type Service struct {
	mu        sync.Mutex
	algorithm Algorithm
	policy    AdaptationPolicy
	ceilings  RewardCeilings
	learners  map[learnerKey]*domain.LearnerState
	now       func() time.Time
}

// NewService wires one Algorithm and AdaptationPolicy across every learner
// the service will come to track; algorithm is whichever of
// LinUCB/ThompsonSampling/EpsilonGreedy/UCB1 the engine's configuration
// selected.
func NewService(algorithm Algorithm, policy AdaptationPolicy, ceilings RewardCeilings) *Service {
	return &Service{
		algorithm: algorithm,
		policy:    policy,
		ceilings:  ceilings,
		learners:  make(map[learnerKey]*domain.LearnerState),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Observation bundles the raw signal one completed execution contributes
// to its learner: the context the bandit conditions its arm choice on and
// the reward that execution actually produced.
type Observation struct {
	Context ContextInput
	Reward  RewardObservation
	Weights RewardWeights
}

// Observe folds one execution's outcome into its (templateID, tenantID)
// learner, seeding the learner's arm population from schema on first use,
// and returns the adaptation decision (applied or suppressed) the gating
// policy reached for this update, plus the parameter set now in effect —
// unchanged from the learner's prior CurrentParams when the event is
// ADAPTATION_SUPPRESSED.
func (s *Service) Observe(templateID, tenantID string, schema []domain.ParameterSpec, armCount int, obs Observation) (domain.AdaptationEvent, map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.stateFor(templateID, tenantID, schema, armCount)

	ctxVec := BuildContext(obs.Context)
	arm := s.algorithm.SelectArm(state.Arms, ctxVec)
	if arm == nil {
		event := domain.AdaptationEvent{Type: domain.AdaptationSuppressed, TemplateID: templateID, TenantID: tenantID, Reason: "no arms to select from", Timestamp: s.now()}
		return event, state.CurrentParams
	}

	reward := NormalizeReward(obs.Reward, s.ceilings)
	composite := Composite(reward, obs.Weights)
	s.algorithm.Update(arm, ctxVec, composite)

	now := s.now()
	state.Window = append(state.Window, domain.PerformancePoint{
		Timestamp: now, Context: ctxVec, Reward: reward, Composite: composite,
	})
	state.Window = RecomputeRanks(state.Window)
	if len(state.Window) > maxWindow {
		state.Window = state.Window[len(state.Window)-maxWindow:]
	}

	improvement := composite - state.BaselineReward
	confidence := confidenceFromSamples(arm.RewardCount, s.policy.MinSamples)

	event, newParams := ProposeAdaptation(s.policy, state, arm.ParameterVector, schema, improvement, confidence, now)
	if event.Type == domain.AdaptationApplied {
		state.CurrentParams = newParams
		state.LastAdaptation = now
		state.BaselineReward = composite
	}
	state.AdaptationLog = append(state.AdaptationLog, event)
	return event, state.CurrentParams
}

// CurrentParams returns the learner's live parameter set, if one exists
// yet for (templateID, tenantID).
func (s *Service) CurrentParams(templateID, tenantID string) (map[string]float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.learners[learnerKey{templateID, tenantID}]
	if !ok {
		return nil, false
	}
	return copyParams(state.CurrentParams), true
}

const maxWindow = 500

func (s *Service) stateFor(templateID, tenantID string, schema []domain.ParameterSpec, armCount int) *domain.LearnerState {
	key := learnerKey{templateID, tenantID}
	if state, ok := s.learners[key]; ok {
		return state
	}

	baseline := baselineParams(schema)
	state := &domain.LearnerState{
		TemplateID:    templateID,
		TenantID:      tenantID,
		Arms:          seedArms(schema, baseline, armCount),
		CurrentParams: baseline,
	}
	s.learners[key] = state
	return state
}

// baselineParams extracts each numeric parameter's Default from schema;
// non-numeric or defaultless parameters are left out of the bandit's
// action space.
func baselineParams(schema []domain.ParameterSpec) map[string]float64 {
	params := make(map[string]float64, len(schema))
	for _, p := range schema {
		if v, ok := p.Default.(float64); ok {
			params[p.Name] = v
		}
	}
	return params
}

// seedArms builds armCount candidate parameter vectors around baseline:
// arm 0 is the baseline itself, and each subsequent arm perturbs every
// parameter toward its schema bounds by an increasing fraction, giving the
// bandit a concrete, bounded action space to explore instead of an
// unconstrained search.
func seedArms(schema []domain.ParameterSpec, baseline map[string]float64, armCount int) []*domain.OptimizerArm {
	if armCount < 1 {
		armCount = 1
	}
	arms := make([]*domain.OptimizerArm, 0, armCount)
	arms = append(arms, NewArm("arm-0-baseline", ContextDimension, copyParams(baseline)))

	for i := 1; i < armCount; i++ {
		frac := float64(i) / float64(armCount)
		params := make(map[string]float64, len(baseline))
		for _, p := range schema {
			v, ok := baseline[p.Name]
			if !ok {
				continue
			}
			params[p.Name] = perturb(v, p, frac)
		}
		arms = append(arms, NewArm(armID(i), ContextDimension, params))
	}
	return arms
}

func perturb(value float64, spec domain.ParameterSpec, frac float64) float64 {
	if spec.Min == nil || spec.Max == nil {
		return value
	}
	span := *spec.Max - *spec.Min
	return clamp01Range(value+span*frac*0.1, *spec.Min, *spec.Max)
}

func clamp01Range(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func armID(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return "arm-" + string(letters[i%len(letters)])
}

func confidenceFromSamples(samples, minSamples int) float64 {
	if minSamples <= 0 {
		return 1
	}
	c := float64(samples) / float64(minSamples)
	if c > 1 {
		return 1
	}
	return c
}
