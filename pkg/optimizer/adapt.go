package optimizer

import (
	"math"
	"time"

	"github.com/qam-project/qam/pkg/domain"
)

// AdaptationPolicy holds the gating/bounding/rollback configuration for
// one learner's parameter adaptation loop.
type AdaptationPolicy struct {
	MinSamples           int
	ImprovementThreshold float64
	Cooldown             time.Duration
	MaxParameterChange   float64 // |delta| <= this, per parameter
	RiskThreshold        float64 // risk scores at or above this suppress the adaptation

	RollbackConsecutiveLowReward int           // N consecutive low-reward executions triggers rollback
	RollbackTolerance            float64       // reward below baseline-tolerance counts as "low"
	RollbackWindow               time.Duration // a CRITICAL violation inside this window also triggers rollback
}

// DefaultAdaptationPolicy returns reasonable defaults; callers override
// per-template as needed.
func DefaultAdaptationPolicy() AdaptationPolicy {
	return AdaptationPolicy{
		MinSamples:                    30,
		ImprovementThreshold:          0.02,
		Cooldown:                      15 * time.Minute,
		MaxParameterChange:            0.2,
		RiskThreshold:                 0.7,
		RollbackConsecutiveLowReward:  5,
		RollbackTolerance:             0.1,
		RollbackWindow:                time.Hour,
	}
}

// ProposeAdaptation evaluates whether state's learner should adapt its
// live parameters to proposed, returning the AdaptationEvent to append
// (ADAPTATION_APPLIED or ADAPTATION_SUPPRESSED) and the new parameter
// map if applied. now is the caller's clock reading, passed in rather
// than read internally so the gating decision is reproducible in tests.
func ProposeAdaptation(policy AdaptationPolicy, state *domain.LearnerState, proposed map[string]float64, schema []domain.ParameterSpec, recentImprovement, confidence float64, now time.Time) (domain.AdaptationEvent, map[string]float64) {
	samples := sampleCount(state)

	if samples < policy.MinSamples {
		return suppressed(state, "insufficient samples for adaptation", now), state.CurrentParams
	}
	if recentImprovement < policy.ImprovementThreshold {
		return suppressed(state, "recent improvement below threshold", now), state.CurrentParams
	}
	if !state.LastAdaptation.IsZero() && now.Sub(state.LastAdaptation) < policy.Cooldown {
		return suppressed(state, "within adaptation cooldown", now), state.CurrentParams
	}

	bounded := boundAndClip(state.CurrentParams, proposed, schema, policy.MaxParameterChange)
	risk := riskScore(state.CurrentParams, bounded, confidence)

	if risk >= policy.RiskThreshold {
		return suppressed(state, "risk score above threshold; rollback would be required immediately", now), state.CurrentParams
	}

	event := domain.AdaptationEvent{
		Type:        domain.AdaptationApplied,
		TemplateID:  state.TemplateID,
		TenantID:    state.TenantID,
		PriorParams: copyParams(state.CurrentParams),
		NewParams:   bounded,
		RiskScore:   risk,
		Reason:      "adaptation gating satisfied",
		Timestamp:   now,
	}
	return event, bounded
}

func sampleCount(state *domain.LearnerState) int {
	var total int
	for _, arm := range state.Arms {
		total += arm.RewardCount
	}
	return total
}

func suppressed(state *domain.LearnerState, reason string, now time.Time) domain.AdaptationEvent {
	return domain.AdaptationEvent{
		Type:       domain.AdaptationSuppressed,
		TemplateID: state.TemplateID,
		TenantID:   state.TenantID,
		Reason:     reason,
		Timestamp:  now,
	}
}

// boundAndClip bounds every proposed change to maxChange and clips the
// result to the parameter's schema-declared [Min,Max], so a runaway
// proposal can never leave the template's declared parameter space.
func boundAndClip(current, proposed map[string]float64, schema []domain.ParameterSpec, maxChange float64) map[string]float64 {
	bounds := make(map[string]domain.ParameterSpec, len(schema))
	for _, spec := range schema {
		bounds[spec.Name] = spec
	}

	bounded := make(map[string]float64, len(proposed))
	for name, target := range proposed {
		base := current[name]
		delta := target - base
		if delta > maxChange {
			delta = maxChange
		}
		if delta < -maxChange {
			delta = -maxChange
		}
		value := base + delta

		if spec, ok := bounds[name]; ok {
			if spec.Min != nil && value < *spec.Min {
				value = *spec.Min
			}
			if spec.Max != nil && value > *spec.Max {
				value = *spec.Max
			}
		}
		bounded[name] = value
	}
	return bounded
}

// riskScore aggregates relative change magnitude and update confidence
// into a single [0,1]-ish figure: larger relative changes and lower
// confidence both push risk up.
func riskScore(current, proposed map[string]float64, confidence float64) float64 {
	var maxRelative float64
	for name, newValue := range proposed {
		oldValue := current[name]
		denom := math.Abs(oldValue)
		if denom < 1e-9 {
			denom = 1
		}
		relative := math.Abs(newValue-oldValue) / denom
		if relative > maxRelative {
			maxRelative = relative
		}
	}
	confidenceRisk := 1 - clamp01(confidence)
	return clamp01(0.6*clamp01(maxRelative) + 0.4*confidenceRisk)
}

func copyParams(params map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// CheckRollback evaluates whether state should roll back its most recent
// adaptation: either recentRewards holds at least
// policy.RollbackConsecutiveLowReward consecutive observations below
// baseline-tolerance, or criticalViolationAt falls within
// policy.RollbackWindow of now. Returns the ROLLBACK_EXECUTED event and
// the restored parameter map; ok is false if no rollback is warranted (or
// there's no prior adaptation to roll back to).
func CheckRollback(policy AdaptationPolicy, state *domain.LearnerState, recentRewards []float64, criticalViolationAt *time.Time, now time.Time) (domain.AdaptationEvent, map[string]float64, bool) {
	lastApplied := lastAppliedAdaptation(state)
	if lastApplied == nil {
		return domain.AdaptationEvent{}, nil, false
	}

	consecutiveLow := consecutiveBelow(recentRewards, state.BaselineReward-policy.RollbackTolerance, policy.RollbackConsecutiveLowReward)
	criticalInWindow := criticalViolationAt != nil && now.Sub(*criticalViolationAt) <= policy.RollbackWindow

	if !consecutiveLow && !criticalInWindow {
		return domain.AdaptationEvent{}, nil, false
	}

	reason := "consecutive low-reward executions"
	if criticalInWindow {
		reason = "CRITICAL violation within rollback window"
	}

	event := domain.AdaptationEvent{
		Type:        domain.AdaptationRollback,
		TemplateID:  state.TemplateID,
		TenantID:    state.TenantID,
		PriorParams: copyParams(state.CurrentParams),
		NewParams:   copyParams(lastApplied.PriorParams),
		Reason:      reason,
		Timestamp:   now,
	}
	return event, lastApplied.PriorParams, true
}

func lastAppliedAdaptation(state *domain.LearnerState) *domain.AdaptationEvent {
	for i := len(state.AdaptationLog) - 1; i >= 0; i-- {
		if state.AdaptationLog[i].Type == domain.AdaptationApplied {
			return &state.AdaptationLog[i]
		}
	}
	return nil
}

func consecutiveBelow(rewards []float64, floor float64, n int) bool {
	if len(rewards) < n {
		return false
	}
	tail := rewards[len(rewards)-n:]
	for _, r := range tail {
		if r >= floor {
			return false
		}
	}
	return true
}
