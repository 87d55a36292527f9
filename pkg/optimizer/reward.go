package optimizer

import "github.com/qam-project/qam/pkg/domain"

// RewardObservation is the raw, un-normalized signal one completed
// execution produces, before it's folded into a domain.Reward and a
// weighted composite score.
type RewardObservation struct {
	LatencySeconds float64
	Cost           float64
	Quality        float64 // already in [0,1]
	Reliability    float64 // already in [0,1]
	Security       float64 // already in [0,1]
}

// RewardCeilings bound the latency/cost normalization: values at or above
// the ceiling normalize to 0, a value of 0 normalizes to 1.
type RewardCeilings struct {
	MaxLatencySeconds float64 // L_max
	MaxCost           float64 // C_max
}

// NormalizeReward turns a raw observation into the [0,1]-per-objective
// domain.Reward the Pareto layer and bandit algorithms operate on.
func NormalizeReward(obs RewardObservation, ceilings RewardCeilings) domain.Reward {
	return domain.Reward{
		Latency:     normalizeInverse(obs.LatencySeconds, ceilings.MaxLatencySeconds),
		Cost:        normalizeInverse(obs.Cost, ceilings.MaxCost),
		Quality:     clamp01(obs.Quality),
		Reliability: clamp01(obs.Reliability),
		Security:    clamp01(obs.Security),
	}
}

func normalizeInverse(value, ceiling float64) float64 {
	if ceiling <= 0 {
		return 0
	}
	return clamp01(1 - value/ceiling)
}

// RewardWeights are the per-objective weights applied to a Reward's
// components before summing to a composite score. They must sum to 1;
// Composite renormalizes defensively if they don't.
type RewardWeights struct {
	Latency     float64
	Cost        float64
	Quality     float64
	Reliability float64
	Security    float64
}

// WeightsFor derives context-aware weights from a deployment's tenant
// priority: higher criticality boosts reliability and security; lower
// priority boosts the cost weight. priority is expected in [1,5], 5 being
// most critical.
func WeightsFor(priority int) RewardWeights {
	base := RewardWeights{Latency: 0.2, Cost: 0.2, Quality: 0.2, Reliability: 0.2, Security: 0.2}

	switch {
	case priority >= 4:
		base.Reliability += 0.1
		base.Security += 0.1
		base.Cost -= 0.1
		base.Latency -= 0.1
	case priority <= 2:
		base.Cost += 0.15
		base.Reliability -= 0.075
		base.Security -= 0.075
	}
	return normalizeWeights(base)
}

func normalizeWeights(w RewardWeights) RewardWeights {
	sum := w.Latency + w.Cost + w.Quality + w.Reliability + w.Security
	if sum <= 0 {
		return RewardWeights{Latency: 0.2, Cost: 0.2, Quality: 0.2, Reliability: 0.2, Security: 0.2}
	}
	return RewardWeights{
		Latency:     w.Latency / sum,
		Cost:        w.Cost / sum,
		Quality:     w.Quality / sum,
		Reliability: w.Reliability / sum,
		Security:    w.Security / sum,
	}
}

// Composite returns the weighted sum of reward's normalized objectives.
func Composite(reward domain.Reward, weights RewardWeights) float64 {
	return reward.Latency*weights.Latency +
		reward.Cost*weights.Cost +
		reward.Quality*weights.Quality +
		reward.Reliability*weights.Reliability +
		reward.Security*weights.Security
}
