package optimizer

import "github.com/qam-project/qam/pkg/domain"

// rollingWindowSize caps how many recent PerformancePoints dominance
// ranking is recomputed over.
const rollingWindowSize = 200

// Dominates reports whether a is at least as good as b in every objective
// and strictly better in at least one, per the five-objective Reward
// vector (higher is better in all five once normalized).
func Dominates(a, b domain.Reward) bool {
	ac, bc := a.Components(), b.Components()
	strictlyBetter := false
	for i := range ac {
		if ac[i] < bc[i] {
			return false
		}
		if ac[i] > bc[i] {
			strictlyBetter = true
		}
	}
	return strictlyBetter
}

// RecomputeRanks assigns each point's ParetoRank in place: rank is the
// count of other points in window that dominate it. Rank 0 is the Pareto
// front. Only the last rollingWindowSize points (by position, the caller
// is expected to pass them already in recency order) participate.
func RecomputeRanks(window []domain.PerformancePoint) []domain.PerformancePoint {
	if len(window) > rollingWindowSize {
		window = window[len(window)-rollingWindowSize:]
	}

	for i := range window {
		rank := 0
		for j := range window {
			if i == j {
				continue
			}
			if Dominates(window[j].Reward, window[i].Reward) {
				rank++
			}
		}
		window[i].ParetoRank = rank
	}
	return window
}

// Front returns the rank-0 subset of window (assumes RecomputeRanks has
// already been called).
func Front(window []domain.PerformancePoint) []domain.PerformancePoint {
	var front []domain.PerformancePoint
	for _, p := range window {
		if p.ParetoRank == 0 {
			front = append(front, p)
		}
	}
	return front
}

// Hypervolume is the sum over the front of the product of the five
// normalized objectives, divided by front size.
func Hypervolume(front []domain.PerformancePoint) float64 {
	if len(front) == 0 {
		return 0
	}
	var sum float64
	for _, p := range front {
		c := p.Reward.Components()
		product := 1.0
		for _, v := range c {
			product *= v
		}
		sum += product
	}
	return sum / float64(len(front))
}

// Spread is the average per-objective range (max-min) across the front.
func Spread(front []domain.PerformancePoint) float64 {
	if len(front) == 0 {
		return 0
	}
	const objectives = 5
	var totalRange float64
	for obj := 0; obj < objectives; obj++ {
		min, max := front[0].Reward.Components()[obj], front[0].Reward.Components()[obj]
		for _, p := range front {
			v := p.Reward.Components()[obj]
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		totalRange += max - min
	}
	return totalRange / float64(objectives)
}
