package optimizer

import (
	"math"
	"math/rand"

	"github.com/qam-project/qam/pkg/domain"
)

// EpsilonGreedy picks the arm with the highest running average reward
// with probability 1-epsilon, and a uniformly random arm otherwise. It
// ignores context entirely, unlike LinUCB/ThompsonSampling, which is the
// simplest baseline an operator can fall back to when a learner's
// context features aren't trustworthy yet.
type EpsilonGreedy struct {
	Epsilon float64
	rng     *rand.Rand
}

func NewEpsilonGreedy(epsilon float64, rng *rand.Rand) *EpsilonGreedy {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &EpsilonGreedy{Epsilon: epsilon, rng: rng}
}

func (e *EpsilonGreedy) SelectArm(arms []*domain.OptimizerArm, _ []float64) *domain.OptimizerArm {
	if len(arms) == 0 {
		return nil
	}
	if e.rng.Float64() < e.Epsilon {
		return arms[e.rng.Intn(len(arms))]
	}

	best := arms[0]
	for _, arm := range arms[1:] {
		if arm.AverageReward() > best.AverageReward() {
			best = arm
		}
	}
	return best
}

func (e *EpsilonGreedy) Update(arm *domain.OptimizerArm, _ []float64, reward float64) {
	arm.RewardSum += reward
	arm.RewardCount++
}

// UCB1 implements the classic context-free upper confidence bound
// strategy: argmax average_reward_a + sqrt(2*ln(totalPulls)/pulls_a).
// Unpulled arms are selected first (infinite bound), so every arm gets at
// least one observation before the bound kicks in.
type UCB1 struct{}

func NewUCB1() *UCB1 { return &UCB1{} }

func (u *UCB1) SelectArm(arms []*domain.OptimizerArm, _ []float64) *domain.OptimizerArm {
	var totalPulls int
	for _, arm := range arms {
		totalPulls += arm.RewardCount
		if arm.RewardCount == 0 {
			return arm
		}
	}

	var best *domain.OptimizerArm
	var bestScore float64
	for _, arm := range arms {
		bound := arm.AverageReward() + math.Sqrt(2*math.Log(float64(totalPulls))/float64(arm.RewardCount))
		if best == nil || bound > bestScore {
			best, bestScore = arm, bound
		}
	}
	return best
}

func (u *UCB1) Update(arm *domain.OptimizerArm, _ []float64, reward float64) {
	arm.RewardSum += reward
	arm.RewardCount++
}
