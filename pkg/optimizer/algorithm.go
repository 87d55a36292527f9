package optimizer

import (
	"math"

	"github.com/qam-project/qam/pkg/domain"
)

// Algorithm selects an arm given a learner's current arms and a context
// vector, and updates an arm's internal statistics after observing a
// reward. Each bandit strategy (LinUCB, Thompson Sampling, epsilon-greedy,
// UCB1) implements this the same way a Driver implements backend.Driver —
// pluggable behind one seam.
type Algorithm interface {
	SelectArm(arms []*domain.OptimizerArm, context []float64) *domain.OptimizerArm
	Update(arm *domain.OptimizerArm, context []float64, reward float64)
}

// NewArm initializes an OptimizerArm's LinUCB/Thompson sufficient
// statistics: A_a starts at the identity (so the arm behaves like a
// zero-information prior), b_a and Theta_a at zero, and the Thompson
// posterior (Mu_a, Sigma_a) mirrors the same convention.
func NewArm(id string, dimension int, parameterVector map[string]float64) *domain.OptimizerArm {
	identity := newIdentity(dimension)
	return &domain.OptimizerArm{
		ID:               id,
		ParameterVector:  parameterVector,
		ContextDimension: dimension,
		A:                toSlice(identity),
		B:                make([]float64, dimension),
		Theta:            make([]float64, dimension),
		Mu:               make([]float64, dimension),
		Sigma:            toSlice(identity),
	}
}

func toSlice(m matrix) [][]float64 {
	return [][]float64(m)
}

// LinUCB implements the contextual bandit per-arm update A_a += x xT;
// b_a += r x; Theta_a = A_a^-1 b_a, and selects argmax Theta_a^T x +
// alpha * sqrt(x^T A_a^-1 x).
type LinUCB struct {
	Alpha float64 // confidence coefficient, default 0.25
}

// NewLinUCB returns a LinUCB with the spec's default confidence
// coefficient; pass a non-zero alpha to override.
func NewLinUCB(alpha float64) *LinUCB {
	if alpha == 0 {
		alpha = 0.25
	}
	return &LinUCB{Alpha: alpha}
}

func (l *LinUCB) SelectArm(arms []*domain.OptimizerArm, context []float64) *domain.OptimizerArm {
	var best *domain.OptimizerArm
	var bestScore float64

	for _, arm := range arms {
		a := matrix(arm.A)
		aInv, ok := a.inverse()
		if !ok {
			aInv = newIdentity(len(context))
		}

		theta := aInv.mulVec(arm.B)
		exploitation := dot(theta, context)
		exploration := l.Alpha * math.Sqrt(math.Max(0, aInv.quadForm(context)))
		score := exploitation + exploration

		if best == nil || score > bestScore {
			best, bestScore = arm, score
		}
	}
	return best
}

func (l *LinUCB) Update(arm *domain.OptimizerArm, context []float64, reward float64) {
	a := matrix(arm.A)
	a.addOuterProduct(context, 1)

	for i, x := range context {
		arm.B[i] += reward * x
	}

	aInv, ok := a.inverse()
	if !ok {
		aInv = newIdentity(len(context))
	}
	arm.Theta = aInv.mulVec(arm.B)

	arm.RewardSum += reward
	arm.RewardCount++
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
