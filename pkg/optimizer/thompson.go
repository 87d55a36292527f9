package optimizer

import (
	"math/rand"

	"github.com/qam-project/qam/pkg/domain"
)

// ThompsonSampling implements Bayesian linear regression per arm with a
// Gaussian prior and per-observation variance 1: the posterior (Mu_a,
// Sigma_a) is updated from the same sufficient statistics as LinUCB
// (A_a, b_a), since a Gaussian prior with unit-variance Gaussian
// likelihood has A_a = Sigma_a^-1 and Mu_a = Theta_a as its conjugate
// posterior. Each round samples theta~N(Mu_a, Sigma_a) per arm and picks
// argmax theta^T x.
type ThompsonSampling struct {
	sampler *gaussianSampler
}

// NewThompsonSampling builds a ThompsonSampling using src for its
// Box-Muller draws; pass rand.New(rand.NewSource(seed)) for a
// reproducible learner with a chosen seed, or nil for a private source
// seeded with 1.
func NewThompsonSampling(src UniformSource) *ThompsonSampling {
	if src == nil {
		src = rand.New(rand.NewSource(1))
	}
	return &ThompsonSampling{sampler: newGaussianSampler(src)}
}

func (t *ThompsonSampling) SelectArm(arms []*domain.OptimizerArm, context []float64) *domain.OptimizerArm {
	var best *domain.OptimizerArm
	var bestScore float64

	for _, arm := range arms {
		sampledTheta := t.sampleTheta(arm)
		score := dot(sampledTheta, context)
		if best == nil || score > bestScore {
			best, bestScore = arm, score
		}
	}
	return best
}

// sampleTheta draws theta ~ N(Mu_a, Sigma_a) via Sigma_a's Cholesky
// factor L: theta = Mu_a + L*z for z a vector of independent standard
// normals. Falls back to the mean (zero-variance draw) if Sigma_a isn't
// positive definite to working precision.
func (t *ThompsonSampling) sampleTheta(arm *domain.OptimizerArm) []float64 {
	l, ok := matrix(arm.Sigma).cholesky()
	if !ok {
		return append([]float64(nil), arm.Mu...)
	}

	z := make([]float64, len(arm.Mu))
	for i := range z {
		z[i] = t.sampler.Sample()
	}
	lz := l.mulVec(z)

	theta := make([]float64, len(arm.Mu))
	for i := range theta {
		theta[i] = arm.Mu[i] + lz[i]
	}
	return theta
}

func (t *ThompsonSampling) Update(arm *domain.OptimizerArm, context []float64, reward float64) {
	a := matrix(arm.A)
	a.addOuterProduct(context, 1)

	for i, x := range context {
		arm.B[i] += reward * x
	}

	aInv, ok := a.inverse()
	if !ok {
		aInv = newIdentity(len(context))
	}
	arm.Mu = aInv.mulVec(arm.B)
	arm.Sigma = aInv

	arm.RewardSum += reward
	arm.RewardCount++
}
