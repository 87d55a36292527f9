package optimizer

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/qam-project/qam/pkg/domain"
)

func TestMatrixInverseRoundTrips(t *testing.T) {
	m := matrix{{4, 0}, {0, 2}}
	inv, ok := m.inverse()
	if !ok {
		t.Fatal("expected invertible matrix")
	}
	if math.Abs(inv[0][0]-0.25) > 1e-9 || math.Abs(inv[1][1]-0.5) > 1e-9 {
		t.Fatalf("unexpected inverse: %v", inv)
	}
}

func TestMatrixInverseSingularReportsNotOk(t *testing.T) {
	m := matrix{{0, 0}, {0, 0}}
	_, ok := m.inverse()
	if ok {
		t.Fatal("expected a zero matrix to be reported singular")
	}
}

func TestLinUCBPrefersArmWithHigherObservedReward(t *testing.T) {
	algo := NewLinUCB(0.1)
	arms := []*domain.OptimizerArm{
		NewArm("a", 2, nil),
		NewArm("b", 2, nil),
	}
	ctx := []float64{1, 0}

	for i := 0; i < 20; i++ {
		algo.Update(arms[0], ctx, 1.0)
		algo.Update(arms[1], ctx, 0.0)
	}

	chosen := algo.SelectArm(arms, ctx)
	if chosen.ID != "a" {
		t.Fatalf("expected arm 'a' (higher reward) to be preferred, got %s", chosen.ID)
	}
}

func TestLinUCBExplorationBoostsUnobservedArms(t *testing.T) {
	algo := NewLinUCB(5.0) // large alpha emphasizes exploration
	arms := []*domain.OptimizerArm{
		NewArm("observed", 2, nil),
		NewArm("fresh", 2, nil),
	}
	ctx := []float64{1, 1}
	algo.Update(arms[0], ctx, 0.5)

	chosen := algo.SelectArm(arms, ctx)
	if chosen.ID != "fresh" {
		t.Fatalf("expected the unobserved arm to win under high exploration weight, got %s", chosen.ID)
	}
}

func TestThompsonSamplingConvergesTowardHigherRewardArm(t *testing.T) {
	src := rand.New(rand.NewSource(42))
	algo := NewThompsonSampling(src)
	good := NewArm("good", 2, nil)
	bad := NewArm("bad", 2, nil)
	ctx := []float64{1, 0}

	for i := 0; i < 50; i++ {
		algo.Update(good, ctx, 1.0)
		algo.Update(bad, ctx, 0.0)
	}

	goodWins := 0
	for i := 0; i < 20; i++ {
		if algo.SelectArm([]*domain.OptimizerArm{good, bad}, ctx).ID == "good" {
			goodWins++
		}
	}
	if goodWins < 15 {
		t.Fatalf("expected the higher-reward arm to win most rounds after 50 observations, won %d/20", goodWins)
	}
}

func TestGaussianSamplerReusesSpareValue(t *testing.T) {
	src := &fixedSource{values: []float64{0.5, 0.25}}
	g := newGaussianSampler(src)

	first := g.Sample()
	if src.calls != 2 {
		t.Fatalf("expected the first Sample to consume 2 uniforms, consumed %d", src.calls)
	}

	second := g.Sample()
	if src.calls != 2 {
		t.Fatalf("expected the second Sample to reuse the cached spare without drawing more uniforms, calls=%d", src.calls)
	}

	// The two draws from one Box-Muller pair are distinct (cos vs sin of
	// the same angle/radius), so they should not be equal in general.
	if first == second {
		t.Fatal("expected the spare value to differ from the first draw")
	}
}

type fixedSource struct {
	values []float64
	calls  int
}

func (f *fixedSource) Float64() float64 {
	v := f.values[f.calls%len(f.values)]
	f.calls++
	return v
}

func TestDominatesRequiresStrictlyBetterInAtLeastOneObjective(t *testing.T) {
	a := domain.Reward{Latency: 0.8, Cost: 0.8, Quality: 0.8, Reliability: 0.8, Security: 0.9}
	b := domain.Reward{Latency: 0.8, Cost: 0.8, Quality: 0.8, Reliability: 0.8, Security: 0.8}
	if !Dominates(a, b) {
		t.Fatal("expected a to dominate b (strictly better in Security, equal elsewhere)")
	}
	if Dominates(b, a) {
		t.Fatal("expected b to not dominate a")
	}
}

func TestDominatesFalseWhenNeitherUniformlyBetter(t *testing.T) {
	a := domain.Reward{Latency: 0.9, Cost: 0.1, Quality: 0.5, Reliability: 0.5, Security: 0.5}
	b := domain.Reward{Latency: 0.1, Cost: 0.9, Quality: 0.5, Reliability: 0.5, Security: 0.5}
	if Dominates(a, b) || Dominates(b, a) {
		t.Fatal("expected neither point to dominate the other")
	}
}

func TestRecomputeRanksAndFront(t *testing.T) {
	window := []domain.PerformancePoint{
		{Reward: domain.Reward{Latency: 1, Cost: 1, Quality: 1, Reliability: 1, Security: 1}},
		{Reward: domain.Reward{Latency: 0.5, Cost: 0.5, Quality: 0.5, Reliability: 0.5, Security: 0.5}},
	}
	ranked := RecomputeRanks(window)
	if ranked[0].ParetoRank != 0 {
		t.Fatalf("expected the dominating point to have rank 0, got %d", ranked[0].ParetoRank)
	}
	if ranked[1].ParetoRank != 1 {
		t.Fatalf("expected the dominated point to have rank 1, got %d", ranked[1].ParetoRank)
	}

	front := Front(ranked)
	if len(front) != 1 {
		t.Fatalf("expected a front of size 1, got %d", len(front))
	}
}

func TestHypervolumeAndSpread(t *testing.T) {
	front := []domain.PerformancePoint{
		{Reward: domain.Reward{Latency: 1, Cost: 1, Quality: 1, Reliability: 1, Security: 1}},
		{Reward: domain.Reward{Latency: 0.5, Cost: 0.5, Quality: 0.5, Reliability: 0.5, Security: 0.5}},
	}
	hv := Hypervolume(front)
	expected := (1.0 + 0.5*0.5*0.5*0.5*0.5) / 2
	if math.Abs(hv-expected) > 1e-9 {
		t.Fatalf("expected hypervolume %v, got %v", expected, hv)
	}

	spread := Spread(front)
	if math.Abs(spread-0.5) > 1e-9 {
		t.Fatalf("expected spread 0.5 (range 0.5 on every objective), got %v", spread)
	}
}

func TestNormalizeRewardClampsAndInverts(t *testing.T) {
	reward := NormalizeReward(RewardObservation{
		LatencySeconds: 5, Cost: 2, Quality: 0.9, Reliability: 1.5, Security: -0.5,
	}, RewardCeilings{MaxLatencySeconds: 10, MaxCost: 4})

	if reward.Latency != 0.5 {
		t.Fatalf("expected latency 0.5, got %v", reward.Latency)
	}
	if reward.Cost != 0.5 {
		t.Fatalf("expected cost 0.5, got %v", reward.Cost)
	}
	if reward.Reliability != 1 {
		t.Fatalf("expected reliability clamped to 1, got %v", reward.Reliability)
	}
	if reward.Security != 0 {
		t.Fatalf("expected security clamped to 0, got %v", reward.Security)
	}
}

func TestWeightsForBoostsReliabilityAndSecurityAtHighPriority(t *testing.T) {
	w := WeightsFor(5)
	if w.Reliability <= 0.2 || w.Security <= 0.2 {
		t.Fatalf("expected high priority to boost reliability/security above baseline 0.2, got %+v", w)
	}
	sum := w.Latency + w.Cost + w.Quality + w.Reliability + w.Security
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("expected weights to sum to 1, got %v", sum)
	}
}

func TestWeightsForBoostsCostAtLowPriority(t *testing.T) {
	w := WeightsFor(1)
	if w.Cost <= 0.2 {
		t.Fatalf("expected low priority to boost cost weight above baseline 0.2, got %+v", w)
	}
}

func TestProposeAdaptationSuppressedBelowMinSamples(t *testing.T) {
	policy := DefaultAdaptationPolicy()
	state := &domain.LearnerState{
		Arms:          []*domain.OptimizerArm{{RewardCount: 1}},
		CurrentParams: map[string]float64{"depth": 5},
	}
	event, params := ProposeAdaptation(policy, state, map[string]float64{"depth": 6}, nil, 1.0, 0.9, time.Now())

	if event.Type != domain.AdaptationSuppressed {
		t.Fatalf("expected suppression below minSamples, got %s", event.Type)
	}
	if params["depth"] != 5 {
		t.Fatalf("expected unchanged params when suppressed, got %v", params)
	}
}

func TestProposeAdaptationAppliesWithinBoundsAndCooldown(t *testing.T) {
	policy := DefaultAdaptationPolicy()
	policy.MinSamples = 1
	state := &domain.LearnerState{
		Arms:          []*domain.OptimizerArm{{RewardCount: 100}},
		CurrentParams: map[string]float64{"depth": 5},
	}
	maxVal := 5.1
	schema := []domain.ParameterSpec{{Name: "depth", Max: &maxVal}}

	event, params := ProposeAdaptation(policy, state, map[string]float64{"depth": 100}, schema, 1.0, 0.9, time.Now())

	if event.Type != domain.AdaptationApplied {
		t.Fatalf("expected an applied adaptation, got %s: %s", event.Type, event.Reason)
	}
	// delta bounded to MaxParameterChange (0.2), then clipped to Max (5.1)
	if params["depth"] != 5.1 {
		t.Fatalf("expected depth clipped to schema max 5.1, got %v", params["depth"])
	}
}

func TestProposeAdaptationSuppressedWithinCooldown(t *testing.T) {
	policy := DefaultAdaptationPolicy()
	policy.MinSamples = 1
	state := &domain.LearnerState{
		Arms:           []*domain.OptimizerArm{{RewardCount: 100}},
		CurrentParams:  map[string]float64{"depth": 5},
		LastAdaptation: time.Now(),
	}
	event, _ := ProposeAdaptation(policy, state, map[string]float64{"depth": 6}, nil, 1.0, 0.9, time.Now())
	if event.Type != domain.AdaptationSuppressed {
		t.Fatalf("expected suppression within cooldown, got %s", event.Type)
	}
}

func TestProposeAdaptationSuppressedAboveRiskThreshold(t *testing.T) {
	policy := DefaultAdaptationPolicy()
	policy.MinSamples = 1
	policy.MaxParameterChange = 100 // don't let bounding mask the risk score
	state := &domain.LearnerState{
		Arms:          []*domain.OptimizerArm{{RewardCount: 100}},
		CurrentParams: map[string]float64{"depth": 1},
	}
	// huge relative change + low confidence -> high risk
	event, _ := ProposeAdaptation(policy, state, map[string]float64{"depth": 1000}, nil, 1.0, 0.01, time.Now())
	if event.Type != domain.AdaptationSuppressed {
		t.Fatalf("expected suppression above risk threshold, got %s: %s", event.Type, event.Reason)
	}
}

func TestCheckRollbackTriggersOnConsecutiveLowReward(t *testing.T) {
	policy := DefaultAdaptationPolicy()
	state := &domain.LearnerState{
		TemplateID:     "t1",
		TenantID:       "tenant1",
		CurrentParams:  map[string]float64{"depth": 10},
		BaselineReward: 0.8,
		AdaptationLog: []domain.AdaptationEvent{
			{Type: domain.AdaptationApplied, PriorParams: map[string]float64{"depth": 5}},
		},
	}
	lowRewards := make([]float64, policy.RollbackConsecutiveLowReward)
	for i := range lowRewards {
		lowRewards[i] = 0.1
	}

	event, restored, ok := CheckRollback(policy, state, lowRewards, nil, time.Now())
	if !ok {
		t.Fatal("expected rollback to trigger on consecutive low reward")
	}
	if event.Type != domain.AdaptationRollback {
		t.Fatalf("expected ROLLBACK_EXECUTED, got %s", event.Type)
	}
	if restored["depth"] != 5 {
		t.Fatalf("expected restored params to match the prior adaptation's PriorParams, got %v", restored)
	}
}

func TestCheckRollbackTriggersOnCriticalViolationWithinWindow(t *testing.T) {
	policy := DefaultAdaptationPolicy()
	state := &domain.LearnerState{
		AdaptationLog: []domain.AdaptationEvent{
			{Type: domain.AdaptationApplied, PriorParams: map[string]float64{"depth": 5}},
		},
	}
	now := time.Now()
	violationAt := now.Add(-5 * time.Minute)

	_, _, ok := CheckRollback(policy, state, nil, &violationAt, now)
	if !ok {
		t.Fatal("expected rollback to trigger on a recent CRITICAL violation")
	}
}

func TestCheckRollbackNoOpWithoutPriorAdaptation(t *testing.T) {
	policy := DefaultAdaptationPolicy()
	state := &domain.LearnerState{}
	_, _, ok := CheckRollback(policy, state, []float64{0, 0, 0, 0, 0}, nil, time.Now())
	if ok {
		t.Fatal("expected no rollback without a prior ADAPTATION_APPLIED event")
	}
}

func TestBuildContextClampsAndComputesDiurnal(t *testing.T) {
	ctx := BuildContext(ContextInput{
		CircuitDepth: 200, MaxCircuitDepth: 100, // over ceiling -> clamp to 1
		QubitCount: 5, MaxQubitCount: 10,
		HourOfDay: 12,
	})
	if ctx[0] != 1 {
		t.Fatalf("expected depth feature clamped to 1, got %v", ctx[0])
	}
	if ctx[1] != 0.5 {
		t.Fatalf("expected qubit feature 0.5, got %v", ctx[1])
	}
	if len(ctx) != ContextDimension {
		t.Fatalf("expected context dimension %d, got %d", ContextDimension, len(ctx))
	}
}
