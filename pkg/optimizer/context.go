package optimizer

import "math"

// ContextDimension is the fixed dimension d of every learner's context
// vector: normalized circuit depth, qubit count, shots, optimization
// level, gate count, backend index, recent average reward, recent
// average latency, recent success rate, exploration rate, experience
// factor, diurnal component.
const ContextDimension = 12

// ContextInput is the raw, unnormalized execution state the optimizer
// observes before building a context vector.
type ContextInput struct {
	CircuitDepth       int
	QubitCount         int
	Shots              int
	OptimizationLevel  int
	GateCount          int
	BackendIndex       int
	BackendCount       int
	RecentAverageReward float64 // already in [0,1]
	RecentAverageLatency float64 // already in [0,1] (normalized upstream)
	RecentSuccessRate  float64 // already in [0,1]
	ExplorationRate    float64 // already in [0,1]
	ExperienceFactor   float64 // already in [0,1]
	HourOfDay          int     // 0-23, for the diurnal component

	// Normalization ceilings; a feature clamps to 1 above its ceiling.
	MaxCircuitDepth int
	MaxQubitCount   int
	MaxShots        int
	MaxOptimization int
	MaxGateCount    int
}

// BuildContext maps a ContextInput to a ContextDimension-length feature
// vector with every component clamped to [0,1].
func BuildContext(in ContextInput) []float64 {
	backendDenom := in.BackendCount
	if backendDenom <= 1 {
		backendDenom = 1
	}

	x := make([]float64, ContextDimension)
	x[0] = clamp01(ratio(float64(in.CircuitDepth), float64(in.MaxCircuitDepth)))
	x[1] = clamp01(ratio(float64(in.QubitCount), float64(in.MaxQubitCount)))
	x[2] = clamp01(ratio(float64(in.Shots), float64(in.MaxShots)))
	x[3] = clamp01(ratio(float64(in.OptimizationLevel), float64(in.MaxOptimization)))
	x[4] = clamp01(ratio(float64(in.GateCount), float64(in.MaxGateCount)))
	x[5] = clamp01(float64(in.BackendIndex) / float64(backendDenom))
	x[6] = clamp01(in.RecentAverageReward)
	x[7] = clamp01(in.RecentAverageLatency)
	x[8] = clamp01(in.RecentSuccessRate)
	x[9] = clamp01(in.ExplorationRate)
	x[10] = clamp01(in.ExperienceFactor)
	x[11] = diurnalComponent(in.HourOfDay)
	return x
}

// diurnalComponent maps an hour-of-day to [0,1] via a cosine wave peaking
// at local noon, so the feature is continuous across the midnight
// boundary rather than sawtoothing.
func diurnalComponent(hour int) float64 {
	radians := (float64(hour) / 24) * 2 * math.Pi
	return (math.Cos(radians-math.Pi) + 1) / 2
}

func ratio(value, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return value / max
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
