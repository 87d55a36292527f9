package sla

import (
	qammath "github.com/qam-project/qam/pkg/shared/math"
)

// StatisticalDetails is the distribution summary computed over a rolling
// window of a metric's historical values, reused by the compliance reporter
// to spot drift that a single Validate call can't see.
type StatisticalDetails struct {
	SampleCount int
	Mean        float64
	Median      float64
	P50         float64
	P95         float64
	P99         float64
	StdDev      float64
	Skewness    float64
	Kurtosis    float64
	OutlierIdx  []int
	TrendSlope  float64
	Trend       qammath.Trend
}

// minSamplesForStatistics is the sample count below which percentile/
// skewness/kurtosis figures are too noisy to report.
const minSamplesForStatistics = 3

// outlierZScoreThreshold is the z-score magnitude above which a sample is
// flagged an outlier.
const outlierZScoreThreshold = 2.0

// trendEpsilon is the minimum OLS slope magnitude to call a trend direction
// rather than flat.
const trendEpsilon = 1e-9

// ComputeStatisticalDetails summarizes values, a metric's historical sample
// series in chronological order. Below minSamplesForStatistics samples it
// returns the zero StatisticalDetails (SampleCount set, everything else 0) —
// not enough data to trust distribution shape.
func ComputeStatisticalDetails(values []float64) StatisticalDetails {
	details := StatisticalDetails{SampleCount: len(values)}
	if len(values) < minSamplesForStatistics {
		return details
	}

	details.Mean = qammath.Mean(values)
	details.Median = qammath.Median(values)
	details.P50 = qammath.Percentile(values, 50)
	details.P95 = qammath.Percentile(values, 95)
	details.P99 = qammath.Percentile(values, 99)
	details.StdDev = qammath.StandardDeviation(values)
	details.Skewness = qammath.Skewness(values)
	details.Kurtosis = qammath.Kurtosis(values)
	details.OutlierIdx = qammath.OutliersByZScore(values, outlierZScoreThreshold)
	details.TrendSlope, details.Trend = qammath.LinearTrend(values, trendEpsilon)

	return details
}
