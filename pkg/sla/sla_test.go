package sla_test

import (
	"math"
	"testing"

	qamerrors "github.com/qam-project/qam/internal/errors"
	"github.com/qam-project/qam/pkg/domain"
	"github.com/qam-project/qam/pkg/sla"
)

func agreementWith(reqs ...domain.SLARequirement) domain.SLAAgreement {
	return domain.SLAAgreement{
		TemplateID:   "tpl-1",
		TenantID:     "tenant-1",
		Requirements: reqs,
	}
}

func executionWithOutcomes(shots int, outcomes ...domain.MeasurementOutcome) domain.Execution {
	return domain.Execution{
		ID: "exec-1",
		Results: domain.ExecutionResults{
			Shots:    shots,
			Outcomes: outcomes,
		},
	}
}

func TestValidateErrorRateBelowThresholdPasses(t *testing.T) {
	execution := executionWithOutcomes(100,
		domain.MeasurementOutcome{Bitstring: "00", Count: 90, Confidence: 0.9},
		domain.MeasurementOutcome{Bitstring: "01", Count: 10, Confidence: 0.3},
	)
	agreement := agreementWith(domain.SLARequirement{Metric: domain.MetricErrorRate, Threshold: 0.2})

	report := sla.Validate(execution, agreement, sla.BackendMetadata{Kind: domain.BackendQPU}, sla.MethodSampling)

	if len(report.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(report.Results))
	}
	result := report.Results[0]
	if result.Value != 0.1 {
		t.Fatalf("expected error rate 0.1, got %v", result.Value)
	}
	if !result.Passed {
		t.Fatalf("expected error rate 0.1 to pass threshold 0.2")
	}
	if len(report.Violations) != 0 {
		t.Fatalf("expected no violations, got %d", len(report.Violations))
	}
}

func TestValidateErrorRateAboveThresholdViolates(t *testing.T) {
	execution := executionWithOutcomes(100,
		domain.MeasurementOutcome{Bitstring: "00", Count: 40, Confidence: 0.9},
		domain.MeasurementOutcome{Bitstring: "01", Count: 60, Confidence: 0.2},
	)
	agreement := agreementWith(domain.SLARequirement{Metric: domain.MetricErrorRate, Threshold: 0.1})

	report := sla.Validate(execution, agreement, sla.BackendMetadata{Kind: domain.BackendQPU}, sla.MethodSampling)

	if report.Results[0].Value != 0.6 {
		t.Fatalf("expected error rate 0.6, got %v", report.Results[0].Value)
	}
	if len(report.Violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(report.Violations))
	}
	v := report.Violations[0]
	// deviation = |0.6-0.1|/0.1 = 5.0 >= 0.5 => CRITICAL
	if v.Severity != domain.SeverityCritical {
		t.Fatalf("expected CRITICAL severity, got %s", v.Severity)
	}
	if len(v.Remediation.Actions) == 0 || v.Remediation.Actions[0] != domain.RemediationBackendSwitch {
		t.Fatalf("expected remediation plan to start with BACKEND_SWITCH, got %v", v.Remediation.Actions)
	}
}

func TestValidateFidelityIsOneForClassicalSimulation(t *testing.T) {
	execution := executionWithOutcomes(10, domain.MeasurementOutcome{Bitstring: "0", Count: 10, Confidence: 0.1})
	agreement := agreementWith(domain.SLARequirement{Metric: domain.MetricFidelity, Threshold: 0.99})

	report := sla.Validate(execution, agreement, sla.BackendMetadata{Kind: domain.BackendClassical}, sla.MethodSampling)

	if report.Results[0].Value != 1 {
		t.Fatalf("expected fidelity 1 for classical backend, got %v", report.Results[0].Value)
	}
	if !report.Results[0].Passed {
		t.Fatal("expected classical fidelity to pass")
	}
}

func TestValidateFidelityFormulaOnQPU(t *testing.T) {
	// error_rate = 50/100 = 0.5; fidelity = max(0, 1 - 0.5 - 0.1) = 0.4
	execution := executionWithOutcomes(100,
		domain.MeasurementOutcome{Bitstring: "0", Count: 50, Confidence: 0.9},
		domain.MeasurementOutcome{Bitstring: "1", Count: 50, Confidence: 0.1},
	)
	agreement := agreementWith(domain.SLARequirement{Metric: domain.MetricFidelity, Threshold: 0.3})

	report := sla.Validate(execution, agreement, sla.BackendMetadata{Kind: domain.BackendQPU, BaselineNoise: 0.1}, sla.MethodSampling)

	if math.Abs(report.Results[0].Value-0.4) > 1e-9 {
		t.Fatalf("expected fidelity 0.4, got %v", report.Results[0].Value)
	}
}

func TestValidateSuccessProbabilityIsMaxOutcomeShare(t *testing.T) {
	execution := executionWithOutcomes(100,
		domain.MeasurementOutcome{Bitstring: "00", Count: 70, Confidence: 0.9},
		domain.MeasurementOutcome{Bitstring: "01", Count: 30, Confidence: 0.9},
	)
	agreement := agreementWith(domain.SLARequirement{Metric: domain.MetricSuccessProbability, Threshold: 0.5})

	report := sla.Validate(execution, agreement, sla.BackendMetadata{Kind: domain.BackendQPU}, sla.MethodSampling)

	if report.Results[0].Value != 0.7 {
		t.Fatalf("expected success probability 0.7, got %v", report.Results[0].Value)
	}
}

func TestValidateSuccessProbabilityUncomputableWithNoOutcomes(t *testing.T) {
	execution := domain.Execution{Results: domain.ExecutionResults{}}
	agreement := agreementWith(domain.SLARequirement{Metric: domain.MetricSuccessProbability, Threshold: 0.5})

	report := sla.Validate(execution, agreement, sla.BackendMetadata{Kind: domain.BackendQPU}, sla.MethodSampling)

	result := report.Results[0]
	if result.Passed {
		t.Fatal("expected an uncomputable metric to fail")
	}
	if result.Confidence >= 0.5 {
		t.Fatalf("expected low confidence on an uncomputable metric, got %v", result.Confidence)
	}
}

func TestValidateQuantumVolumeFormula(t *testing.T) {
	execution := executionWithOutcomes(1)
	agreement := agreementWith(domain.SLARequirement{Metric: domain.MetricQuantumVolume, Threshold: 10})
	backend := sla.BackendMetadata{Kind: domain.BackendQPU, Qubits: 12, Depth: 8, NoiseFactor: 0.9}

	report := sla.Validate(execution, agreement, backend, sla.MethodSampling)

	// min(12, 8) * 0.9 = 7.2
	if math.Abs(report.Results[0].Value-7.2) > 1e-9 {
		t.Fatalf("expected quantum volume 7.2, got %v", report.Results[0].Value)
	}
	if report.Results[0].Passed {
		t.Fatal("expected 7.2 to fail an SLA threshold of 10")
	}
}

func TestConfidenceByMethod(t *testing.T) {
	execution := executionWithOutcomes(100, domain.MeasurementOutcome{Bitstring: "0", Count: 100, Confidence: 0.9})
	agreement := agreementWith(domain.SLARequirement{Metric: domain.MetricGateErrorRate, Threshold: 1})

	cases := []struct {
		method   sla.ValidationMethod
		expected float64
	}{
		{sla.MethodProcessTomography, 0.95},
		{sla.MethodRandomizedBenchmarking, 0.90},
		{sla.ValidationMethod("unspecified"), 0.8},
	}
	for _, tc := range cases {
		report := sla.Validate(execution, agreement, sla.BackendMetadata{}, tc.method)
		if report.Results[0].Confidence != tc.expected {
			t.Fatalf("method %s: expected confidence %v, got %v", tc.method, tc.expected, report.Results[0].Confidence)
		}
	}
}

func TestConfidenceSamplingGrowsWithSampleCount(t *testing.T) {
	execution := executionWithOutcomes(1000)
	for i := 0; i < 1000; i++ {
		execution.Results.Outcomes = append(execution.Results.Outcomes, domain.MeasurementOutcome{Bitstring: "0", Count: 1, Confidence: 0.9})
	}
	agreement := agreementWith(domain.SLARequirement{Metric: domain.MetricGateErrorRate, Threshold: 1})

	report := sla.Validate(execution, agreement, sla.BackendMetadata{}, sla.MethodSampling)

	// min(0.99, 0.5 + log10(1000)*0.1) = min(0.99, 0.8) = 0.8
	if math.Abs(report.Results[0].Confidence-0.8) > 1e-9 {
		t.Fatalf("expected sampling confidence 0.8 at n=1000, got %v", report.Results[0].Confidence)
	}
}

func TestOverallGradeBuckets(t *testing.T) {
	cases := []struct {
		passed, total int
		grade         domain.ComplianceGrade
		overallPass   bool
	}{
		{10, 10, domain.GradeExcellent, true},
		{9, 10, domain.GradeGood, true},
		{7, 10, domain.GradeSatisfactory, true},
		{6, 10, domain.GradePoor, false},
		{4, 10, domain.GradeFailed, false},
	}
	for _, tc := range cases {
		var reqs []domain.SLARequirement
		var outcomes []domain.MeasurementOutcome
		for i := 0; i < tc.total; i++ {
			m := domain.MetricGateErrorRate
			threshold := 1.0
			if i >= tc.passed {
				threshold = -1 // unsatisfiable: GateErrorRate (0) will never be <= -1
			}
			reqs = append(reqs, domain.SLARequirement{Metric: m, Threshold: threshold})
		}
		outcomes = append(outcomes, domain.MeasurementOutcome{Bitstring: "0", Count: 1, Confidence: 0.9})
		execution := executionWithOutcomes(1, outcomes...)
		agreement := agreementWith(reqs...)

		report := sla.Validate(execution, agreement, sla.BackendMetadata{}, sla.MethodSampling)

		if report.Grade != tc.grade {
			t.Fatalf("passed=%d/%d: expected grade %s, got %s (score %v)", tc.passed, tc.total, tc.grade, report.Grade, report.Score)
		}
		if report.Passed != tc.overallPass {
			t.Fatalf("passed=%d/%d: expected overall pass=%v, got %v", tc.passed, tc.total, tc.overallPass, report.Passed)
		}
	}
}

func TestViolationSeverityByDeviationRatio(t *testing.T) {
	cases := []struct {
		value, threshold float64
		severity         domain.Severity
	}{
		{0.3, 0.6, domain.SeverityCritical}, // deviation |0.3-0.6|/0.6 = 0.5
		{0.4, 0.6, domain.SeverityHigh},     // deviation 0.333
		{0.53, 0.6, domain.SeverityMedium},  // deviation 0.1166
		{0.55, 0.6, domain.SeverityLow},     // deviation 0.0833
	}
	for _, tc := range cases {
		execution := executionWithOutcomes(100, domain.MeasurementOutcome{Bitstring: "0", Count: int(tc.value * 100), Confidence: 0.9})
		agreement := agreementWith(domain.SLARequirement{Metric: domain.MetricSuccessProbability, Threshold: tc.threshold})

		report := sla.Validate(execution, agreement, sla.BackendMetadata{}, sla.MethodSampling)
		if len(report.Violations) != 1 {
			t.Fatalf("value=%v threshold=%v: expected a violation", tc.value, tc.threshold)
		}
		if report.Violations[0].Severity != tc.severity {
			t.Fatalf("value=%v threshold=%v: expected severity %s, got %s", tc.value, tc.threshold, tc.severity, report.Violations[0].Severity)
		}
	}
}

func TestUpdateComplianceCompliantWithNoViolations(t *testing.T) {
	state := sla.UpdateCompliance(nil)
	if state.Score != 1 {
		t.Fatalf("expected score 1, got %v", state.Score)
	}
	if state.Status != domain.ComplianceCompliant {
		t.Fatalf("expected COMPLIANT, got %s", state.Status)
	}
}

func TestUpdateComplianceViolatedWhenAnyCritical(t *testing.T) {
	violations := []domain.Violation{
		{Severity: domain.SeverityLow},
		{Severity: domain.SeverityCritical},
	}
	state := sla.UpdateCompliance(violations)

	if state.Status != domain.ComplianceViolated {
		t.Fatalf("expected VIOLATED, got %s", state.Status)
	}
	if math.Abs(state.Score-0.8) > 1e-9 {
		t.Fatalf("expected score 1 - 0.1*2 = 0.8, got %v", state.Score)
	}
}

func TestUpdateComplianceAtRiskWithoutCritical(t *testing.T) {
	violations := []domain.Violation{{Severity: domain.SeverityMedium}, {Severity: domain.SeverityLow}}
	state := sla.UpdateCompliance(violations)

	if state.Status != domain.ComplianceAtRisk {
		t.Fatalf("expected AT_RISK, got %s", state.Status)
	}
}

func TestUpdateComplianceScoreNeverGoesNegative(t *testing.T) {
	violations := make([]domain.Violation, 20)
	for i := range violations {
		violations[i].Severity = domain.SeverityLow
	}
	state := sla.UpdateCompliance(violations)

	if state.Score != 0 {
		t.Fatalf("expected score clamped to 0, got %v", state.Score)
	}
}

func TestComputeStatisticalDetailsBelowMinSamplesReturnsZeroValue(t *testing.T) {
	details := sla.ComputeStatisticalDetails([]float64{0.1, 0.2})
	if details.SampleCount != 2 {
		t.Fatalf("expected sample count 2, got %d", details.SampleCount)
	}
	if details.Mean != 0 || details.StdDev != 0 {
		t.Fatalf("expected zero-value statistics below the minimum sample count, got %+v", details)
	}
}

func TestComputeStatisticalDetailsAboveMinSamples(t *testing.T) {
	details := sla.ComputeStatisticalDetails([]float64{0.1, 0.2, 0.3, 0.4, 0.5})
	if details.SampleCount != 5 {
		t.Fatalf("expected sample count 5, got %d", details.SampleCount)
	}
	if math.Abs(details.Mean-0.3) > 1e-9 {
		t.Fatalf("expected mean 0.3, got %v", details.Mean)
	}
	if details.Median == 0 {
		t.Fatal("expected a nonzero median")
	}
}

func TestErrorTypeForUncomputableMetricIsMetricUncomputable(t *testing.T) {
	execution := domain.Execution{}
	agreement := agreementWith(domain.SLARequirement{Metric: domain.MetricSuccessProbability, Threshold: 0.5})

	report := sla.Validate(execution, agreement, sla.BackendMetadata{}, sla.MethodSampling)
	if report.Results[0].Details == "" {
		t.Fatal("expected a details string")
	}
	_ = qamerrors.ErrorTypeMetricUncomputable // sanity: the error type this path would wrap exists
}
