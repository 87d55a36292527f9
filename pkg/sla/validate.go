// Package sla implements the Correctness SLA Engine: a pure function that
// scores one Execution against its SLAAgreement and reports any violations,
// with no I/O and no side effects, so it's unit-testable without mocking a
// clock or a store.
package sla

import (
	"errors"
	"math"

	qamerrors "github.com/qam-project/qam/internal/errors"
	"github.com/qam-project/qam/pkg/domain"
)

// BackendMetadata is the slice of a backend's describe() output the
// correctness metrics need (gate error rate, coherence time, and the
// noise characteristics used by FIDELITY/QUANTUM_VOLUME).
type BackendMetadata struct {
	Kind            domain.BackendKind
	BaselineNoise   float64
	NoiseFactor     float64
	GateErrorRate   float64
	CoherenceTimeUs float64
	Qubits          int
	Depth           int
}

// ValidationMethod names how a metric's value was produced, which in turn
// fixes its confidence figure.
type ValidationMethod string

const (
	MethodSampling              ValidationMethod = "sampling"
	MethodProcessTomography     ValidationMethod = "process_tomography"
	MethodRandomizedBenchmarking ValidationMethod = "randomized_benchmarking"
)

// Validate scores execution against agreement's requirements and returns a
// complete ValidationReport. It never mutates execution or agreement.
func Validate(execution domain.Execution, agreement domain.SLAAgreement, backend BackendMetadata, method ValidationMethod) domain.ValidationReport {
	report := domain.ValidationReport{}

	for _, req := range agreement.Requirements {
		result := evaluateMetric(execution, backend, method, req)
		report.Results = append(report.Results, result)

		if !result.Passed {
			report.Violations = append(report.Violations, buildViolation(agreement, req, result))
		}
	}

	report.Score = gradeScore(report.Results)
	report.Grade = gradeFor(report.Score)
	report.Passed = report.Score >= 0.7

	return report
}

func evaluateMetric(execution domain.Execution, backend BackendMetadata, method ValidationMethod, req domain.SLARequirement) domain.MetricResult {
	value, details, err := computeMetric(execution, backend, req.Metric)
	confidence := confidenceFor(method, len(execution.Results.Outcomes))

	if err != nil {
		return domain.MetricResult{
			Metric: req.Metric, Threshold: req.Threshold, Passed: false,
			Confidence: math.Min(confidence, 0.49), Details: err.Error(),
		}
	}

	passed := metricPasses(req.Metric, value, req.Threshold)
	return domain.MetricResult{
		Metric: req.Metric, Value: value, Threshold: req.Threshold,
		Passed: passed, Confidence: confidence, Details: details,
	}
}

// computeMetric implements each metric's declared formula.
func computeMetric(execution domain.Execution, backend BackendMetadata, metric domain.MetricKind) (value float64, details string, err error) {
	switch metric {
	case domain.MetricErrorRate:
		return errorRate(execution), "fraction of shots with confidence < 0.5", nil

	case domain.MetricFidelity:
		if backend.Kind == domain.BackendClassical {
			return 1, "classical simulation, fidelity defined as 1", nil
		}
		er := errorRate(execution)
		fidelity := math.Max(0, 1-er-backend.BaselineNoise)
		return fidelity, "max(0, 1 - error_rate - baseline_noise)", nil

	case domain.MetricSuccessProbability:
		if len(execution.Results.Outcomes) == 0 {
			return 0, "", qamerrors.NewMetricUncomputable(string(metric), errNoOutcomes)
		}
		return maxOutcomeProbability(execution), "max probability across reported measurement outcomes", nil

	case domain.MetricQuantumVolume:
		minDim := backend.Qubits
		if backend.Depth < minDim {
			minDim = backend.Depth
		}
		return float64(minDim) * backend.NoiseFactor, "min(qubits, depth) * noise_factor(backend)", nil

	case domain.MetricGateErrorRate:
		return backend.GateErrorRate, "from backend metadata", nil

	case domain.MetricCoherenceTime:
		return backend.CoherenceTimeUs, "from backend metadata", nil

	default:
		return 0, "", qamerrors.NewMetricUncomputable(string(metric), errUnknownMetric)
	}
}

var (
	errNoOutcomes    = errors.New("no measurement outcomes reported")
	errUnknownMetric = errors.New("unknown metric kind")
)

func errorRate(execution domain.Execution) float64 {
	if len(execution.Results.Outcomes) == 0 {
		return 0
	}
	var totalCount, lowConfidenceCount int
	for _, o := range execution.Results.Outcomes {
		totalCount += o.Count
		if o.Confidence < 0.5 {
			lowConfidenceCount += o.Count
		}
	}
	if totalCount == 0 {
		return 0
	}
	return float64(lowConfidenceCount) / float64(totalCount)
}

func maxOutcomeProbability(execution domain.Execution) float64 {
	total := execution.Results.Shots
	if total == 0 {
		for _, o := range execution.Results.Outcomes {
			total += o.Count
		}
	}
	if total == 0 {
		return 0
	}
	var maxCount int
	for _, o := range execution.Results.Outcomes {
		if o.Count > maxCount {
			maxCount = o.Count
		}
	}
	return float64(maxCount) / float64(total)
}

// metricPasses applies threshold comparison; ERROR_RATE and GATE_ERROR_RATE
// are "lower is better" (pass when value <= threshold), the rest are
// "higher is better" (pass when value >= threshold).
func metricPasses(metric domain.MetricKind, value, threshold float64) bool {
	switch metric {
	case domain.MetricErrorRate, domain.MetricGateErrorRate:
		return value <= threshold
	default:
		return value >= threshold
	}
}

// confidenceFor implements the per-method confidence formula.
func confidenceFor(method ValidationMethod, sampleCount int) float64 {
	switch method {
	case MethodSampling:
		if sampleCount <= 0 {
			return 0.5
		}
		return math.Min(0.99, 0.5+math.Log10(float64(sampleCount))*0.1)
	case MethodProcessTomography:
		return 0.95
	case MethodRandomizedBenchmarking:
		return 0.90
	default:
		return 0.8
	}
}

// gradeScore is passed/total across all results.
func gradeScore(results []domain.MetricResult) float64 {
	if len(results) == 0 {
		return 1
	}
	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	return float64(passed) / float64(len(results))
}

func gradeFor(score float64) domain.ComplianceGrade {
	switch {
	case score >= 0.95:
		return domain.GradeExcellent
	case score >= 0.85:
		return domain.GradeGood
	case score >= 0.7:
		return domain.GradeSatisfactory
	case score >= 0.5:
		return domain.GradePoor
	default:
		return domain.GradeFailed
	}
}

// severityFor derives a Violation's Severity from its deviation ratio
// |value - threshold| / threshold.
func severityFor(value, threshold float64) domain.Severity {
	if threshold == 0 {
		return domain.SeverityLow
	}
	deviation := math.Abs(value-threshold) / threshold
	switch {
	case deviation >= 0.5:
		return domain.SeverityCritical
	case deviation >= 0.2:
		return domain.SeverityHigh
	case deviation >= 0.1:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// remediationFor returns the deterministic remediation plan for the
// violated metric: BACKEND_SWITCH first, then ERROR_MITIGATION, then
// CIRCUIT_SIMPLIFICATION, since all of QAM's correctness metrics respond
// to the same three levers.
func remediationFor(metric domain.MetricKind) domain.RemediationPlan {
	return domain.RemediationPlan{
		Actions: []domain.RemediationAction{
			domain.RemediationBackendSwitch,
			domain.RemediationErrorMitigation,
			domain.RemediationCircuitSimplification,
		},
		RollbackTriggers: []string{"remediation_failed", "score_regressed", "timeout"},
	}
}

func buildViolation(agreement domain.SLAAgreement, req domain.SLARequirement, result domain.MetricResult) domain.Violation {
	return domain.Violation{
		AgreementKey: agreement.TenantID + ":" + agreement.TemplateID,
		Metric:       req.Metric,
		Severity:     severityFor(result.Value, result.Threshold),
		Threshold:    req.Threshold,
		Actual:       result.Value,
		Remediation:  remediationFor(req.Metric),
	}
}

// CorrectnessMetrics computes the full CorrectnessMetrics bundle for one
// execution/backend pair, independent of any particular SLAAgreement's
// requirement list. The Execution Runner calls this once per completed
// execution to populate Execution.Correctness; Validate is what actually
// checks the values against an agreement's thresholds.
func CorrectnessMetrics(execution domain.Execution, backend BackendMetadata) domain.CorrectnessMetrics {
	errorRateValue, _, _ := computeMetric(execution, backend, domain.MetricErrorRate)
	fidelity, _, _ := computeMetric(execution, backend, domain.MetricFidelity)
	successProbability, _, _ := computeMetric(execution, backend, domain.MetricSuccessProbability)
	quantumVolume, _, _ := computeMetric(execution, backend, domain.MetricQuantumVolume)

	return domain.CorrectnessMetrics{
		ErrorRate:          errorRateValue,
		Fidelity:           fidelity,
		SuccessProbability: successProbability,
		QuantumVolume:      quantumVolume,
		GateErrorRate:      backend.GateErrorRate,
		CoherenceTimeUs:    backend.CoherenceTimeUs,
	}
}

// UpdateCompliance recomputes an agreement's ComplianceState from the
// violations recorded against it in the last 7 days: score :=
// max(0, 1 - 0.1*N_recent); status is VIOLATED if any is CRITICAL, AT_RISK
// if any other severity is present, else COMPLIANT. Recomputed from
// scratch each call, never incremented, so it can't drift from the
// caller's actual violation window.
func UpdateCompliance(recentViolations []domain.Violation) domain.ComplianceState {
	score := math.Max(0, 1-0.1*float64(len(recentViolations)))

	status := domain.ComplianceCompliant
	for _, v := range recentViolations {
		if v.Severity == domain.SeverityCritical {
			status = domain.ComplianceViolated
			break
		}
		status = domain.ComplianceAtRisk
	}

	return domain.ComplianceState{
		Score:      score,
		Status:     status,
		Violations: recentViolations,
	}
}
