// Package alert implements the SLA Alert Manager: it turns a stream of
// SLA violation events into deduplicated, correlated, severity-escalated
// notifications for pkg/notification/delivery.
package alert

import (
	"time"

	"github.com/qam-project/qam/pkg/domain"
)

// Event is one SLA violation as reported by pkg/sla.Validate, the unit the
// Alert Manager receives and processes.
type Event struct {
	AgreementKey string
	Metric       domain.MetricKind
	Severity     domain.Severity
	Violation    domain.Violation
	FiredAt      time.Time
}

func (e Event) fingerprint() string {
	return e.AgreementKey + ":" + string(e.Metric) + ":" + string(e.Severity)
}

// Composite is one or more correlated Events sharing (AgreementKey,
// window), aggregated into a single alert. Severity may be escalated above
// the severity of any individual member Event once Count crosses a
// configured threshold.
type Composite struct {
	AgreementKey string
	Window       time.Time // the window's start; all members fall within [Window, Window+windowSize)
	Severity     domain.Severity
	Members      []Event
	Count        int
}

// severityRank orders severities so escalation only ever moves up.
var severityRank = map[domain.Severity]int{
	domain.SeverityLow:      0,
	domain.SeverityMedium:   1,
	domain.SeverityHigh:     2,
	domain.SeverityCritical: 3,
}

func maxSeverity(a, b domain.Severity) domain.Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

func escalate(severity domain.Severity) domain.Severity {
	switch severity {
	case domain.SeverityLow:
		return domain.SeverityMedium
	case domain.SeverityMedium:
		return domain.SeverityHigh
	default:
		return domain.SeverityCritical
	}
}
