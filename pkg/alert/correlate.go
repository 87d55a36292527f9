package alert

import (
	"sync"
	"time"

	"github.com/qam-project/qam/pkg/domain"
)

// Correlator aggregates Events sharing (AgreementKey, time window) into one
// Composite, escalating its severity once the member count crosses a
// configured threshold. A window is windowSize wide, starting at the
// truncation of the first member's FiredAt to windowSize.
type Correlator struct {
	mu         sync.Mutex
	windowSize time.Duration
	thresholds EscalationThresholds
	open       map[string]*Composite // "agreementKey|windowStart" -> in-progress composite
}

// EscalationThresholds maps a minimum member count to the severity a
// Composite escalates to once reached. Every threshold the count meets is
// considered, and the most severe of their targets wins.
type EscalationThresholds map[int]domain.Severity

func NewCorrelator(windowSize time.Duration, thresholds EscalationThresholds) *Correlator {
	return &Correlator{
		windowSize: windowSize,
		thresholds: thresholds,
		open:       make(map[string]*Composite),
	}
}

// Add folds event into its window's Composite, returning the up-to-date
// Composite for the caller to (re-)evaluate for delivery/escalation.
func (c *Correlator) Add(event Event) *Composite {
	c.mu.Lock()
	defer c.mu.Unlock()

	windowStart := event.FiredAt.Truncate(c.windowSize)
	key := event.AgreementKey + "|" + windowStart.String()

	composite, ok := c.open[key]
	if !ok {
		composite = &Composite{
			AgreementKey: event.AgreementKey,
			Window:       windowStart,
			Severity:     event.Severity,
		}
		c.open[key] = composite
	}

	composite.Members = append(composite.Members, event)
	composite.Count = len(composite.Members)
	composite.Severity = maxSeverity(composite.Severity, event.Severity)
	composite.Severity = escalateByThreshold(composite.Severity, composite.Count, c.thresholds)

	return composite
}

// escalateByThreshold bumps severity to the highest escalation target whose
// count threshold count meets or exceeds, without ever lowering severity.
func escalateByThreshold(severity domain.Severity, count int, thresholds EscalationThresholds) domain.Severity {
	best := severity
	for threshold, target := range thresholds {
		if count >= threshold && severityRank[target] > severityRank[best] {
			best = target
		}
	}
	return best
}

// Evict removes windows older than cutoff (windowStart + windowSize before
// cutoff), returning their final Composites so the caller can flush them as
// closed alerts. Call this periodically (e.g. from the engine's
// alert-queue-processing tick).
func (c *Correlator) Evict(cutoff time.Time) []*Composite {
	c.mu.Lock()
	defer c.mu.Unlock()

	var evicted []*Composite
	for key, composite := range c.open {
		if composite.Window.Add(c.windowSize).Before(cutoff) {
			evicted = append(evicted, composite)
			delete(c.open, key)
		}
	}
	return evicted
}
