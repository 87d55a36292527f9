package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/qam-project/qam/pkg/domain"
	"github.com/qam-project/qam/pkg/notification/delivery"
	"github.com/qam-project/qam/pkg/notification/sanitization"
)

// Manager is the Alert Manager: it suppresses duplicate events, correlates
// the rest into per-window composites, and dispatches a Notification for
// every composite that changed since it was last delivered.
type Manager struct {
	suppressor Suppressor
	correlator *Correlator
	services   map[delivery.Channel]delivery.Service
	sanitizer  *sanitization.Sanitizer
	cooldown   time.Duration
}

func NewManager(suppressor Suppressor, correlator *Correlator, services map[delivery.Channel]delivery.Service, cooldown time.Duration) *Manager {
	return &Manager{
		suppressor: suppressor,
		correlator: correlator,
		services:   services,
		sanitizer:  sanitization.NewSanitizer(),
		cooldown:   cooldown,
	}
}

// Receive processes one violation event: suppress-if-duplicate, else fold
// into its window's Composite and dispatch the updated composite. Returns
// whether a notification was dispatched (false for a suppressed duplicate).
func (m *Manager) Receive(ctx context.Context, event Event) (bool, error) {
	fire, err := m.suppressor.ShouldFire(ctx, event, m.cooldown)
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	if !fire {
		return false, nil
	}

	composite := m.correlator.Add(event)
	if err := m.dispatch(ctx, composite); err != nil {
		return true, fmt.Errorf("dispatch composite: %w", err)
	}
	return true, nil
}

// FlushExpiredWindows evicts and dispatches a final notification for every
// correlation window older than cutoff. The engine calls this on its
// alert-queue-processing tick so a quiet window's last composite still gets
// delivered once, even if no further event reopens it.
func (m *Manager) FlushExpiredWindows(ctx context.Context, cutoff time.Time) error {
	for _, composite := range m.correlator.Evict(cutoff) {
		if err := m.dispatch(ctx, composite); err != nil {
			return fmt.Errorf("flush composite %s: %w", composite.AgreementKey, err)
		}
	}
	return nil
}

func (m *Manager) dispatch(ctx context.Context, composite *Composite) error {
	notification := renderNotification(composite)
	notification.Body, _ = m.sanitizer.SanitizeWithFallback(notification.Body)
	var firstErr error
	for _, channel := range notification.Channels {
		service, ok := m.services[channel]
		if !ok {
			continue
		}
		if err := service.Deliver(ctx, notification); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func renderNotification(composite *Composite) *delivery.Notification {
	severity := toDeliverySeverity(composite.Severity)
	channels := []delivery.Channel{delivery.ChannelFile}
	if severity == delivery.SeverityCritical {
		channels = append(channels, delivery.ChannelSlack)
	}

	return &delivery.Notification{
		ID:        composite.AgreementKey + "@" + composite.Window.Format(time.RFC3339),
		Subject:   fmt.Sprintf("SLA alert: %s (%s, %d events)", composite.AgreementKey, composite.Severity, composite.Count),
		Body:      renderBody(composite),
		Severity:  severity,
		Channels:  channels,
		CreatedAt: time.Now(),
	}
}

func renderBody(composite *Composite) string {
	body := fmt.Sprintf("agreement=%s window=%s severity=%s count=%d\n",
		composite.AgreementKey, composite.Window.Format(time.RFC3339), composite.Severity, composite.Count)
	for _, member := range composite.Members {
		body += fmt.Sprintf("- metric=%s severity=%s actual=%v threshold=%v\n",
			member.Metric, member.Severity, member.Violation.Actual, member.Violation.Threshold)
	}
	return body
}

func toDeliverySeverity(severity domain.Severity) delivery.Severity {
	switch severity {
	case domain.SeverityCritical:
		return delivery.SeverityCritical
	case domain.SeverityHigh, domain.SeverityMedium:
		return delivery.SeverityWarning
	default:
		return delivery.SeverityInfo
	}
}
