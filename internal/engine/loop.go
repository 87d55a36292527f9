// Package engine drives the QAM engine's three periodic monitoring loops
// (spec §5): metric collection, SLA compliance validation, and alert-queue
// processing, each on its own cancellable, overlap-safe ticker.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/qam-project/qam/pkg/alert"
	"github.com/qam-project/qam/pkg/deployment"
	"github.com/qam-project/qam/pkg/domain"
	"github.com/qam-project/qam/pkg/metrics"
)

// Intervals controls how often each of the three loops ticks.
type Intervals struct {
	MetricCollection    time.Duration
	ComplianceValidation time.Duration
	AlertQueueProcessing time.Duration

	ComplianceWindow time.Duration
	AlertWindow      time.Duration
}

// Loop owns the three monitoring goroutines. It is idempotent: calling
// Start on an already-running Loop or Stop on a stopped one is a no-op.
type Loop struct {
	sup       *deployment.Supervisor
	alerts    *alert.Manager
	intervals Intervals
	log       logr.Logger
	now       func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewLoop(sup *deployment.Supervisor, alerts *alert.Manager, intervals Intervals, log logr.Logger) *Loop {
	return &Loop{
		sup:       sup,
		alerts:    alerts,
		intervals: intervals,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the three ticker goroutines. Calling Start again before
// Stop is a no-op.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true

	l.wg.Add(3)
	go l.run(loopCtx, "metric_collection", l.intervals.MetricCollection, l.runMetricCollection)
	go l.run(loopCtx, "compliance_validation", l.intervals.ComplianceValidation, l.runComplianceValidation)
	go l.run(loopCtx, "alert_queue_processing", l.intervals.AlertQueueProcessing, l.runAlertQueueProcessing)
}

// Stop cancels all three loops and waits for their current tick, if any, to
// finish. Calling Stop on a Loop that isn't running is a no-op.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel := l.cancel
	l.mu.Unlock()

	cancel()
	l.wg.Wait()
}

// run ticks name's pass on interval until ctx is cancelled. Each loop owns
// a single goroutine and runs its passes strictly sequentially, so a pass
// that overruns its interval simply delays the next tick rather than
// overlapping with itself.
func (l *Loop) run(ctx context.Context, name string, interval time.Duration, pass func(context.Context)) {
	defer l.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pass(ctx)
		}
	}
}

// StepOnce runs all three passes synchronously, once, ignoring their usual
// ticker cadence, so a caller (for example a test) can drive a single sweep
// without starting the tickers.
func (l *Loop) StepOnce(ctx context.Context) {
	l.runMetricCollection(ctx)
	l.runComplianceValidation(ctx)
	l.runAlertQueueProcessing(ctx)
}

// runMetricCollection republishes the in-flight-execution gauge from the
// Supervisor's own bookkeeping, healing any drift a missed
// Increment/DecrementConcurrentExecutions call may have left behind.
func (l *Loop) runMetricCollection(ctx context.Context) {
	deployments, err := l.sup.ComplianceSnapshot(ctx)
	if err != nil {
		l.log.Error(err, "metric collection: list deployments")
		return
	}

	running := 0
	for _, d := range deployments {
		running += countActiveExecutions(d)
	}
	metrics.ConcurrentExecutionsRunning.Set(float64(running))
}

func countActiveExecutions(d *domain.Deployment) int {
	n := 0
	for i := range d.Executions {
		if !domain.IsExecutionTerminal(d.Executions[i].Status) {
			n++
		}
	}
	return n
}

// runComplianceValidation ages out expired violations from every
// deployment's rolling compliance window.
func (l *Loop) runComplianceValidation(ctx context.Context) {
	changed, err := l.sup.RefreshCompliance(ctx, l.intervals.ComplianceWindow)
	if err != nil {
		l.log.Error(err, "compliance validation pass failed")
		return
	}
	if changed > 0 {
		l.log.V(1).Info("compliance validation pass complete", "deploymentsUpdated", changed)
	}
}

// runAlertQueueProcessing flushes any correlation window that has gone
// quiet since the last tick, so its last composite still gets delivered.
func (l *Loop) runAlertQueueProcessing(ctx context.Context) {
	if l.alerts == nil {
		return
	}
	cutoff := l.now().Add(-l.intervals.AlertWindow)
	if err := l.alerts.FlushExpiredWindows(ctx, cutoff); err != nil {
		l.log.Error(err, "alert queue processing pass failed")
	}
}
