package reservation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/qam-project/qam/pkg/domain"
)

// MemoryLedger is an in-process Ledger, used by tests and single-process
// deployments that don't need the reservation state to survive a restart.
type MemoryLedger struct {
	mu       sync.Mutex
	capacity Request
	inUse    Request
	holds    map[string]domain.ReservationHold
	waiting  []Waiter
}

func NewMemoryLedger(capacity Request) *MemoryLedger {
	return &MemoryLedger{
		capacity: capacity,
		holds:    make(map[string]domain.ReservationHold),
	}
}

func (l *MemoryLedger) SetCapacity(_ context.Context, capacity Request) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.capacity = capacity
	return nil
}

func (l *MemoryLedger) Reserve(_ context.Context, deploymentID, tenantID string, priority int, enqueuedAt time.Time, req Request) (domain.ReservationHold, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inUse.QuantumMinutes+req.QuantumMinutes > l.capacity.QuantumMinutes ||
		l.inUse.ClassicalCompute+req.ClassicalCompute > l.capacity.ClassicalCompute ||
		l.inUse.MemoryGB+req.MemoryGB > l.capacity.MemoryGB ||
		l.inUse.StorageGB+req.StorageGB > l.capacity.StorageGB {
		l.enqueue(Waiter{DeploymentID: deploymentID, TenantID: tenantID, Priority: priority, EnqueuedAt: enqueuedAt})
		return domain.ReservationHold{}, insufficientResourceErr(deploymentID)
	}

	l.inUse.QuantumMinutes += req.QuantumMinutes
	l.inUse.ClassicalCompute += req.ClassicalCompute
	l.inUse.MemoryGB += req.MemoryGB
	l.inUse.StorageGB += req.StorageGB

	hold := domain.ReservationHold{
		Reserved:         true,
		QuantumMinutes:   req.QuantumMinutes,
		ClassicalCompute: req.ClassicalCompute,
		MemoryGB:         req.MemoryGB,
		StorageGB:        req.StorageGB,
		ReservedAt:       time.Now().UTC(),
	}
	l.holds[deploymentID] = hold
	return hold, nil
}

func (l *MemoryLedger) Release(_ context.Context, deploymentID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	hold, ok := l.holds[deploymentID]
	if !ok || !hold.Reserved {
		return nil
	}
	l.inUse.QuantumMinutes -= hold.QuantumMinutes
	l.inUse.ClassicalCompute -= hold.ClassicalCompute
	l.inUse.MemoryGB -= hold.MemoryGB
	l.inUse.StorageGB -= hold.StorageGB
	delete(l.holds, deploymentID)
	return nil
}

func (l *MemoryLedger) NextWaiting(_ context.Context) (Waiter, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.waiting) == 0 {
		return Waiter{}, false, nil
	}
	next := l.waiting[0]
	l.waiting = l.waiting[1:]
	return next, true, nil
}

// enqueue inserts w keeping the waiting list ordered by priority (higher
// first), then by enqueue time (earlier first), per §4.1's contention
// tie-break rule. Caller holds l.mu.
func (l *MemoryLedger) enqueue(w Waiter) {
	for _, existing := range l.waiting {
		if existing.DeploymentID == w.DeploymentID {
			return
		}
	}
	l.waiting = append(l.waiting, w)
	sort.SliceStable(l.waiting, func(i, j int) bool {
		if l.waiting[i].Priority != l.waiting[j].Priority {
			return l.waiting[i].Priority > l.waiting[j].Priority
		}
		return l.waiting[i].EnqueuedAt.Before(l.waiting[j].EnqueuedAt)
	})
}
