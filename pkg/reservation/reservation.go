// Package reservation implements the Resource Reservation ledger: an
// atomic reserve/release API over a deployment's four resource dimensions
// (quantum minutes, classical compute, memory, storage), with FIFO
// ordering by enqueue time and tenant priority when capacity is exhausted.
package reservation

import (
	"context"
	"time"

	qamerrors "github.com/qam-project/qam/internal/errors"
	"github.com/qam-project/qam/pkg/domain"
)

// Request is the resource footprint a deployment needs held for its
// lifetime, taken from its Template's ResourceEstimate.
type Request struct {
	QuantumMinutes   float64
	ClassicalCompute float64
	MemoryGB         float64
	StorageGB        float64
}

// Waiter is one deployment queued behind exhausted capacity, ordered by
// enqueue time with higher tenant priority breaking ties in its favor.
type Waiter struct {
	DeploymentID string
	TenantID     string
	Priority     int
	EnqueuedAt   time.Time
}

// Ledger is the Resource Reservation contract.
type Ledger interface {
	// Reserve attempts to atomically hold req against the ledger's capacity.
	// If capacity is insufficient, the deployment is appended to the
	// waiting queue (ordered ahead of lower-priority, later-enqueued
	// waiters) and Reserve returns a resource-unavailable AppError.
	Reserve(ctx context.Context, deploymentID, tenantID string, priority int, enqueuedAt time.Time, req Request) (domain.ReservationHold, error)

	// Release returns a deployment's hold to the available pool.
	Release(ctx context.Context, deploymentID string) error

	// NextWaiting pops the highest-priority, earliest-enqueued waiter, if
	// any, for the caller to retry against freed capacity.
	NextWaiting(ctx context.Context) (Waiter, bool, error)

	// SetCapacity replaces the ledger's total resource capacity.
	SetCapacity(ctx context.Context, capacity Request) error
}

func insufficientResourceErr(deploymentID string) error {
	return qamerrors.NewResourceUnavailable(deploymentID, nil)
}
