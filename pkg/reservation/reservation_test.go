package reservation_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	qamerrors "github.com/qam-project/qam/internal/errors"
	"github.com/qam-project/qam/pkg/reservation"
)

func TestMemoryLedgerGrantsWithinCapacity(t *testing.T) {
	ctx := context.Background()
	ledger := reservation.NewMemoryLedger(reservation.Request{
		QuantumMinutes: 100, ClassicalCompute: 100, MemoryGB: 100, StorageGB: 100,
	})

	hold, err := ledger.Reserve(ctx, "dep-1", "tenant-a", 1, time.Now(), reservation.Request{
		QuantumMinutes: 50, ClassicalCompute: 10, MemoryGB: 10, StorageGB: 10,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !hold.Reserved {
		t.Fatal("expected the hold to be granted")
	}
}

func TestMemoryLedgerDeniesOverCapacityAndQueues(t *testing.T) {
	ctx := context.Background()
	ledger := reservation.NewMemoryLedger(reservation.Request{QuantumMinutes: 10})

	_, err := ledger.Reserve(ctx, "dep-1", "tenant-a", 1, time.Now(), reservation.Request{QuantumMinutes: 20})
	if err == nil {
		t.Fatal("expected reservation to be denied when it exceeds capacity")
	}
	appErr, ok := err.(*qamerrors.AppError)
	if !ok || appErr.Type != qamerrors.ErrorTypeResourceUnavailable {
		t.Fatalf("expected ErrorTypeResourceUnavailable, got %v", err)
	}

	waiter, ok, err := ledger.NextWaiting(ctx)
	if err != nil {
		t.Fatalf("next waiting: %v", err)
	}
	if !ok || waiter.DeploymentID != "dep-1" {
		t.Fatalf("expected dep-1 to be queued, got %+v ok=%v", waiter, ok)
	}
}

func TestMemoryLedgerWaitingQueueOrdersByPriorityThenEnqueueTime(t *testing.T) {
	ctx := context.Background()
	ledger := reservation.NewMemoryLedger(reservation.Request{QuantumMinutes: 1})

	now := time.Now()
	_, _ = ledger.Reserve(ctx, "low-priority-early", "tenant-a", 1, now, reservation.Request{QuantumMinutes: 100})
	_, _ = ledger.Reserve(ctx, "high-priority-late", "tenant-b", 10, now.Add(time.Second), reservation.Request{QuantumMinutes: 100})
	_, _ = ledger.Reserve(ctx, "low-priority-late", "tenant-c", 1, now.Add(2*time.Second), reservation.Request{QuantumMinutes: 100})

	first, _, _ := ledger.NextWaiting(ctx)
	if first.DeploymentID != "high-priority-late" {
		t.Fatalf("expected the higher-priority waiter first, got %s", first.DeploymentID)
	}
	second, _, _ := ledger.NextWaiting(ctx)
	if second.DeploymentID != "low-priority-early" {
		t.Fatalf("expected the earlier-enqueued equal-priority waiter next, got %s", second.DeploymentID)
	}
}

func TestMemoryLedgerReleaseFreesCapacity(t *testing.T) {
	ctx := context.Background()
	ledger := reservation.NewMemoryLedger(reservation.Request{QuantumMinutes: 10})

	if _, err := ledger.Reserve(ctx, "dep-1", "tenant-a", 1, time.Now(), reservation.Request{QuantumMinutes: 10}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := ledger.Reserve(ctx, "dep-2", "tenant-a", 1, time.Now(), reservation.Request{QuantumMinutes: 5}); err == nil {
		t.Fatal("expected dep-2 to be denied while dep-1 holds all capacity")
	}

	if err := ledger.Release(ctx, "dep-1"); err != nil {
		t.Fatalf("release: %v", err)
	}

	hold, err := ledger.Reserve(ctx, "dep-2", "tenant-a", 1, time.Now(), reservation.Request{QuantumMinutes: 5})
	if err != nil {
		t.Fatalf("expected dep-2 to succeed after release, got %v", err)
	}
	if !hold.Reserved {
		t.Fatal("expected the post-release reservation to be granted")
	}
}

func newMiniredisLedger(t *testing.T) (*reservation.RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ledger := reservation.NewRedisLedger(client)
	return ledger, mr
}

func TestRedisLedgerReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newMiniredisLedger(t)

	if err := ledger.SetCapacity(ctx, reservation.Request{QuantumMinutes: 100, ClassicalCompute: 100, MemoryGB: 100, StorageGB: 100}); err != nil {
		t.Fatalf("set capacity: %v", err)
	}

	hold, err := ledger.Reserve(ctx, "dep-1", "tenant-a", 1, time.Now(), reservation.Request{QuantumMinutes: 40, ClassicalCompute: 5, MemoryGB: 5, StorageGB: 5})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !hold.Reserved || hold.QuantumMinutes != 40 {
		t.Fatalf("expected a granted 40-minute hold, got %+v", hold)
	}

	if _, err := ledger.Reserve(ctx, "dep-2", "tenant-a", 1, time.Now(), reservation.Request{QuantumMinutes: 80}); err == nil {
		t.Fatal("expected dep-2 to be denied: 40 + 80 > 100 quantum minutes")
	}

	if err := ledger.Release(ctx, "dep-1"); err != nil {
		t.Fatalf("release: %v", err)
	}

	if _, err := ledger.Reserve(ctx, "dep-2", "tenant-a", 1, time.Now(), reservation.Request{QuantumMinutes: 80}); err != nil {
		t.Fatalf("expected dep-2 to succeed after release, got %v", err)
	}
}

func TestRedisLedgerQueuesWaitersOnDenial(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newMiniredisLedger(t)
	if err := ledger.SetCapacity(ctx, reservation.Request{QuantumMinutes: 10}); err != nil {
		t.Fatalf("set capacity: %v", err)
	}

	if _, err := ledger.Reserve(ctx, "dep-1", "tenant-a", 5, time.Now(), reservation.Request{QuantumMinutes: 50}); err == nil {
		t.Fatal("expected denial")
	}

	waiter, ok, err := ledger.NextWaiting(ctx)
	if err != nil {
		t.Fatalf("next waiting: %v", err)
	}
	if !ok || waiter.DeploymentID != "dep-1" {
		t.Fatalf("expected dep-1 queued as a waiter, got %+v ok=%v", waiter, ok)
	}
}
