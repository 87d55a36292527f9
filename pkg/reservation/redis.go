package reservation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qam-project/qam/pkg/domain"
)

const (
	capacityKey = "qam:reservation:capacity"
	inUseKey    = "qam:reservation:inuse"
	holdsPrefix = "qam:reservation:hold:"
	waitingKey  = "qam:reservation:waiting"
)

// reserveScript atomically checks all four resource dimensions against
// remaining capacity and, if every dimension has room, increments inUseKey
// and returns 1; otherwise it leaves state untouched and returns 0. KEYS[1]
// is the capacity hash, KEYS[2] is the in-use hash; ARGV holds the
// requested quantum_minutes, classical_compute, memory_gb, storage_gb in
// that order.
var reserveScript = redis.NewScript(`
local fields = {"quantum_minutes", "classical_compute", "memory_gb", "storage_gb"}
for i, field in ipairs(fields) do
	local capacity = tonumber(redis.call("HGET", KEYS[1], field) or "0")
	local inuse = tonumber(redis.call("HGET", KEYS[2], field) or "0")
	local want = tonumber(ARGV[i])
	if inuse + want > capacity then
		return 0
	end
end
for i, field in ipairs(fields) do
	redis.call("HINCRBYFLOAT", KEYS[2], field, ARGV[i])
end
return 1
`)

// RedisLedger is the Resource Reservation ledger's Redis-backed
// implementation: capacity and in-use totals live in two hashes, checked
// and incremented atomically by reserveScript; each grant's hold is
// recorded as its own key so Release knows exactly how much to give back.
type RedisLedger struct {
	rdb *redis.Client
}

func NewRedisLedger(rdb *redis.Client) *RedisLedger {
	return &RedisLedger{rdb: rdb}
}

func (l *RedisLedger) SetCapacity(ctx context.Context, capacity Request) error {
	return l.rdb.HSet(ctx, capacityKey,
		"quantum_minutes", capacity.QuantumMinutes,
		"classical_compute", capacity.ClassicalCompute,
		"memory_gb", capacity.MemoryGB,
		"storage_gb", capacity.StorageGB,
	).Err()
}

func (l *RedisLedger) Reserve(ctx context.Context, deploymentID, tenantID string, priority int, enqueuedAt time.Time, req Request) (domain.ReservationHold, error) {
	granted, err := reserveScript.Run(ctx, l.rdb,
		[]string{capacityKey, inUseKey},
		req.QuantumMinutes, req.ClassicalCompute, req.MemoryGB, req.StorageGB,
	).Int()
	if err != nil {
		return domain.ReservationHold{}, fmt.Errorf("reservation: failed to run reserve script: %w", err)
	}

	if granted == 0 {
		if err := l.enqueueWaiter(ctx, Waiter{
			DeploymentID: deploymentID, TenantID: tenantID, Priority: priority, EnqueuedAt: enqueuedAt,
		}); err != nil {
			return domain.ReservationHold{}, err
		}
		return domain.ReservationHold{}, insufficientResourceErr(deploymentID)
	}

	hold := domain.ReservationHold{
		Reserved:         true,
		QuantumMinutes:   req.QuantumMinutes,
		ClassicalCompute: req.ClassicalCompute,
		MemoryGB:         req.MemoryGB,
		StorageGB:        req.StorageGB,
		ReservedAt:       time.Now().UTC(),
	}
	payload, err := json.Marshal(hold)
	if err != nil {
		return domain.ReservationHold{}, fmt.Errorf("reservation: failed to marshal hold: %w", err)
	}
	if err := l.rdb.Set(ctx, holdsPrefix+deploymentID, payload, 0).Err(); err != nil {
		return domain.ReservationHold{}, fmt.Errorf("reservation: failed to persist hold: %w", err)
	}
	return hold, nil
}

func (l *RedisLedger) Release(ctx context.Context, deploymentID string) error {
	raw, err := l.rdb.Get(ctx, holdsPrefix+deploymentID).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reservation: failed to load hold for release: %w", err)
	}

	var hold domain.ReservationHold
	if err := json.Unmarshal(raw, &hold); err != nil {
		return fmt.Errorf("reservation: failed to unmarshal hold: %w", err)
	}

	pipe := l.rdb.Pipeline()
	pipe.HIncrByFloat(ctx, inUseKey, "quantum_minutes", -hold.QuantumMinutes)
	pipe.HIncrByFloat(ctx, inUseKey, "classical_compute", -hold.ClassicalCompute)
	pipe.HIncrByFloat(ctx, inUseKey, "memory_gb", -hold.MemoryGB)
	pipe.HIncrByFloat(ctx, inUseKey, "storage_gb", -hold.StorageGB)
	pipe.Del(ctx, holdsPrefix+deploymentID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reservation: failed to release hold: %w", err)
	}
	return nil
}

// enqueueWaiter adds w to a sorted set scored so ZPOPMIN yields the
// highest-priority, earliest-enqueued waiter first: the score is
// 1,000,000 minus the priority, plus the enqueue time in Unix nanoseconds
// divided by 1e18 (about 1.7 for present-day dates), so earlier timestamps
// sort first within the same priority; timestamps less than about 0.1s
// apart can share a score.
func (l *RedisLedger) enqueueWaiter(ctx context.Context, w Waiter) error {
	payload, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("reservation: failed to marshal waiter: %w", err)
	}
	score := waiterScore(w.Priority, w.EnqueuedAt)
	if err := l.rdb.ZAdd(ctx, waitingKey, redis.Z{Score: score, Member: payload}).Err(); err != nil {
		return fmt.Errorf("reservation: failed to enqueue waiter: %w", err)
	}
	return nil
}

func waiterScore(priority int, enqueuedAt time.Time) float64 {
	const maxPriority = 1_000_000.0
	normalizedTime := float64(enqueuedAt.UnixNano()) / 1e18 // keeps it a small fraction
	return (maxPriority - float64(priority)) + normalizedTime
}

func (l *RedisLedger) NextWaiting(ctx context.Context) (Waiter, bool, error) {
	result, err := l.rdb.ZPopMin(ctx, waitingKey, 1).Result()
	if err != nil {
		return Waiter{}, false, fmt.Errorf("reservation: failed to pop next waiter: %w", err)
	}
	if len(result) == 0 {
		return Waiter{}, false, nil
	}

	var w Waiter
	if err := json.Unmarshal([]byte(result[0].Member.(string)), &w); err != nil {
		return Waiter{}, false, fmt.Errorf("reservation: failed to unmarshal waiter: %w", err)
	}
	return w, true, nil
}
