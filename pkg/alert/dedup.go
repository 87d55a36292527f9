package alert

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Suppressor drops an Event if an identical-fingerprint alert
// (AgreementKey, Metric, Severity) already fired within cooldown.
type Suppressor interface {
	// ShouldFire reports whether event should be allowed through, recording
	// it as "fired" for cooldown purposes if it is.
	ShouldFire(ctx context.Context, event Event, cooldown time.Duration) (bool, error)
}

// MemorySuppressor is an in-process Suppressor, useful for tests and for a
// single-instance engine deployment.
type MemorySuppressor struct {
	mu       sync.Mutex
	lastFire map[string]time.Time
}

func NewMemorySuppressor() *MemorySuppressor {
	return &MemorySuppressor{lastFire: make(map[string]time.Time)}
}

func (s *MemorySuppressor) ShouldFire(_ context.Context, event Event, cooldown time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := event.fingerprint()
	if last, ok := s.lastFire[key]; ok && event.FiredAt.Sub(last) < cooldown {
		return false, nil
	}
	s.lastFire[key] = event.FiredAt
	return true, nil
}

const redisDedupKeyPrefix = "qam:alert:dedup:"

// RedisSuppressor is a distributed Suppressor for a multi-instance engine,
// grounded on the hot-path/cacheSet pattern used elsewhere in the pack's
// Redis-backed dedup caches: one atomic SET-if-not-exists with a TTL equal
// to the cooldown window stands in for a separate "already fired" lookup
// plus a best-effort cache warm, since here there's no DB of record to
// fall back to — the cooldown window itself is the source of truth.
type RedisSuppressor struct {
	rdb *redis.Client
}

func NewRedisSuppressor(rdb *redis.Client) *RedisSuppressor {
	return &RedisSuppressor{rdb: rdb}
}

func (s *RedisSuppressor) ShouldFire(ctx context.Context, event Event, cooldown time.Duration) (bool, error) {
	key := redisDedupKeyPrefix + event.fingerprint()
	set, err := s.rdb.SetNX(ctx, key, event.FiredAt.Format(time.RFC3339Nano), cooldown).Result()
	if err != nil {
		return false, err
	}
	return set, nil
}
