package backend

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	qamerrors "github.com/qam-project/qam/internal/errors"
)

// BreakerManager keeps one gobreaker.CircuitBreaker per backend name, so a
// run of failures against one backend trips only that backend's breaker
// and doesn't affect calls to the others.
type BreakerManager struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings func(name string) gobreaker.Settings
}

func NewBreakerManager() *BreakerManager {
	return &BreakerManager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: defaultSettings,
	}
}

func defaultSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
}

func (m *BreakerManager) breakerFor(name string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[name]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(m.settings(name))
	m.breakers[name] = b
	return b
}

// Call runs fn through backendName's breaker, translating an open-breaker
// rejection into a BackendUnavailable AppError.
func (m *BreakerManager) Call(ctx context.Context, backendName string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	breaker := m.breakerFor(backendName)
	result, err := breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, qamerrors.NewBackendUnavailable(backendName, err)
	}
	return result, err
}
