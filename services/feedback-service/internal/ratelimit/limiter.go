package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// CounterStore increments the fixed-window counter for a key and returns the
// count after the increment. A fresh or elapsed window starts again at 1.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Limiter makes allow/deny decisions over a CounterStore. Independent call
// sites must namespace their identifiers (e.g. "verify:ip:", "submit:email:")
// so their windows do not interfere.
type Limiter struct {
	store  CounterStore
	logger *slog.Logger
}

func NewLimiter(store CounterStore, logger *slog.Logger) *Limiter {
	return &Limiter{store: store, logger: logger}
}

// Allow reports whether the identifier is within max requests for the window.
// A store failure denies the request rather than letting a throttle lapse.
func (l *Limiter) Allow(ctx context.Context, identifier string, max int, window time.Duration) bool {
	if max <= 0 {
		return false
	}
	count, err := l.store.Incr(ctx, identifier, window)
	if err != nil {
		l.logger.Error("rate limit counter error", "err", err, "identifier", identifier)
		return false
	}
	return count <= int64(max)
}
