package ingest

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// KeyLimiter rate-limits submissions per API key. Limiters live for the
// process lifetime; the key space is small (one per integration).
type KeyLimiter struct {
	mu        sync.Mutex
	limiters  map[uuid.UUID]*rate.Limiter
	perMinute int
}

func NewKeyLimiter(perMinute int) *KeyLimiter {
	if perMinute < 1 {
		perMinute = 120
	}
	return &KeyLimiter{
		limiters:  make(map[uuid.UUID]*rate.Limiter),
		perMinute: perMinute,
	}
}

func (l *KeyLimiter) Allow(keyID uuid.UUID) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[keyID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.perMinute)
		l.limiters[keyID] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}
