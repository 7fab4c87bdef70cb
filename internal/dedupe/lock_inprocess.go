package dedupe

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/platform/apperr"
)

// InProcessLock is a Locker for single-instance deployments and tests, where
// no Redis is configured. It serializes identities within this process only.
type InProcessLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewInProcessLock() *InProcessLock {
	return &InProcessLock{held: make(map[string]bool)}
}

func (l *InProcessLock) Acquire(ctx context.Context, teamID uuid.UUID, keys []Key) (func(), error) {
	names := lockNames(teamID, keys)
	for {
		if l.tryAll(names) {
			return func() { l.release(names) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, apperr.Wrap(apperr.KindUnavailable, "timed out waiting for identity lock", ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
}

func (l *InProcessLock) tryAll(names []string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, name := range names {
		if l.held[name] {
			return false
		}
	}
	for _, name := range names {
		l.held[name] = true
	}
	return true
}

func (l *InProcessLock) release(names []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, name := range names {
		delete(l.held, name)
	}
}
