package dedupe

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

// Locker serializes pipeline execution per (team, identity key) so two
// concurrent submissions of the same identity never both observe "no match".
// The store's unique constraint remains the safety net if a lock expires.
type Locker interface {
	// Acquire blocks until every identity key is held or ctx is done. The
	// returned function releases the locks.
	Acquire(ctx context.Context, teamID uuid.UUID, keys []Key) (func(), error)
}

const lockRetryInterval = 50 * time.Millisecond

func lockNames(teamID uuid.UUID, keys []Key) []string {
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, "dedupe:lock:"+teamID.String()+":"+string(k.Type)+":"+k.Value)
	}
	// Deterministic order prevents two submissions deadlocking on
	// overlapping key sets.
	sort.Strings(names)
	return names
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// RedisLock implements Locker with per-key SET NX and a TTL so a crashed
// instance cannot hold an identity forever.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

func NewRedisLock(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisLock {
	return &RedisLock{client: client, ttl: ttl, log: log}
}

func (l *RedisLock) Acquire(ctx context.Context, teamID uuid.UUID, keys []Key) (func(), error) {
	names := lockNames(teamID, keys)
	token := uuid.NewString()

	for {
		acquired, err := l.tryAll(ctx, names, token)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, "identity lock unavailable", err)
		}
		if acquired {
			return func() { l.release(names, token) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, apperr.Wrap(apperr.KindUnavailable, "timed out waiting for identity lock", ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
}

// tryAll acquires every name or none: on the first contended key it rolls
// back the ones already taken.
func (l *RedisLock) tryAll(ctx context.Context, names []string, token string) (bool, error) {
	for i, name := range names {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			l.release(names[:i], token)
			return false, err
		}
		if !ok {
			l.release(names[:i], token)
			return false, nil
		}
	}
	return true, nil
}

func (l *RedisLock) release(names []string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, name := range names {
		if err := releaseScript.Run(ctx, l.client, []string{name}, token).Err(); err != nil && err != redis.Nil {
			if l.log != nil {
				l.log.Warn("failed to release identity lock", "lock", name, "error", err)
			}
		}
	}
}
