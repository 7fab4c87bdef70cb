package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestRedisLock(t *testing.T) (*RedisLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLock(client, 30*time.Second, nil), mr
}

func TestRedisLockMutualExclusion(t *testing.T) {
	lock, _ := newTestRedisLock(t)
	teamID := uuid.New()
	keys := []Key{{Type: KeyEmail, Value: "jane@acme.io"}}

	release, err := lock.Acquire(context.Background(), teamID, keys)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, err := lock.Acquire(ctx, teamID, keys); err == nil {
		t.Fatal("second acquire must block until the first releases")
	}

	release()

	release2, err := lock.Acquire(context.Background(), teamID, keys)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release2()
}

func TestRedisLockDifferentIdentitiesDoNotContend(t *testing.T) {
	lock, _ := newTestRedisLock(t)
	teamID := uuid.New()

	r1, err := lock.Acquire(context.Background(), teamID, []Key{{Type: KeyEmail, Value: "a@x.co"}})
	if err != nil {
		t.Fatal(err)
	}
	defer r1()

	r2, err := lock.Acquire(context.Background(), teamID, []Key{{Type: KeyEmail, Value: "b@x.co"}})
	if err != nil {
		t.Fatal(err)
	}
	defer r2()
}

func TestRedisLockSameIdentityDifferentTeamsDoNotContend(t *testing.T) {
	lock, _ := newTestRedisLock(t)
	keys := []Key{{Type: KeyEmail, Value: "jane@acme.io"}}

	r1, err := lock.Acquire(context.Background(), uuid.New(), keys)
	if err != nil {
		t.Fatal(err)
	}
	defer r1()

	r2, err := lock.Acquire(context.Background(), uuid.New(), keys)
	if err != nil {
		t.Fatal(err)
	}
	defer r2()
}

func TestRedisLockPartialAcquireRollsBack(t *testing.T) {
	lock, _ := newTestRedisLock(t)
	teamID := uuid.New()
	emailKey := Key{Type: KeyEmail, Value: "jane@acme.io"}
	phoneKey := Key{Type: KeyPhone, Value: "+14155552671"}

	// Hold one of the two keys so the multi-key acquire cannot complete.
	holdRelease, err := lock.Acquire(context.Background(), teamID, []Key{phoneKey})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, err := lock.Acquire(ctx, teamID, []Key{emailKey, phoneKey}); err == nil {
		t.Fatal("acquire must fail while one key is held")
	}

	// The email key must have been rolled back, not left dangling.
	release, err := lock.Acquire(context.Background(), teamID, []Key{emailKey})
	if err != nil {
		t.Fatalf("email key left locked after rollback: %v", err)
	}
	release()
	holdRelease()
}

func TestRedisLockExpiresByTTL(t *testing.T) {
	lock, mr := newTestRedisLock(t)
	teamID := uuid.New()
	keys := []Key{{Type: KeyEmail, Value: "jane@acme.io"}}

	if _, err := lock.Acquire(context.Background(), teamID, keys); err != nil {
		t.Fatal(err)
	}
	// Simulate a crashed holder: never release, advance past the TTL.
	mr.FastForward(31 * time.Second)

	release, err := lock.Acquire(context.Background(), teamID, keys)
	if err != nil {
		t.Fatalf("lock must expire with its TTL: %v", err)
	}
	release()
}
