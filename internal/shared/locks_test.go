package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, ttl), mr
}

func TestRedisLockerExclusive(t *testing.T) {
	locker, _ := newTestLocker(t, time.Minute)
	ctx := context.Background()
	key := OrderLockKey("PO-0001")

	release, err := locker.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, key)
	require.ErrorIs(t, err, ErrLockHeld)

	release()
	release2, err := locker.Acquire(ctx, key)
	require.NoError(t, err)
	release2()
}

func TestRedisLockerExpires(t *testing.T) {
	locker, mr := newTestLocker(t, time.Second)
	ctx := context.Background()
	key := OrderLockKey("PO-0002")

	release, err := locker.Acquire(ctx, key)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	release2, err := locker.Acquire(ctx, key)
	require.NoError(t, err)

	// the stale holder must not drop the new holder's lock
	release()
	require.True(t, mr.Exists(key))
	release2()
	require.False(t, mr.Exists(key))
}

func TestActorHasRole(t *testing.T) {
	actor := Actor{User: "buyer@example.com", Roles: []string{"Purchase User", "system manager"}}
	require.True(t, actor.HasRole("System Manager"))
	require.False(t, actor.HasRole("Accounts Manager"))

	ctx := ContextWithActor(context.Background(), actor)
	got, ok := ActorFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, actor.User, got.User)

	_, ok = ActorFromContext(context.Background())
	require.False(t, ok)
}
