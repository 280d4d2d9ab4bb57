package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestNewPingsRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")
	ctx := context.Background()

	client, err := New(ctx, Options{Addr: mr.Addr(), Password: "s3cret", DB: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Set(ctx, "k", "v", 0).Err())
	mr.Select(2)
	require.True(t, mr.Exists("k"))

	_, err = New(ctx, Options{Addr: mr.Addr(), Password: "wrong", DialTimeout: time.Second})
	require.Error(t, err)
	_, err = New(ctx, Options{})
	require.Error(t, err)
}

func TestOptionsAsynq(t *testing.T) {
	opts := Options{Addr: "redis:6379", Password: "pw", DB: 3}.Asynq()
	require.Equal(t, "redis:6379", opts.Addr)
	require.Equal(t, "pw", opts.Password)
	require.Equal(t, 3, opts.DB)
	require.Equal(t, 5*time.Second, opts.DialTimeout)
}

func TestLockerIsExclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewLocker(client)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "consumption:snapshot:all:lock", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "consumption:snapshot:all:lock", time.Minute)
	require.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, release(ctx))

	release, err = locker.Acquire(ctx, "consumption:snapshot:all:lock", time.Minute)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}
