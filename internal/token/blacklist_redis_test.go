package token

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisBlacklist(t *testing.T) (*RedisBlacklist, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBlacklist(client, time.Hour), mr
}

func TestRedisBlacklistRevokeAndExpire(t *testing.T) {
	b, mr := newRedisBlacklist(t)
	ctx := context.Background()

	revoked, err := b.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, revoked)

	require.NoError(t, b.Revoke(ctx, "jti-1", 10*time.Minute))
	revoked, err = b.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, revoked)

	mr.FastForward(10*time.Minute + time.Second)
	revoked, err = b.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, revoked, "entry must expire with its token")
}

func TestRedisBlacklistClampsTTLToCeiling(t *testing.T) {
	b, mr := newRedisBlacklist(t)
	ctx := context.Background()

	require.NoError(t, b.Revoke(ctx, "jti-long", 48*time.Hour))
	ttl := mr.TTL(redisKeyPrefix + "jti-long")
	require.LessOrEqual(t, ttl, time.Hour)

	require.NoError(t, b.Revoke(ctx, "jti-zero", 0))
	ttl = mr.TTL(redisKeyPrefix + "jti-zero")
	require.Greater(t, ttl, time.Duration(0))
	require.LessOrEqual(t, ttl, time.Hour)
}

func TestRedisBlacklistConsume(t *testing.T) {
	b, mr := newRedisBlacklist(t)
	ctx := context.Background()

	inserted, err := b.Consume(ctx, "jti-1", 10*time.Minute)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = b.Consume(ctx, "jti-1", 10*time.Minute)
	require.NoError(t, err)
	require.False(t, inserted, "second Consume must report the key as taken")

	revoked, err := b.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, revoked)

	// The key carries a TTL like any Revoke'd entry.
	ttl := mr.TTL(redisKeyPrefix + "jti-1")
	require.Greater(t, ttl, time.Duration(0))
	require.LessOrEqual(t, ttl, 10*time.Minute)

	mr.FastForward(10*time.Minute + time.Second)
	inserted, err = b.Consume(ctx, "jti-1", 10*time.Minute)
	require.NoError(t, err)
	require.True(t, inserted, "expired key must be consumable again")
}

func TestRedisBlacklistEmptyID(t *testing.T) {
	b, _ := newRedisBlacklist(t)
	ctx := context.Background()
	require.NoError(t, b.Revoke(ctx, "", time.Minute))
	revoked, err := b.IsRevoked(ctx, "")
	require.NoError(t, err)
	require.False(t, revoked)
}
