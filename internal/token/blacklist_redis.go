package token

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "vaultdesk:revoked:"

// RedisBlacklist externalizes the revocation registry so revocations are
// visible across instances of a horizontally-scaled deployment. Entry expiry
// rides on Redis key TTLs.
type RedisBlacklist struct {
	client  *redis.Client
	ceiling time.Duration
}

var _ Blacklist = (*RedisBlacklist)(nil)

// NewRedisBlacklist constructs the registry on an existing client. The
// ceiling must cover the longest token lifetime in use.
func NewRedisBlacklist(client *redis.Client, ceiling time.Duration) *RedisBlacklist {
	if ceiling <= 0 {
		ceiling = defaultRefreshTTL
	}
	return &RedisBlacklist{client: client, ceiling: ceiling}
}

// Revoke records the identifier with a key TTL clamped to the ceiling.
func (b *RedisBlacklist) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" {
		return nil
	}
	if ttl <= 0 || ttl > b.ceiling {
		ttl = b.ceiling
	}
	return b.client.Set(ctx, redisKeyPrefix+tokenID, "1", ttl).Err()
}

// Consume inserts the identifier unless the key already exists. SET NX makes
// the check and the insert one atomic Redis operation.
func (b *RedisBlacklist) Consume(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	if ttl <= 0 || ttl > b.ceiling {
		ttl = b.ceiling
	}
	return b.client.SetNX(ctx, redisKeyPrefix+tokenID, "1", ttl).Result()
}

// IsRevoked reports membership.
func (b *RedisBlacklist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	n, err := b.client.Exists(ctx, redisKeyPrefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
