package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"vaultline/internal/domain"
)

// SecretKeyPrefix namespaces session secrets in a shared Redis.
const SecretKeyPrefix = "shiv:secret:"

// RedisSecretCache is the fast SecretCache tier. A nil client turns every
// operation into a miss so the store degrades to SQL alone.
type RedisSecretCache struct {
	client *redis.Client
}

// NewRedisSecretCache wraps client, which may be nil.
func NewRedisSecretCache(client *redis.Client) *RedisSecretCache {
	return &RedisSecretCache{client: client}
}

// OpenRedis dials addr and pings it once.
func OpenRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func secretKey(kid domain.KID) string { return SecretKeyPrefix + string(kid) }

func (c *RedisSecretCache) GetSecret(ctx context.Context, kid domain.KID) ([]byte, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	b, err := c.client.Get(ctx, secretKey(kid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *RedisSecretCache) SetSecret(ctx context.Context, kid domain.KID, secret []byte, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Set(ctx, secretKey(kid), secret, ttl).Err()
}

func (c *RedisSecretCache) DeleteSecret(ctx context.Context, kid domain.KID) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, secretKey(kid)).Err()
}

// Compile-time assertion that RedisSecretCache implements domain.SecretCache.
var _ domain.SecretCache = (*RedisSecretCache)(nil)
