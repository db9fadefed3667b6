package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/clinic/backend/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const claimPrefix = "clinic:dispatch-claim:"

// releaseOwned deletes a claim only while it still holds our token, so a
// claim that lapsed and was taken by another instance is left alone.
var releaseOwned = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClaims keeps dispatch claims in Redis where every instance sees them.
// Each store writes its own owner token as the claim value.
type RedisClaims struct {
	client redis.UniversalClient
	prefix string
	owner  string
}

// DialRedisClaims connects with cfg and checks the server answers
func DialRedisClaims(ctx context.Context, cfg config.RedisConfig) (*RedisClaims, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr(), err)
	}
	return NewRedisClaims(client, ""), nil
}

// NewRedisClaims wraps an existing client. An empty prefix selects the default.
func NewRedisClaims(client redis.UniversalClient, prefix string) *RedisClaims {
	if prefix == "" {
		prefix = claimPrefix
	}
	return &RedisClaims{client: client, prefix: prefix, owner: uuid.NewString()}
}

func (r *RedisClaims) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, r.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (r *RedisClaims) Held(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("check claim %s: %w", key, err)
	}
	return n == 1, nil
}

// Release drops the claim if this store still owns it
func (r *RedisClaims) Release(ctx context.Context, key string) error {
	if err := releaseOwned.Run(ctx, r.client, []string{r.prefix + key}, r.owner).Err(); err != nil {
		return fmt.Errorf("release claim %s: %w", key, err)
	}
	return nil
}

func (r *RedisClaims) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisClaims) Close() error {
	return r.client.Close()
}

var _ Store = (*RedisClaims)(nil)
