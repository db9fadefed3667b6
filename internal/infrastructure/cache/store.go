package cache

import (
	"context"
	"fmt"

	"github.com/clinic/backend/internal/domain/fulfillment"
	"github.com/clinic/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Store is a dispatch ClaimStore the process owns: it can be probed by the
// health endpoint and must be closed on shutdown.
type Store interface {
	fulfillment.ClaimStore
	Ping(ctx context.Context) error
	Close() error
}

// NewClaimStore returns a Redis store when Redis is configured and an
// in-memory one otherwise. A configured but unreachable Redis is an error,
// since falling back would let two instances dispatch the same order.
func NewClaimStore(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (Store, error) {
	if !cfg.Enabled() {
		log.Warn("Redis not configured, dispatch claims are process local; run a single instance")
		return NewMemoryClaims(), nil
	}

	store, err := DialRedisClaims(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("dispatch claim store: %w", err)
	}
	log.Info("Dispatch claims stored in Redis", zap.String("addr", cfg.Addr()), zap.Int("db", cfg.DB))
	return store, nil
}
