// Package cache provides the optional redis layer: a read-through snapshot
// cache and the backing client for rate limiting. Everything here degrades
// gracefully; a nil client simply disables caching.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const pingTimeout = 2 * time.Second

// ClientConfig describes the redis connection.
type ClientConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to redis and verifies the connection with a short ping.
// It returns nil when no address is configured or the server is unreachable;
// callers must treat a nil client as "caching disabled".
func NewClient(cfg ClientConfig, logger *zap.Logger) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		if logger != nil {
			logger.Warn("redis unreachable, caching disabled", zap.String("addr", cfg.Addr), zap.Error(err))
		}
		_ = client.Close()
		return nil
	}
	return client
}
