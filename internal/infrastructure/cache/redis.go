package cache

import (
	"context"
	"fmt"
	"time"

	"earnsystem/internal/config"
	"earnsystem/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// NewRedis connects and pings. The client backs the distributed locks.
func NewRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr(), err)
	}

	logger.Info("redis connected", zap.String("addr", cfg.Addr()))
	return client, nil
}
