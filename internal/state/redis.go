package state

import (
	"context"

	"multilang-bots/internal/config"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient 创建Redis客户端
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping 测试Redis连接
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}
