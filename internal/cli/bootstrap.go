package cli

import (
	"context"
	"database/sql"
	"fmt"

	"multilang-bots/internal/config"
	"multilang-bots/internal/logging"
	"multilang-bots/internal/repository"
	"multilang-bots/internal/state"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// deps 命令运行所需的共享依赖
type deps struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *sql.DB
	redisDB *redis.Client

	tenants repository.TenantsRepo
	orders  repository.OrdersRepo
}

// bootstrap 加载配置并初始化日志
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format, "multilang-bots")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}

	return cfg, logger, nil
}

// connect 建立数据库与 Redis 连接并构造仓储
func connect(cfg *config.Config, logger *zap.Logger) (*deps, error) {
	db, err := repository.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisDB := state.NewRedisClient(&cfg.Redis)
	if err := state.Ping(context.Background(), redisDB); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &deps{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		redisDB: redisDB,
		tenants: repository.NewPostgresTenantsRepo(db, logger),
		orders:  repository.NewPostgresOrdersRepo(db, logger),
	}, nil
}

// close 释放所有连接
func (d *deps) close() {
	if d.redisDB != nil {
		d.redisDB.Close()
	}
	if d.db != nil {
		d.db.Close()
	}
}
