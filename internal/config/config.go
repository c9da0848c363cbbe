package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config 机器人平台服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig

	// 消息平台 API 配置
	Platform struct {
		APIBase     string        // Bot API 基础地址，如 "https://api.telegram.org"
		Timeout     time.Duration // 单次请求超时
		PollTimeout int           // 长轮询超时（秒）
	}

	// 机器人运行时配置
	Bot struct {
		LockDir      string        // PID 锁文件目录
		RetryBackoff time.Duration // 轮询异常后的重试间隔
		StopGrace    time.Duration // 优雅停止等待时间
		SendRetries  int           // 通知发送重试次数
	}

	// 会话状态存储配置
	State struct {
		KeyPrefix string        // 状态键前缀，如 "bot:state:"
		TTL       time.Duration // 状态过期时间，默认 24 小时
	}

	// Webhook 服务配置
	Webhook struct {
		Addr string // HTTP 监听地址
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 数据库（默认值来自环境变量）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "multilang")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Platform.APIBase = getEnv("PLATFORM_API_BASE", "https://api.telegram.org")
	cfg.Platform.Timeout = 35 * time.Second
	cfg.Platform.PollTimeout = getEnvInt("BOT_POLL_TIMEOUT", 25)

	cfg.Bot.LockDir = getEnv("BOT_LOCK_DIR", "/tmp/multilang_bots")
	cfg.Bot.RetryBackoff = time.Duration(getEnvInt("BOT_RETRY_BACKOFF", 5)) * time.Second
	cfg.Bot.StopGrace = 5 * time.Second
	cfg.Bot.SendRetries = 3

	cfg.State.KeyPrefix = getEnv("STATE_KEY_PREFIX", "bot:state:")
	cfg.State.TTL = time.Duration(getEnvInt("STATE_TTL_HOURS", 24)) * time.Hour

	cfg.Webhook.Addr = getEnv("WEBHOOK_ADDR", ":8090")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
