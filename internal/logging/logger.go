package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger 创建 Logger 实例
// level: "debug", "info", "warn", "error" (默认: "info")
// format: "json" 或 "console" (默认: "json")
// serviceName: 服务名称（多租户日志管理用，如 "multilang-bots"）
func NewLogger(level string, format string, serviceName string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		atomicLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	var config zap.Config
	if format == "console" {
		// 开发模式配置（控制台输出）
		config = zap.NewDevelopmentConfig()
	} else {
		// 生产模式配置（JSON 输出到标准输出，便于 Docker 与日志收集器捕获）
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}
	}
	config.Level = atomicLevel

	// 服务标识直接进 InitialFields，每条日志都带上
	config.InitialFields = map[string]any{}
	if serviceName != "" {
		config.InitialFields["service_name"] = serviceName
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		config.InitialFields["hostname"] = hostname
	}

	return config.Build()
}
