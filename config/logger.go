package config

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger 按配置构造 zap logger
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	enc := zap.NewProductionEncoderConfig()
	if cfg.Format == "console" {
		enc = zap.NewDevelopmentEncoderConfig()
	}
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(cfg.Level),
		Encoding:         cfg.Format,
		EncoderConfig:    enc,
		OutputPaths:      []string{cfg.Output},
		ErrorOutputPaths: []string{"stderr"},
	}
	return zc.Build()
}
