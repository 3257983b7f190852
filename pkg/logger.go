package pkg

import "go.uber.org/zap"

// Logger is the subset of *zap.Logger the services depend on.
type Logger interface {
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Sync() error
}
