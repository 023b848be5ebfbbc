// Package logger builds the zap.Logger the shield pipeline logs through.
// Unlike the teacher's package-level Logger/Sugar singleton (built for a
// multi-package HTTP server where every handler reaches for the same
// global), this package hands back an explicit *zap.Logger instance for
// Shield to hold as a field and thread through its own pipeline — matching
// shield.go's own "explicit metadata, not global state" design.
package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/amerfu/llmshield/internal/config"
)

var levelByName = map[string]zapcore.Level{
	"debug":   zap.DebugLevel,
	"info":    zap.InfoLevel,
	"warn":    zap.WarnLevel,
	"warning": zap.WarnLevel,
	"error":   zap.ErrorLevel,
	"fatal":   zap.FatalLevel,
}

func levelFor(name string) zapcore.Level {
	if lvl, ok := levelByName[strings.ToLower(name)]; ok {
		return lvl
	}
	return zap.InfoLevel
}

// Initialize builds a *zap.Logger from cfg: JSON encoding in production
// format when cfg.Format is "json", a colorized development encoder
// otherwise, writing to cfg.OutputPath ("stdout"/"stderr"/a file path).
func Initialize(cfg config.LoggingConfig) (*zap.Logger, error) {
	zapConfig := developmentConfig()
	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(levelFor(cfg.Level))

	switch cfg.OutputPath {
	case "", "stdout":
		// zap's default configs write to stderr, so stdout is set explicitly.
		zapConfig.OutputPaths = []string{"stdout"}
	case "stderr":
		zapConfig.OutputPaths = []string{"stderr"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	default:
		zapConfig.OutputPaths = []string{cfg.OutputPath}
		zapConfig.ErrorOutputPaths = []string{cfg.OutputPath}
	}

	return zapConfig.Build(zap.AddCallerSkip(1))
}

func developmentConfig() zap.Config {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg
}

var (
	defaultOnce   sync.Once
	defaultLogger *zap.Logger
)

// Default returns a lazily-built fallback logger (production defaults, info
// level) for use when Initialize fails or a caller has no config.Config
// handy yet. Built once per process via sync.Once rather than a mutable
// package var, so concurrent callers never race each other's assignment.
func Default() *zap.Logger {
	defaultOnce.Do(func() {
		l, err := zap.NewProduction()
		if err != nil {
			l = zap.NewNop()
		}
		defaultLogger = l
	})
	return defaultLogger
}

// RequestFields builds the zap fields for one pipeline request's log lines:
// requestID is always present; userID and model are included only when the
// caller has them (a request may be blocked before a user id resolves, or
// before a model is known), so log lines never carry misleading empty
// strings for fields that were never populated.
func RequestFields(requestID, userID, model string) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	fields = append(fields, zap.String("requestId", requestID))
	if userID != "" {
		fields = append(fields, zap.String("userId", userID))
	}
	if model != "" {
		fields = append(fields, zap.String("model", model))
	}
	return fields
}
