package logger

import (
	"strings"

	"github.com/smallbiznis/cashflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the root zap logger from config. Services derive named
// loggers from it.
func New(cfg config.Config) (*zap.Logger, error) {
	level := parseLevel(cfg.Log.Level)

	if strings.EqualFold(cfg.Log.Output, "file") && cfg.Log.File != "" {
		return newFileLogger(cfg.Log.File, level), nil
	}

	zcfg := zap.NewProductionConfig()
	if !cfg.IsProduction() {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func newFileLogger(path string, level zapcore.Level) *zap.Logger {
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(sink),
		level,
	)
	return zap.New(core, zap.AddCaller())
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

var Module = fx.Module("logger",
	fx.Provide(New),
)
