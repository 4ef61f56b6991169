package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a sugared zap logger whose key/value pairs pass through a redactor
// before they are encoded.
type Logger struct {
	sugar  *zap.SugaredLogger
	redact *redactor
}

// New builds a zap-backed logger. mode selects the encoder preset ("prod" or
// "dev"). LOG_LEVEL overrides the debug default; LOG_REDACTION_ENABLED and
// LOG_HASH_SALT configure redaction.
func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(os.Getenv("LOG_LEVEL")))
	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{sugar: zl.Sugar(), redact: redactorFromEnv()}, nil
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

func parseLevel(raw string) zapcore.Level {
	lvl := zapcore.DebugLevel
	if raw = strings.TrimSpace(raw); raw != "" {
		_ = lvl.Set(strings.ToLower(raw))
	}
	return lvl
}

func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.sugar.Debugw(msg, l.redact.apply(kv)...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.sugar.Infow(msg, l.redact.apply(kv)...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.sugar.Warnw(msg, l.redact.apply(kv)...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.sugar.Errorw(msg, l.redact.apply(kv)...) }

func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(l.redact.apply(kv)...), redact: l.redact}
}
