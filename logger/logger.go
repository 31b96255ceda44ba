// Package logger wraps zap behind a small key/value interface so library
// packages never depend on a concrete logging backend.
package logger

import (
	"go.uber.org/zap"
)

// Logger defines the interface for logging. Fields are alternating
// key/value pairs.
type Logger interface {
	Info(msg string, fields ...any)
	Error(msg string, fields ...any)
	Debug(msg string, fields ...any)
	Warn(msg string, fields ...any)
}

type zapLogger struct {
	logger *zap.SugaredLogger
}

// New builds a production logger for mode "release", a no-op logger for
// "nop" and a development logger otherwise.
func New(mode string) (Logger, error) {
	var (
		l   *zap.Logger
		err error
	)
	switch mode {
	case "nop":
		return NewNop(), nil
	case "release":
		l, err = zap.NewProduction()
	default:
		l, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, err
	}
	return &zapLogger{logger: l.Sugar()}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return &zapLogger{logger: zap.NewNop().Sugar()}
}

// FromZap adapts an existing zap logger.
func FromZap(l *zap.Logger) Logger {
	if l == nil {
		return NewNop()
	}
	return &zapLogger{logger: l.Sugar()}
}

func (l *zapLogger) Info(msg string, fields ...any) {
	l.logger.Infow(msg, fields...)
}

func (l *zapLogger) Error(msg string, fields ...any) {
	l.logger.Errorw(msg, fields...)
}

func (l *zapLogger) Debug(msg string, fields ...any) {
	l.logger.Debugw(msg, fields...)
}

func (l *zapLogger) Warn(msg string, fields ...any) {
	l.logger.Warnw(msg, fields...)
}
