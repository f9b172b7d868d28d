package modhost

import (
	"log/slog"

	"go.uber.org/zap"

	"github.com/GoCodeAlone/modhost/internal/logging"
)

// Logger defines the interface for framework logging.
// The framework and every subsystem log through it with key/value pairs:
//
//	logger.Info("Module started", "module", 3, "name", "com.acme.greeter")
//
// The interface matches the method set of slog.Logger, so a *slog.Logger
// can be passed directly.
type Logger interface {
	// Info logs normal events such as installs, starts and stops.
	Info(msg string, args ...any)

	// Error logs failures that leave the framework running, such as an
	// activator failing to start.
	Error(msg string, args ...any)

	// Warn logs unusual conditions, such as an observer returning an error.
	Warn(msg string, args ...any)

	// Debug logs diagnostic detail, such as individual wires.
	Debug(msg string, args ...any)
}

var _ logging.Logger = Logger(nil)

// NewSlogLogger adapts a slog.Logger. A nil logger uses slog.Default().
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return l
}

// ZapLogger adapts a zap.Logger through its sugared key/value API.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps l. A nil logger discards everything.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{sugar: l.Sugar()}
}

func (z *ZapLogger) Info(msg string, args ...any)  { z.sugar.Infow(msg, args...) }
func (z *ZapLogger) Error(msg string, args ...any) { z.sugar.Errorw(msg, args...) }
func (z *ZapLogger) Warn(msg string, args ...any)  { z.sugar.Warnw(msg, args...) }
func (z *ZapLogger) Debug(msg string, args ...any) { z.sugar.Debugw(msg, args...) }

// Sync flushes buffered log entries.
func (z *ZapLogger) Sync() error { return z.sugar.Sync() }
