// Package obslog is the core's structured logging surface. It keeps the
// teacher's small, component-tagged Logger API (kernel/utils/logger.go:
// DefaultLogger(component), With(fields...), leveled Debug/Info/Warn/Error)
// but backs it with go.uber.org/zap instead of a hand-rolled ANSI writer,
// following the ecosystem logging choice demonstrated elsewhere in the pack
// (IAmSoThirsty-Project-AI/octoreflex/cmd/octoreflex/main.go).
package obslog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a component-tagged structured logger. A nil *Logger is a valid
// no-op sink, matching the teacher's DefaultLogger nil-guard idiom used
// throughout kernel/threads/supervisor.go.
type Logger struct {
	z *zap.SugaredLogger
}

// Field is a structured key/value pair attached to a log line.
type Field struct {
	Key   string
	Value any
}

func F(key string, value any) Field { return Field{Key: key, Value: value} }

// New builds a Logger around a caller-supplied zap core, for tests that
// want to assert on emitted entries.
func New(core zapcore.Core, component string) *Logger {
	z := zap.New(core).Sugar().With("component", component)
	return &Logger{z: z}
}

// DefaultLogger returns a production JSON logger tagged with component,
// mirroring kernel/utils.DefaultLogger's ergonomics.
func DefaultLogger(component string) *Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	z, err := cfg.Build()
	if err != nil {
		// Fall back to a basic logger rather than panic; logging must never
		// prevent the core from starting.
		z = zap.NewNop()
	}
	return &Logger{z: z.Sugar().With("component", component)}
}

// NoOp returns a Logger that discards everything, used by tests and as the
// safe default when no logger is supplied.
func NoOp() *Logger {
	return &Logger{z: zap.NewNop().Sugar()}
}

func fieldArgs(fields []Field) []any {
	args := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		args = append(args, f.Key, f.Value)
	}
	return args
}

// With returns a child logger carrying the given fields on every subsequent
// line.
func (l *Logger) With(fields ...Field) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{z: l.z.With(fieldArgs(fields)...)}
}

func (l *Logger) Debug(msg string, fields ...Field) {
	if l == nil {
		return
	}
	l.z.Debugw(msg, fieldArgs(fields)...)
}

func (l *Logger) Info(msg string, fields ...Field) {
	if l == nil {
		return
	}
	l.z.Infow(msg, fieldArgs(fields)...)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	if l == nil {
		return
	}
	l.z.Warnw(msg, fieldArgs(fields)...)
}

func (l *Logger) Error(msg string, fields ...Field) {
	if l == nil {
		return
	}
	l.z.Errorw(msg, fieldArgs(fields)...)
}

// Sync flushes buffered log entries; call during graceful shutdown.
func (l *Logger) Sync() {
	if l == nil {
		return
	}
	_ = l.z.Sync()
}
