// Package logging defines the leveled message sink the processing engines
// report through, and a zap-backed implementation of it.
package logging

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the severity of a message.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

// String returns the lower-case level name.
func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Sink receives leveled text messages. Implementations must be safe
// for concurrent use; engine workers log from their own goroutines.
type Sink interface {
	Log(level Level, msg string)
}

// Logf formats a message and sends it to s.
func Logf(s Sink, level Level, format string, args ...interface{}) {
	if s == nil {
		return
	}
	s.Log(level, fmt.Sprintf(format, args...))
}

type nopSink struct{}

func (nopSink) Log(Level, string) {}

// Nop returns a sink that discards everything.
func Nop() Sink { return nopSink{} }

// ZapSink forwards messages to a zap logger.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink wraps logger. A nil logger behaves like Nop.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger}
}

// Log implements Sink.
func (z *ZapSink) Log(level Level, msg string) {
	switch level {
	case Debug:
		z.logger.Debug(msg)
	case Info:
		z.logger.Info(msg)
	case Warn:
		z.logger.Warn(msg)
	default:
		z.logger.Error(msg)
	}
}

// Logger returns the underlying zap logger.
func (z *ZapSink) Logger() *zap.Logger { return z.logger }

// NewLogger builds the production logger used by the command line tool.
// Every entry carries the job name and a per-process run id so logs of
// parallel chunk workers can be told apart.
func NewLogger(verbose bool, jobName string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.With(
		zap.String("job", jobName),
		zap.String("run", uuid.NewString()),
	), nil
}
