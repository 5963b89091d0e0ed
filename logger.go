package batchline

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumenlabs/batchline/schemas"
)

// DefaultLogger implements schemas.Logger on top of zerolog, writing
// diagnostics to stdout and errors to stderr. It is used when no logger is
// provided in the orchestrator config.
type DefaultLogger struct {
	stderrLogger zerolog.Logger
	stdoutLogger zerolog.Logger
}

type LoggerOutputType string

const (
	LoggerOutputTypeJSON   LoggerOutputType = "json"
	LoggerOutputTypePretty LoggerOutputType = "pretty"
)

func toZerologLevel(l schemas.LogLevel) zerolog.Level {
	switch l {
	case schemas.LogLevelDebug:
		return zerolog.DebugLevel
	case schemas.LogLevelInfo:
		return zerolog.InfoLevel
	case schemas.LogLevelWarn:
		return zerolog.WarnLevel
	case schemas.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewDefaultLogger creates a DefaultLogger emitting JSON records at the
// given level and above.
func NewDefaultLogger(level schemas.LogLevel) *DefaultLogger {
	zerolog.SetGlobalLevel(toZerologLevel(level))
	zerolog.TimeFieldFormat = time.RFC3339
	return &DefaultLogger{
		stderrLogger: zerolog.New(os.Stderr).With().Timestamp().Logger(),
		stdoutLogger: zerolog.New(os.Stdout).With().Timestamp().Logger(),
	}
}

func (logger *DefaultLogger) Debug(msg string) {
	logger.stdoutLogger.Debug().Msg(msg)
}

func (logger *DefaultLogger) Info(msg string) {
	logger.stdoutLogger.Info().Msg(msg)
}

func (logger *DefaultLogger) Warn(msg string) {
	logger.stdoutLogger.Warn().Msg(msg)
}

// Error logs to stderr. Errors are emitted regardless of the configured
// level.
func (logger *DefaultLogger) Error(err error) {
	if err == nil {
		logger.stderrLogger.Error().Msg("nil error")
		return
	}
	logger.stderrLogger.Error().Msg(err.Error())
}

// SetLevel changes the minimum severity that will be emitted.
func (logger *DefaultLogger) SetLevel(level schemas.LogLevel) {
	zerolog.SetGlobalLevel(toZerologLevel(level))
}

// SetOutputType switches between machine-readable JSON and human-readable
// console output. Unknown values fall back to JSON.
func (logger *DefaultLogger) SetOutputType(outputType LoggerOutputType) {
	switch outputType {
	case LoggerOutputTypePretty:
		logger.stdoutLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
		logger.stderrLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	default:
		logger.stdoutLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		logger.stderrLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
