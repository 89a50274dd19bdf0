package coach

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// CoachLogger wraps zerolog for structured logging
type CoachLogger struct {
	logger zerolog.Logger
}

// LogLevel represents the logging level
type LogLevel int

const (
	TraceLevel LogLevel = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
	PanicLevel
)

// ParseLogLevel maps the CHESSCOACH_DEBUG_LEVEL spelling to a LogLevel.
// Unknown values fall back to InfoLevel.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "TRACE":
		return TraceLevel
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// LogConfig represents the configuration for logging
type LogConfig struct {
	Level     LogLevel
	Pretty    bool
	Output    io.Writer
	AddSource bool
	Fields    map[string]interface{}
}

// DefaultLogConfig returns a default logging configuration.
// Logs go to stderr so command output on stdout stays clean.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:     InfoLevel,
		Pretty:    true,
		Output:    os.Stderr,
		AddSource: false,
		Fields:    make(map[string]interface{}),
	}
}

// NewCoachLogger creates a new structured logger
func NewCoachLogger(config *LogConfig) *CoachLogger {
	if config == nil {
		config = DefaultLogConfig()
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var logger zerolog.Logger
	if config.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        config.Output,
			TimeFormat: time.Kitchen,
		})
	} else {
		logger = zerolog.New(config.Output)
	}

	switch config.Level {
	case TraceLevel:
		logger = logger.Level(zerolog.TraceLevel)
	case DebugLevel:
		logger = logger.Level(zerolog.DebugLevel)
	case InfoLevel:
		logger = logger.Level(zerolog.InfoLevel)
	case WarnLevel:
		logger = logger.Level(zerolog.WarnLevel)
	case ErrorLevel:
		logger = logger.Level(zerolog.ErrorLevel)
	case FatalLevel:
		logger = logger.Level(zerolog.FatalLevel)
	case PanicLevel:
		logger = logger.Level(zerolog.PanicLevel)
	}

	logger = logger.With().Timestamp().Logger()

	if config.AddSource {
		logger = logger.With().Caller().Logger()
	}

	if len(config.Fields) > 0 {
		logger = logger.With().Fields(config.Fields).Logger()
	}

	return &CoachLogger{
		logger: logger,
	}
}

// NewNopLogger returns a logger that discards everything. Handy in tests.
func NewNopLogger() *CoachLogger {
	return &CoachLogger{logger: zerolog.Nop()}
}

// WithComponent adds a component field to the logger
func (l *CoachLogger) WithComponent(component string) *CoachLogger {
	return &CoachLogger{
		logger: l.logger.With().Str("component", component).Logger(),
	}
}

// WithField adds a field to the logger
func (l *CoachLogger) WithField(key string, value interface{}) *CoachLogger {
	return &CoachLogger{
		logger: l.logger.With().Interface(key, value).Logger(),
	}
}

// WithFields adds multiple fields to the logger
func (l *CoachLogger) WithFields(fields map[string]interface{}) *CoachLogger {
	return &CoachLogger{
		logger: l.logger.With().Fields(fields).Logger(),
	}
}

// WithError adds an error field to the logger
func (l *CoachLogger) WithError(err error) *CoachLogger {
	return &CoachLogger{
		logger: l.logger.With().Err(err).Logger(),
	}
}

// Tracef logs a formatted trace level message
func (l *CoachLogger) Tracef(format string, args ...interface{}) {
	l.logger.Trace().Msgf(format, args...)
}

// Debug logs a debug level message
func (l *CoachLogger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Debugf logs a formatted debug level message
func (l *CoachLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

// Info logs an info level message
func (l *CoachLogger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Infof logs a formatted info level message
func (l *CoachLogger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

// Warn logs a warning level message
func (l *CoachLogger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Warnf logs a formatted warning level message
func (l *CoachLogger) Warnf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

// Error logs an error level message
func (l *CoachLogger) Error(msg string) {
	l.logger.Error().Msg(msg)
}


// LogAudioEvent logs audio-related events with structured fields
func (l *CoachLogger) LogAudioEvent(event string, fields map[string]interface{}) {
	l.logger.Debug().
		Str("event_type", "audio").
		Str("event", event).
		Fields(fields).
		Msg("Audio event")
}

// LogSessionEvent logs realtime session lifecycle events
func (l *CoachLogger) LogSessionEvent(event string, state SessionState, fields map[string]interface{}) {
	l.logger.Info().
		Str("event_type", "session").
		Str("event", event).
		Str("state", state.String()).
		Fields(fields).
		Msg("Session event")
}

// LogError logs a CoachError with structured fields
func (l *CoachLogger) LogError(err *CoachError) {
	if err == nil {
		return
	}
	event := l.logger.Error().
		Str("error_code", err.Code).
		Time("error_time", err.Timestamp).
		Fields(err.Details)

	if cause := err.Unwrap(); cause != nil {
		event = event.AnErr("cause", cause)
	}

	event.Msg(err.Message)
}

// Global logger instance
var globalLogger *CoachLogger

func init() {
	globalLogger = NewCoachLogger(DefaultLogConfig())
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *CoachLogger {
	return globalLogger
}

// SetGlobalLogger sets the global logger instance
func SetGlobalLogger(logger *CoachLogger) {
	globalLogger = logger
}

// ConfigureGlobalLogger rebuilds the global logger for the level in config.
func ConfigureGlobalLogger(config *CoachConfig) {
	logConfig := DefaultLogConfig()
	logConfig.Level = ParseLogLevel(config.DebugLevel)
	SetGlobalLogger(NewCoachLogger(logConfig))
}
