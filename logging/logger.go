package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// LogLevel represents different logging levels.
// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger defines the minimal logging interface for the coordination layer.
// This allows users to provide their own logger implementation or use the
// built-in adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// The interfaces below are optional structured upgrades. Components hold the
// minimal Logger; at call sites they upgrade to these when the configured
// logger supports the richer form, the way io.Copy upgrades to io.WriterTo.

// DeliveryLogger records bus delivery attempts with structured fields.
type DeliveryLogger interface {
	LogDelivery(channel, envelopeID string, subscriber int, err error)
}

// NegotiationRoundLogger records negotiation round outcomes with structured
// fields.
type NegotiationRoundLogger interface {
	LogNegotiationRound(negotiationID string, round int, action, status string)
}

// DecisionLogger records emitted decisions with structured fields.
type DecisionLogger interface {
	LogDecision(decisionID, decisionType, authority string, cost float64)
}

// AdvisorCallLogger records advisor latency and success per task.
type AdvisorCallLogger interface {
	LogAdvisorCall(task string, dur time.Duration, err error)
}

var (
	_ DeliveryLogger         = (*CoordLogger)(nil)
	_ NegotiationRoundLogger = (*CoordLogger)(nil)
	_ DecisionLogger         = (*CoordLogger)(nil)
	_ AdvisorCallLogger      = (*CoordLogger)(nil)
)

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// CoordLogger wraps slog.Logger adding contextual cloning helpers and domain
// convenience methods. It should be cheap to copy via With* methods.
type CoordLogger struct {
	logger    *slog.Logger
	level     LogLevel
	context   map[string]interface{}
	component string
	agent     string
}

// LoggerConfig configures construction of a CoordLogger.
type LoggerConfig struct {
	Level       LogLevel
	Format      string // json or text
	Output      io.Writer
	AddSource   bool
	Component   string
	Agent       string
	CustomAttrs map[string]interface{}
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout, AddSource: true, CustomAttrs: map[string]interface{}{}}
}

// NewLogger builds a CoordLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *CoordLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return &CoordLogger{logger: slog.New(handler), level: cfg.Level, context: map[string]interface{}{}, component: cfg.Component, agent: cfg.Agent}
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *CoordLogger) clone() *CoordLogger {
	nl := *l
	nl.context = map[string]interface{}{}
	for k, v := range l.context {
		nl.context[k] = v
	}
	return &nl
}

// WithContext adds a key/value attribute that will be attached to every log entry.
func (l *CoordLogger) WithContext(key string, value interface{}) *CoordLogger {
	nl := l.clone()
	nl.context[key] = value
	return nl
}

// WithComponent sets the logical component (bus, knowledge, negotiation, ...).
func (l *CoordLogger) WithComponent(c string) *CoordLogger {
	nl := l.clone()
	nl.component = c
	return nl
}

// WithAgent attaches the owning agent name.
func (l *CoordLogger) WithAgent(agent string) *CoordLogger {
	nl := l.clone()
	nl.agent = agent
	return nl
}

func (l *CoordLogger) buildAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(l.context)+3)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	if l.agent != "" {
		attrs = append(attrs, slog.String("agent", l.agent))
	}
	attrs = append(attrs, slog.Time("timestamp", time.Now()))
	for k, v := range l.context {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

func (l *CoordLogger) log(level slog.Level, allowed bool, msg string, args ...interface{}) {
	if !allowed {
		return
	}
	attrs := l.buildAttrs()
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// Debug logs at debug level.
func (l *CoordLogger) Debug(msg string, args ...interface{}) {
	l.log(slog.LevelDebug, l.level <= LogLevelDebug, msg, args...)
}

// Info logs at info level.
func (l *CoordLogger) Info(msg string, args ...interface{}) {
	l.log(slog.LevelInfo, l.level <= LogLevelInfo, msg, args...)
}

// Warn logs at warn level.
func (l *CoordLogger) Warn(msg string, args ...interface{}) {
	l.log(slog.LevelWarn, l.level <= LogLevelWarn, msg, args...)
}

// Error logs at error level.
func (l *CoordLogger) Error(msg string, args ...interface{}) {
	l.log(slog.LevelError, l.level <= LogLevelError, msg, args...)
}

// ErrorWithStack logs an error plus a runtime stack snapshot.
func (l *CoordLogger) ErrorWithStack(err error, msg string, args ...interface{}) {
	if l.level > LogLevelError {
		return
	}
	attrs := l.buildAttrs()
	attrs = append(attrs, slog.String("error", err.Error()), slog.String("error_type", fmt.Sprintf("%T", err)))
	stack := make([]byte, 4096)
	n := runtime.Stack(stack, false)
	attrs = append(attrs, slog.String("stack_trace", string(stack[:n])))
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.logger.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

// LogDelivery records a bus delivery attempt for one subscriber.
func (l *CoordLogger) LogDelivery(channel, envelopeID string, subscriber int, err error) {
	attrs := l.buildAttrs()
	attrs = append(attrs, slog.String("channel", channel), slog.String("envelope_id", envelopeID), slog.Int("subscriber", subscriber))
	level := slog.LevelDebug
	msg := "Envelope delivered"
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		level = slog.LevelWarn
		msg = "Subscriber handler failed"
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// LogNegotiationRound records the outcome of one negotiation round.
func (l *CoordLogger) LogNegotiationRound(negotiationID string, round int, action string, status string) {
	attrs := l.buildAttrs()
	attrs = append(attrs, slog.String("negotiation_id", negotiationID), slog.Int("round", round), slog.String("action", action), slog.String("status", status))
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, "Negotiation round processed", attrs...)
}

// LogDecision records an emitted decision with its authority classification.
func (l *CoordLogger) LogDecision(decisionID, decisionType, authority string, cost float64) {
	attrs := l.buildAttrs()
	attrs = append(attrs, slog.String("decision_id", decisionID), slog.String("decision_type", decisionType), slog.String("authority_level", authority), slog.Float64("estimated_cost", cost))
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, "Decision emitted", attrs...)
}

// LogAdvisorCall records advisor latency and success for one task.
func (l *CoordLogger) LogAdvisorCall(task string, dur time.Duration, err error) {
	attrs := l.buildAttrs()
	attrs = append(attrs, slog.String("task", task), slog.Duration("duration", dur), slog.Bool("success", err == nil))
	level := slog.LevelInfo
	msg := "Advisor call completed"
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		level = slog.LevelWarn
		msg = "Advisor call failed"
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// StartTimer returns a closure that logs the elapsed duration when invoked.
func (l *CoordLogger) StartTimer(op string) func() {
	start := time.Now()
	return func() { l.Info("Operation completed", "operation", op, "duration", time.Since(start)) }
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// NewSlogLogger creates a new CoordLogger with the specified configuration.
func NewSlogLogger(level LogLevel, format string, addSource bool) *CoordLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource
	return NewLogger(cfg)
}
