// Package logger wraps log/slog with redaction of credentials and patient
// identifiers, context propagation and optional sampling.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level  string
	Format string // json or text
	Output io.Writer

	Sampling SamplingConfig
}

// New creates a Logger.
func New(cfg Config) *Logger {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level == slog.LevelDebug,
		ReplaceAttr: redact,
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}
	return &Logger{Logger: slog.New(NewSamplingHandler(h, cfg.Sampling))}
}

// redactedKeys are masked on exact match or as a substring of the attribute key.
var redactedKeys = []string{
	// credentials
	"password", "passwd", "secret", "token", "authorization", "bearer",
	"api_key", "apikey", "private_key", "cookie", "session_id", "jwt",
	"dsn", "database_url", "redis_url", "access_key", "signing_key",
	// patient and staff identifiers
	"mrn", "ssn", "dob", "birth", "email", "phone", "address", "insurance_number",
	"patient_name", "national_id",
}

const redacted = "[REDACTED]"

func redact(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, k := range redactedKeys {
		if strings.Contains(key, k) {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}

// NewDefault creates a JSON logger at info level.
func NewDefault() *Logger {
	return New(Config{Level: "info", Format: "json"})
}

// NewDevelopment creates a text logger at debug level.
func NewDevelopment() *Logger {
	return New(Config{Level: "debug", Format: "text"})
}

// NewProduction creates a JSON logger with sampling enabled. Audit lines are
// never sampled.
func NewProduction() *Logger {
	s := DefaultSamplingConfig()
	s.Enabled = true
	s.NeverSamplePrefixes = []string{"audit:", "authz denied"}
	return New(Config{Level: "info", Format: "json", Sampling: s})
}

// NewNop discards everything.
func NewNop() *Logger {
	return New(Config{Level: "error", Output: io.Discard})
}

// With returns a Logger with extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// ContextKey is the type of the context keys the logger reads.
type ContextKey string

const (
	ContextKeyRequestID ContextKey = "request_id"
	ContextKeyUserID    ContextKey = "user_id"
	ContextKeyOrgID     ContextKey = "org_id"
)

// WithContext adds request, user and org ids found in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	lg := l.Logger
	for _, k := range []ContextKey{ContextKeyRequestID, ContextKeyUserID, ContextKeyOrgID} {
		if v, ok := ctx.Value(k).(string); ok && v != "" {
			lg = lg.With(slog.String(string(k), v))
		}
	}
	return &Logger{Logger: lg}
}

// WithError adds an error attribute.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Logger: l.Logger.With(slog.Any("error", err))}
}

// WithField adds one attribute.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{Logger: l.Logger.With(slog.Any(key, value))}
}

// SetDefault installs l as the slog default.
func (l *Logger) SetDefault() {
	slog.SetDefault(l.Logger)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type contextKey string

const loggerKey contextKey = "logger"

// ToContext stores the logger in ctx.
func ToContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger stored in ctx, or a default one.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return NewDefault()
}
