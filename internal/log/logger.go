// Package log builds the slog loggers used across the module.
package log

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

// Format represents the log output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// LevelTrace is below Debug, used for wire level events of verbose
// handlers.
const LevelTrace = slog.Level(-8)

// Field keys shared by all packages.
const (
	HandlerKey   = "handler"
	RequestIDKey = "request_id"
	DurationKey  = "duration_ms"
)

// Config holds the logging configuration.
type Config struct {
	// Level is one of trace, debug, info, warn, error. Default: info
	Level string
	// Format is json or text. Default: json
	Format Format
	// Output defaults to os.Stderr.
	Output    io.Writer
	AddSource bool
}

func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: FormatJSON,
		Output: os.Stderr,
	}
}

// FromEnv creates a Config from environment variables:
//   - NETWORKING_DEBUG: true/1 enables debug level and source logging (takes precedence)
//   - NETWORKING_LOG_LEVEL: trace, debug, info, warn, error
//   - LOG_FORMAT: json, text
func FromEnv() *Config {
	cfg := DefaultConfig()

	debug := os.Getenv("NETWORKING_DEBUG")
	if debug == "true" || debug == "1" {
		cfg.Level = "debug"
		cfg.AddSource = true
	} else if level := os.Getenv("NETWORKING_LOG_LEVEL"); level != "" {
		cfg.Level = strings.ToLower(level)
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}
	return cfg
}

// New creates a new structured logger from the given configuration.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel converts a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With(RequestIDKey, requestID)
}

func WithHandler(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(HandlerKey, name)
}

// Trace logs msg at trace level.
func Trace(ctx context.Context, logger *slog.Logger, msg string, attrs ...slog.Attr) {
	if !logger.Enabled(ctx, LevelTrace) {
		return
	}
	logger.LogAttrs(ctx, LevelTrace, msg, attrs...)
}

func String(key, value string) slog.Attr { return slog.String(key, value) }
func Int(key string, value int) slog.Attr { return slog.Int(key, value) }
func Bool(key string, value bool) slog.Attr { return slog.Bool(key, value) }

// Error creates an error attribute, nil errors included.
func Error(err error) slog.Attr { return slog.Any("error", err) }

var sensitiveParams = []string{
	"api_key", "apikey", "key", "token", "access_token", "secret", "password", "signature", "sig",
}

// SanitizeURL removes credentials and masks well known secret query
// parameters so that u can be logged.
func SanitizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	safe := *u
	if safe.User != nil {
		safe.User = url.User("[REDACTED]")
	}
	if safe.RawQuery != "" {
		q := safe.Query()
		changed := false
		for param := range q {
			if isSensitiveParam(param) {
				q.Set(param, "[REDACTED]")
				changed = true
			}
		}
		if changed {
			safe.RawQuery = q.Encode()
		}
	}
	return safe.String()
}

func isSensitiveParam(param string) bool {
	lower := strings.ToLower(param)
	for _, s := range sensitiveParams {
		if lower == s {
			return true
		}
	}
	return false
}
