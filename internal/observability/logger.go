// Package observability builds the process-wide structured logger:
// slog with JSON or text output, a runtime-adjustable level, a Trace
// level below Debug for per-sample media logging, and redaction of
// credentials in both field values and URL query strings.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/m-mizutani/masq"
	"github.com/oklog/ulid/v2"

	"github.com/streamcore/corestream/internal/config"
)

// LevelTrace sits below slog.LevelDebug and carries extremely
// high-volume events: per-packet PCR extraction, per-sample keyframe
// classification, per-chunk decrypt progress. It is off unless the
// operator asks for "trace" explicitly.
const LevelTrace = slog.LevelDebug - 4

// GlobalLogLevel is the level every logger built by this package follows.
// It can be changed at runtime via SetLogLevel.
var GlobalLogLevel = &slog.LevelVar{}

// urlCredentialPattern matches credential-bearing query parameters so a
// logged manifest or key URI never leaks its token.
var urlCredentialPattern = regexp.MustCompile(`(?i)(password|secret|token|apikey|api_key|credential)=([^&\s"']+)`)

// NewLogger builds the logger described by cfg, writing to stdout.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter is NewLogger with an explicit destination, used by
// tests to capture output.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	GlobalLogLevel.Set(parseLevel(cfg.Level))

	redactFields := masq.New(
		masq.WithFieldName("password"),
		masq.WithFieldName("Password"),
		masq.WithFieldName("secret"),
		masq.WithFieldName("Secret"),
		masq.WithFieldName("token"),
		masq.WithFieldName("Token"),
		masq.WithFieldName("apikey"),
		masq.WithFieldName("api_key"),
		masq.WithFieldName("credential"),
		masq.WithFieldName("Credential"),
	)

	opts := &slog.HandlerOptions{
		Level:     GlobalLogLevel,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			a = redactFields(groups, a)
			if a.Value.Kind() == slog.KindString {
				if s := a.Value.String(); urlCredentialPattern.MatchString(s) {
					a = slog.String(a.Key, urlCredentialPattern.ReplaceAllString(s, "$1=[REDACTED]"))
				}
			}
			if a.Key == slog.TimeKey && cfg.TimeFormat != "" {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
				}
			}
			return a
		},
	}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLogLevel adjusts the global level at runtime ("trace", "debug",
// "info", "warn", "error").
func SetLogLevel(level string) {
	GlobalLogLevel.Set(parseLevel(level))
}

// GetLogLevel reports the current global level as a string.
func GetLogLevel() string {
	switch level := GlobalLogLevel.Level(); {
	case level < slog.LevelDebug:
		return "trace"
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	case level < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}

// Trace logs at LevelTrace. Callers on hot paths should guard with
// TraceEnabled to avoid building the attribute list when tracing is off.
func Trace(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelTrace, msg, args...)
}

// TraceEnabled reports whether logger would emit at LevelTrace.
func TraceEnabled(logger *slog.Logger) bool {
	return logger.Enabled(context.Background(), LevelTrace)
}

// NewCorrelationID returns a lexically sortable ULID tying together the
// burst of trace lines one fragment's fetch/decrypt/parse produces.
func NewCorrelationID() string {
	return ulid.Make().String()
}
