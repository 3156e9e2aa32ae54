package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/akuvox-access-core/internal/infrastructure/config"
)

// ServiceName is attached to every log entry as the "service" attribute.
const ServiceName = "akuvox-access"

// Redacted replaces the value of credential-shaped attributes.
const Redacted = "[REDACTED]"

// secretKeys are attribute keys whose values never reach the log output.
// Matching is case-insensitive and ignores '_' and '-'.
var secretKeys = map[string]bool{
	"password":   true,
	"pin":        true,
	"privatepin": true,
	"token":      true,
	"secret":     true,
}

// Logger wraps slog.Logger. Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a logger from configuration. Every entry carries the service
// name and version; credential attributes are redacted.
func New(cfg config.LoggingConfig, version string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return &Logger{Logger: slog.New(newHandler(out, cfg, version))}
}

func newHandler(w io.Writer, cfg config.LoggingConfig, version string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redactSecrets,
	}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return h.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})
}

// redactSecrets is a slog ReplaceAttr hook.
func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if IsSecretKey(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	return a
}

// IsSecretKey reports whether values under key must be redacted.
func IsSecretKey(key string) bool {
	k := strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(key))
	return secretKeys[k]
}

// parseLevel maps debug, info, warn/warning and error; anything else is info.
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

// With returns a child logger carrying extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component tags entries with the subsystem that wrote them.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Device tags entries with a device ID.
func (l *Logger) Device(id string) *Logger {
	return l.With("device_id", id)
}

// Default is the JSON, info-level logger used until configuration is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
