package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/akuvox-access-core/internal/infrastructure/config"
)

func newBufferLogger(buf *bytes.Buffer, cfg config.LoggingConfig) *Logger {
	return &Logger{Logger: slog.New(newHandler(buf, cfg, "test"))}
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON output %q: %v", buf.String(), err)
	}
	return entry
}

func TestNew(t *testing.T) {
	for _, cfg := range []config.LoggingConfig{
		{Level: "info", Format: "json", Output: "stdout"},
		{Level: "debug", Format: "TEXT", Output: "stderr"},
		{},
	} {
		if New(cfg, "1.0.0") == nil {
			t.Errorf("New(%+v) returned nil", cfg)
		}
	}
	if Default() == nil {
		t.Error("Default() returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLogger_DefaultAttributes(t *testing.T) {
	var buf bytes.Buffer
	newBufferLogger(&buf, config.LoggingConfig{Level: "info"}).Info("pass complete", "added", 2)

	entry := decodeEntry(t, &buf)
	want := map[string]any{"service": ServiceName, "version": "test", "msg": "pass complete", "added": float64(2)}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
}

func TestLogger_ComponentAndDevice(t *testing.T) {
	var buf bytes.Buffer
	log := newBufferLogger(&buf, config.LoggingConfig{Level: "info"})

	log.Component("reconcile").Device("front-door").Info("sync complete")

	entry := decodeEntry(t, &buf)
	if entry["component"] != "reconcile" || entry["device_id"] != "front-door" {
		t.Errorf("entry = %v, want component and device_id", entry)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := newBufferLogger(&buf, config.LoggingConfig{Level: "warn"})

	log.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info entry written at warn level: %s", buf.String())
	}
	log.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn entry missing: %s", buf.String())
	}
}

func TestLogger_RedactsSecrets(t *testing.T) {
	tests := []struct {
		format string
	}{
		{"json"},
		{"text"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			log := newBufferLogger(&buf, config.LoggingConfig{Level: "info", Format: tt.format})

			log.Info("device payload",
				"PrivatePIN", "4321",
				"password", "hunter2",
				"private_pin", "9999",
				"user_id", "HA001",
			)

			out := buf.String()
			for _, secret := range []string{"4321", "hunter2", "9999"} {
				if strings.Contains(out, secret) {
					t.Errorf("secret %q leaked: %s", secret, out)
				}
			}
			if !strings.Contains(out, "HA001") {
				t.Errorf("non-secret attribute missing: %s", out)
			}
		})
	}
}

func TestIsSecretKey(t *testing.T) {
	tests := map[string]bool{
		"password":    true,
		"PrivatePIN":  true,
		"private-pin": true,
		"PIN":         true,
		"token":       true,
		"user_id":     false,
		"pin_code":    false,
	}
	for key, want := range tests {
		if got := IsSecretKey(key); got != want {
			t.Errorf("IsSecretKey(%q) = %v, want %v", key, got, want)
		}
	}
}
