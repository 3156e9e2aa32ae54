package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the access core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Sync      SyncConfig      `yaml:"sync"`
	History   HistoryConfig   `yaml:"history"`
	Devices   []DeviceConfig  `yaml:"devices"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SyncConfig controls the reconciliation engine and its scheduler.
type SyncConfig struct {
	// DebounceMinutes is the default delay between a registry change and
	// the sync pass it triggers.
	DebounceMinutes int `yaml:"debounce_minutes"`

	// FullSyncIntervalMinutes is the period of the unconditional sweep.
	FullSyncIntervalMinutes int `yaml:"full_sync_interval_minutes"`

	// IntegrityIntervalMinutes is the period of the read-only integrity check.
	IntegrityIntervalMinutes int `yaml:"integrity_interval_minutes"`

	// ReplaceBackoffMS is the pause between sequential replace operations.
	ReplaceBackoffMS int `yaml:"replace_backoff_ms"`

	ProbeTimeoutSeconds   int `yaml:"probe_timeout_seconds"`
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`

	// ReservationTTLSeconds is how long an abandoned ID reservation survives.
	ReservationTTLSeconds int `yaml:"reservation_ttl_seconds"`

	// FaceBaseURL is the externally reachable prefix devices fetch face images from.
	FaceBaseURL string `yaml:"face_base_url"`
}

// HistoryConfig controls door-log collection.
type HistoryConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	Limit               int `yaml:"limit"`
}

// DeviceConfig seeds one access-control device into the device registry.
type DeviceConfig struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	Scheme      string   `yaml:"scheme"`
	VerifyTLS   bool     `yaml:"verify_tls"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	Type        string   `yaml:"type"`
	Participate *bool    `yaml:"participate"`
	SyncGroups  []string `yaml:"sync_groups"`
	ExitDevice  bool     `yaml:"exit_device"`
	RelayA      string   `yaml:"relay_a"`
	RelayB      string   `yaml:"relay_b"`
}

// String implements fmt.Stringer and hides the device password.
func (d DeviceConfig) String() string {
	return fmt.Sprintf("DeviceConfig{ID:%s Host:%s Port:%d Scheme:%s Username:%s Password:[REDACTED]}",
		d.ID, d.Host, d.Port, d.Scheme, d.Username)
}

// ParticipatesInSync reports whether the device takes part in sync passes.
// Devices participate unless explicitly disabled.
func (d DeviceConfig) ParticipatesInSync() bool {
	return d.Participate == nil || *d.Participate
}

var deviceIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: AKUVOX_SECTION_KEY
// For example: AKUVOX_DATABASE_PATH, AKUVOX_API_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Akuvox Access",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/akuvox.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "akuvox-access-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Sync: SyncConfig{
			DebounceMinutes:          30,
			FullSyncIntervalMinutes:  30,
			IntegrityIntervalMinutes: 15,
			ReplaceBackoffMS:         250,
			ProbeTimeoutSeconds:      5,
			RequestTimeoutSeconds:    15,
			ReservationTTLSeconds:    120,
		},
		History: HistoryConfig{
			PollIntervalSeconds: 60,
			Limit:               200,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: AKUVOX_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AKUVOX_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("AKUVOX_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("AKUVOX_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("AKUVOX_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("AKUVOX_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("AKUVOX_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("AKUVOX_FACE_BASE_URL"); v != "" {
		cfg.Sync.FaceBaseURL = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Sync.DebounceMinutes < 0 {
		errs = append(errs, "sync.debounce_minutes must not be negative")
	}
	if c.Sync.FullSyncIntervalMinutes < 1 {
		errs = append(errs, "sync.full_sync_interval_minutes must be at least 1")
	}
	if c.Sync.IntegrityIntervalMinutes < 1 {
		errs = append(errs, "sync.integrity_interval_minutes must be at least 1")
	}
	if c.Sync.ProbeTimeoutSeconds < 1 || c.Sync.RequestTimeoutSeconds < 1 {
		errs = append(errs, "sync probe and request timeouts must be at least 1 second")
	}

	if c.History.PollIntervalSeconds < 1 {
		errs = append(errs, "history.poll_interval_seconds must be at least 1")
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		switch {
		case !deviceIDPattern.MatchString(d.ID):
			errs = append(errs, fmt.Sprintf("devices[%d].id %q must be lowercase alphanumeric with - or _", i, d.ID))
		case seen[d.ID]:
			errs = append(errs, fmt.Sprintf("devices[%d].id %q is duplicated", i, d.ID))
		}
		seen[d.ID] = true

		if d.Host == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].host is required", i))
		}
		if d.Port < 0 || d.Port > 65535 {
			errs = append(errs, fmt.Sprintf("devices[%d].port must be between 0 and 65535", i))
		}
		if s := strings.ToLower(d.Scheme); s != "" && s != "http" && s != "https" {
			errs = append(errs, fmt.Sprintf("devices[%d].scheme must be http or https", i))
		}
		if t := strings.ToLower(d.Type); t != "" && t != "intercom" && t != "keypad" {
			errs = append(errs, fmt.Sprintf("devices[%d].type must be intercom or keypad", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DebounceDelay returns the default sync debounce delay.
func (s SyncConfig) DebounceDelay() time.Duration {
	return time.Duration(s.DebounceMinutes) * time.Minute
}

// FullSyncInterval returns the period of the unconditional sync sweep.
func (s SyncConfig) FullSyncInterval() time.Duration {
	return time.Duration(s.FullSyncIntervalMinutes) * time.Minute
}

// IntegrityInterval returns the period of the integrity check.
func (s SyncConfig) IntegrityInterval() time.Duration {
	return time.Duration(s.IntegrityIntervalMinutes) * time.Minute
}

// ReplaceBackoff returns the pause between replace operations.
func (s SyncConfig) ReplaceBackoff() time.Duration {
	return time.Duration(s.ReplaceBackoffMS) * time.Millisecond
}

// ProbeTimeout returns the per-probe timeout used during endpoint detection.
func (s SyncConfig) ProbeTimeout() time.Duration {
	return time.Duration(s.ProbeTimeoutSeconds) * time.Second
}

// RequestTimeout returns the per-attempt timeout for device data requests.
func (s SyncConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// ReservationTTL returns how long an abandoned ID reservation is kept.
func (s SyncConfig) ReservationTTL() time.Duration {
	return time.Duration(s.ReservationTTLSeconds) * time.Second
}

// PollInterval returns the door-log polling period.
func (h HistoryConfig) PollInterval() time.Duration {
	return time.Duration(h.PollIntervalSeconds) * time.Second
}
