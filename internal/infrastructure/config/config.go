package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for meterhub.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Push      PushConfig      `yaml:"push"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	NATS      NATSConfig      `yaml:"nats"`
	Pull      PullConfig      `yaml:"pull"`
	Sync      SyncConfig      `yaml:"sync"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig identifies the installation. The ID is attached to exported points.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Push transports.
const (
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
	TransportNone = "none"
)

// PushConfig selects and scopes the push transport.
type PushConfig struct {
	// Transport is "mqtt", "nats" or "none" (pull only).
	Transport string `yaml:"transport"`

	// Topic is the subscription filter. MQTT wildcards are used for both
	// transports; the NATS client translates them to subject wildcards.
	Topic string `yaml:"topic"`

	// StripSuffixes lists trailing topic segments that name the message
	// type rather than the device (e.g. "meter").
	StripSuffixes []string `yaml:"strip_suffixes"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	KeepAlive int                 `yaml:"keep_alive"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay   int `yaml:"initial_delay"`
	MaxDelay       int `yaml:"max_delay"`
	ConnectTimeout int `yaml:"connect_timeout"`
}

// NATSConfig contains NATS connection settings.
type NATSConfig struct {
	URL            string        `yaml:"url"`
	Name           string        `yaml:"name"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Token          string        `yaml:"token"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// PullConfig contains bulk polling settings.
type PullConfig struct {
	// URL is the bulk device listing endpoint.
	URL string `yaml:"url"`

	// MeURL is the current-user probe endpoint. Optional.
	MeURL string `yaml:"me_url"`

	// Token is sent as a bearer token. Prefer METERHUB_PULL_TOKEN.
	Token string `yaml:"token"`

	Timeout      time.Duration `yaml:"timeout"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	FastInterval time.Duration `yaml:"fast_interval"`
	SlowInterval time.Duration `yaml:"slow_interval"`
}

// SyncConfig contains synchronizer timings.
type SyncConfig struct {
	Debounce     time.Duration `yaml:"debounce"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	OfflineAfter time.Duration `yaml:"offline_after"`
	GraceWindow  time.Duration `yaml:"grace_window"`
	LiveRoutes   []string      `yaml:"live_routes"`
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

// InfluxDBConfig contains InfluxDB export settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	Measurement   string `yaml:"measurement"`
	Route         string `yaml:"route"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: METERHUB_SECTION_KEY
// For example: METERHUB_PULL_URL, METERHUB_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

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

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site001",
			Name: "meterhub",
		},
		Push: PushConfig{
			Transport:     TransportMQTT,
			Topic:         "th/#",
			StripSuffixes: []string{"meter"},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS:       1,
			KeepAlive: 30,
			Reconnect: MQTTReconnectConfig{
				InitialDelay:   2,
				MaxDelay:       60,
				ConnectTimeout: 5,
			},
		},
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			Name:           "meterhub",
			ReconnectWait:  2 * time.Second,
			ConnectTimeout: 5 * time.Second,
		},
		Pull: PullConfig{
			URL:          "http://localhost:8000/api/devices",
			MeURL:        "http://localhost:8000/api/auth/me",
			Timeout:      5 * time.Second,
			ProbeTimeout: 8 * time.Second,
			FastInterval: 3 * time.Second,
			SlowInterval: 30 * time.Second,
		},
		Sync: SyncConfig{
			Debounce:     200 * time.Millisecond,
			StaleAfter:   8 * time.Second,
			OfflineAfter: 15 * time.Second,
			GraceWindow:  5 * time.Second,
			LiveRoutes:   []string{"overview", "monitor", "dashboard", "export"},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Measurement:   "power",
			Route:         "export",
			BatchSize:     500,
			FlushInterval: 1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/meterhub.log",
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     14,
				Compress:   true,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: METERHUB_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Push
	if v := os.Getenv("METERHUB_PUSH_TRANSPORT"); v != "" {
		cfg.Push.Transport = v
	}

	// MQTT
	if v := os.Getenv("METERHUB_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("METERHUB_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("METERHUB_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// NATS
	if v := os.Getenv("METERHUB_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}

	// Pull
	if v := os.Getenv("METERHUB_PULL_URL"); v != "" {
		cfg.Pull.URL = v
	}
	if v := os.Getenv("METERHUB_PULL_TOKEN"); v != "" {
		cfg.Pull.Token = v
	}

	// API
	if v := os.Getenv("METERHUB_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("METERHUB_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("METERHUB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	switch c.Push.Transport {
	case TransportMQTT, TransportNATS, TransportNone:
	default:
		errs = append(errs, "push.transport must be mqtt, nats or none")
	}
	if c.Push.Transport != TransportNone && c.Push.Topic == "" {
		errs = append(errs, "push.topic is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.Push.Transport == TransportNATS && c.NATS.URL == "" {
		errs = append(errs, "nats.url is required when push.transport is nats")
	}

	if c.Pull.URL == "" {
		errs = append(errs, "pull.url is required")
	}
	if c.Pull.FastInterval <= 0 || c.Pull.SlowInterval <= 0 {
		errs = append(errs, "pull.fast_interval and pull.slow_interval must be positive")
	}
	if c.Pull.Timeout <= 0 {
		errs = append(errs, "pull.timeout must be positive")
	}

	if c.Sync.Debounce <= 0 {
		errs = append(errs, "sync.debounce must be positive")
	}
	if c.Sync.GraceWindow <= 0 {
		errs = append(errs, "sync.grace_window must be positive")
	}
	if c.Sync.StaleAfter <= 0 || c.Sync.StaleAfter >= c.Sync.OfflineAfter {
		errs = append(errs, "sync.stale_after must be positive and less than sync.offline_after")
	}
	if len(c.Sync.LiveRoutes) == 0 {
		errs = append(errs, "sync.live_routes must not be empty")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
		if !c.IsLiveRoute(c.InfluxDB.Route) {
			errs = append(errs, fmt.Sprintf("influxdb.route %q must be listed in sync.live_routes", c.InfluxDB.Route))
		}
	}

	if strings.ToLower(c.Logging.Output) == "file" && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsLiveRoute reports whether route is listed in sync.live_routes.
func (c *Config) IsLiveRoute(route string) bool {
	for _, r := range c.Sync.LiveRoutes {
		if r == route {
			return true
		}
	}
	return false
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
