package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
site:
  id: "test-site"
push:
  transport: "mqtt"
  topic: "th/+/+/+"
  strip_suffixes: ["meter", "state"]
mqtt:
  broker:
    host: "broker.local"
    port: 1883
    client_id: "test-client"
  qos: 0
pull:
  url: "http://backend:8000/api/devices"
  fast_interval: "2s"
  slow_interval: "1m"
sync:
  debounce: "150ms"
  live_routes: ["dashboard"]
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Push.Topic != "th/+/+/+" {
		t.Errorf("Push.Topic = %q, want %q", cfg.Push.Topic, "th/+/+/+")
	}
	if len(cfg.Push.StripSuffixes) != 2 {
		t.Errorf("Push.StripSuffixes = %v, want 2 entries", cfg.Push.StripSuffixes)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.MQTT.QoS != 0 {
		t.Errorf("MQTT.QoS = %d, want 0", cfg.MQTT.QoS)
	}
	if cfg.Pull.FastInterval != 2*time.Second {
		t.Errorf("Pull.FastInterval = %v, want 2s", cfg.Pull.FastInterval)
	}
	if cfg.Pull.SlowInterval != time.Minute {
		t.Errorf("Pull.SlowInterval = %v, want 1m", cfg.Pull.SlowInterval)
	}
	if cfg.Sync.Debounce != 150*time.Millisecond {
		t.Errorf("Sync.Debounce = %v, want 150ms", cfg.Sync.Debounce)
	}
	// Untouched sections keep their defaults.
	if cfg.Sync.StaleAfter != 8*time.Second || cfg.Sync.OfflineAfter != 15*time.Second {
		t.Errorf("Sync thresholds = %v/%v, want 8s/15s", cfg.Sync.StaleAfter, cfg.Sync.OfflineAfter)
	}
	if cfg.Pull.Timeout != 5*time.Second {
		t.Errorf("Pull.Timeout = %v, want 5s", cfg.Pull.Timeout)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "sync:\n  debounce: \"soon\"\n"))
	if err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
sync:
  stale_after: "20s"
  offline_after: "10s"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "sync.stale_after") {
		t.Errorf("Load() error = %v, want mention of sync.stale_after", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("METERHUB_MQTT_HOST", "env-broker")
	t.Setenv("METERHUB_PULL_URL", "http://env/api/devices")
	t.Setenv("METERHUB_PULL_TOKEN", "env-token")
	t.Setenv("METERHUB_LOG_LEVEL", "debug")
	t.Setenv("METERHUB_PUSH_TRANSPORT", "nats")
	t.Setenv("METERHUB_NATS_URL", "nats://env:4222")

	cfg, err := Load(writeConfig(t, "site:\n  id: \"x\"\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"mqtt host", cfg.MQTT.Broker.Host, "env-broker"},
		{"pull url", cfg.Pull.URL, "http://env/api/devices"},
		{"pull token", cfg.Pull.Token, "env-token"},
		{"log level", cfg.Logging.Level, "debug"},
		{"transport", cfg.Push.Transport, TransportNATS},
		{"nats url", cfg.NATS.URL, "nats://env:4222"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			modify: func(*Config) {},
		},
		{
			name:    "unknown transport",
			modify:  func(c *Config) { c.Push.Transport = "amqp" },
			wantErr: "push.transport",
		},
		{
			name:   "pull only needs no topic",
			modify: func(c *Config) { c.Push.Transport = TransportNone; c.Push.Topic = "" },
		},
		{
			name:    "push topic required",
			modify:  func(c *Config) { c.Push.Topic = "" },
			wantErr: "push.topic",
		},
		{
			name:    "invalid qos",
			modify:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "nats without url",
			modify:  func(c *Config) { c.Push.Transport = TransportNATS; c.NATS.URL = "" },
			wantErr: "nats.url",
		},
		{
			name:    "missing pull url",
			modify:  func(c *Config) { c.Pull.URL = "" },
			wantErr: "pull.url",
		},
		{
			name:    "zero interval",
			modify:  func(c *Config) { c.Pull.FastInterval = 0 },
			wantErr: "pull.fast_interval",
		},
		{
			name:    "zero debounce",
			modify:  func(c *Config) { c.Sync.Debounce = 0 },
			wantErr: "sync.debounce",
		},
		{
			name:    "equal thresholds",
			modify:  func(c *Config) { c.Sync.StaleAfter = c.Sync.OfflineAfter },
			wantErr: "sync.stale_after",
		},
		{
			name:    "no live routes",
			modify:  func(c *Config) { c.Sync.LiveRoutes = nil },
			wantErr: "sync.live_routes",
		},
		{
			name:    "bad api port",
			modify:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name: "influx route not live",
			modify: func(c *Config) {
				c.InfluxDB = InfluxDBConfig{Enabled: true, URL: "http://influx:8086", Org: "o", Bucket: "b", Route: "settings"}
			},
			wantErr: "influxdb.route",
		},
		{
			name:    "influx missing bucket",
			modify:  func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.URL = "http://influx:8086" },
			wantErr: "influxdb.url",
		},
		{
			name:    "file logging without path",
			modify:  func(c *Config) { c.Logging.Output = "file"; c.Logging.File.Path = "" },
			wantErr: "logging.file.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want mention of %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestTimeoutGetters(t *testing.T) {
	cfg := Default()
	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 30*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
}
