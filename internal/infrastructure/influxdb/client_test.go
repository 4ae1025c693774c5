package influxdb_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nerrad567/meterhub-core/internal/infrastructure/config"
	"github.com/nerrad567/meterhub-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/meterhub-core/internal/meter"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "meterhub-dev-token",
		Org:           "meterhub",
		Bucket:        "telemetry",
		Measurement:   "power",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// skipIfNoInfluxDB skips the test if InfluxDB is not running.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		client, err := influxdb.Connect(context.Background(), testConfig())
		if err != nil {
			t.Skip("InfluxDB not available, skipping integration test")
		}
		client.Close()
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose_Nil(t *testing.T) {
	client := &influxdb.Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
}

func TestConnect(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestExporter_WritesThroughClient(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var writeErr error
	client.SetOnError(func(err error) { writeErr = err })

	exp := client.Exporter("test-site")
	now := time.Now()
	exp.OnSnapshotsAvailable("export", []meter.Snapshot{snapshot("th/test/1", now, 1.5)})
	client.Close()

	if exp.Written() != 2 {
		t.Errorf("Written() = %d, want 2", exp.Written())
	}
	if queued, _ := client.Stats(); queued != 2 {
		t.Errorf("Stats() queued = %d, want 2", queued)
	}
	if writeErr != nil {
		t.Errorf("write error = %v", writeErr)
	}
}

func TestWritePoint_AfterClose(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()
	client.Close()

	point := influxdb.Points("power", "", snapshot("th/test/1", time.Now(), 1))[0]
	if err := client.WritePoint(point); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("WritePoint() after Close() error = %v, want ErrNotConnected", err)
	}
}

func TestWritePoint_NeverConnected(t *testing.T) {
	client := &influxdb.Client{}

	point := influxdb.Points("power", "", snapshot("th/test/1", time.Now(), 1))[0]
	if err := client.WritePoint(point); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("WritePoint() error = %v, want ErrNotConnected", err)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if queued, failures := client.Stats(); queued != 0 || failures != 0 {
		t.Errorf("Stats() = %d, %d, want 0, 0", queued, failures)
	}
}
