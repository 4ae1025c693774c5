package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/meterhub-core/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	// Batching applied when batch_size or flush_interval is unset.
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client is the export sink for snapshot points.
//
// Points are queued on the library's non-blocking write API and sent in
// batches. Batch failures arrive asynchronously and are handed to the
// SetOnError callback wrapped in ErrWriteFailed.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDBConfig

	mu      sync.RWMutex
	open    bool
	onError func(err error)

	queued      atomic.Uint64
	writeErrors atomic.Uint64
}

// Connect pings the server and prepares the batched write API.
//
// Parameters:
//   - ctx: Bounds the initial ping together with an internal timeout
//   - cfg: InfluxDB section of the configuration
//
// Returns:
//   - *Client: Open client
//   - error: ErrDisabled, or ErrConnectionFailed when the ping fails
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg))
	c := &Client{client: client, cfg: cfg}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	if err := c.ping(pingCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.writeAPI = client.WriteAPI(cfg.Org, cfg.Bucket)
	c.open = true
	go c.forwardWriteErrors(c.writeAPI.Errors())

	return c, nil
}

// clientOptions maps batching settings onto library options.
func clientOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	// #nosec G115 -- flush is positive
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds()))
}

func (c *Client) ping(ctx context.Context) error {
	healthy, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("server not healthy")
	}
	return nil
}

func (c *Client) forwardWriteErrors(errs <-chan error) {
	for err := range errs {
		c.writeErrors.Add(1)

		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// SetOnError sets the callback for asynchronous batch failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// WritePoint queues a point for the next batch.
//
// Returns:
//   - error: ErrNotConnected once the client is closed or was never opened
func (c *Client) WritePoint(point *write.Point) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.open {
		return ErrNotConnected
	}
	c.writeAPI.WritePoint(point)
	c.queued.Add(1)
	return nil
}

// Stats returns how many points were queued and how many batch failures
// were reported.
func (c *Client) Stats() (queued, writeErrors uint64) {
	return c.queued.Load(), c.writeErrors.Load()
}

// IsConnected reports whether the client accepts points. It does not
// probe the server; use HealthCheck for that.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := c.ping(checkCtx); err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	return nil
}

// Close flushes queued points and releases the client. Later writes fail
// with ErrNotConnected. Calling Close more than once is safe.
func (c *Client) Close() error {
	c.mu.Lock()
	wasOpen := c.open
	c.open = false
	c.mu.Unlock()

	if !wasOpen {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// Exporter returns a snapshot exporter writing through this client.
func (c *Client) Exporter(siteID string) *Exporter {
	return NewExporter(c, c.cfg.Measurement, siteID)
}
