package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/meterhub-core/internal/api"
	"github.com/nerrad567/meterhub-core/internal/infrastructure/config"
	"github.com/nerrad567/meterhub-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/meterhub-core/internal/infrastructure/logging"
	"github.com/nerrad567/meterhub-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/meterhub-core/internal/infrastructure/natsbus"
	"github.com/nerrad567/meterhub-core/internal/meter"
	"github.com/nerrad567/meterhub-core/internal/telemetry"
)

// pushTransport is a push client the service can start, probe and close.
type pushTransport interface {
	telemetry.Transport
	HealthCheck(ctx context.Context) error
	Close() error
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting meterhub",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer func() {
		if closeErr := log.Close(); closeErr != nil {
			fmt.Printf("error closing log output: %v\n", closeErr)
		}
	}()
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := telemetry.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	fetcher := telemetry.NewHTTPFetcher(telemetry.HTTPFetcherConfig{
		URL:          cfg.Pull.URL,
		MeURL:        cfg.Pull.MeURL,
		Token:        cfg.Pull.Token,
		Timeout:      cfg.Pull.Timeout,
		ProbeTimeout: cfg.Pull.ProbeTimeout,
	}, nil)
	fetcher.SetOnUnauthorized(func(err error) {
		log.Warn("pull session rejected, sign in again", "error", err)
	})

	hub := api.NewHub(cfg.WebSocket, log.With("component", "websocket"))
	health := make(map[string]api.HealthChecker)

	transport, err := newTransport(cfg, log)
	if err != nil {
		return err
	}

	deps := telemetry.Deps{
		Fetcher: fetcher,
		Push: telemetry.PushConfig{
			Topic:         cfg.Push.Topic,
			QoS:           pushQoS(cfg),
			StripSuffixes: cfg.Push.StripSuffixes,
		},
		Logger:  log.With("component", "telemetry"),
		Metrics: metrics,
		Notifier: telemetry.NotifierFunc(func(n telemetry.Notice) {
			log.Warn("push connectivity degraded",
				"state", n.State,
				"since", n.Since,
				"error", n.Error,
			)
			hub.NotifyDegraded(n)
		}),
	}
	if transport != nil {
		deps.Transport = transport
	}

	sync, err := telemetry.New(syncConfig(cfg), deps)
	if err != nil {
		return fmt.Errorf("creating synchronizer: %w", err)
	}
	if err := sync.Start(ctx); err != nil {
		return fmt.Errorf("starting synchronizer: %w", err)
	}
	defer func() {
		log.Info("stopping synchronizer")
		sync.Stop()
	}()
	log.Info("synchronizer started",
		"transport", cfg.Push.Transport,
		"topic", cfg.Push.Topic,
		"pull_url", cfg.Pull.URL,
	)

	// The transport is started after the synchronizer has subscribed and
	// set its callbacks, so the first connect is observed.
	if transport != nil {
		if err := startTransport(transport); err != nil {
			return fmt.Errorf("starting %s transport: %w", cfg.Push.Transport, err)
		}
		defer func() {
			log.Info("closing push transport", "transport", cfg.Push.Transport)
			if closeErr := transport.Close(); closeErr != nil {
				log.Error("error closing push transport", "error", closeErr)
			}
		}()
		health[cfg.Push.Transport] = transport
	}

	// Connect to InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			queued, writeErrors := influxClient.Stats()
			log.Info("closing InfluxDB connection", "points_queued", queued, "write_errors", writeErrors)
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		exporter := influxClient.Exporter(cfg.Site.ID)
		export, err := sync.Register(cfg.InfluxDB.Route, exporter)
		if err != nil {
			return fmt.Errorf("registering InfluxDB exporter: %w", err)
		}
		defer func() {
			export.Unregister()
			if refused, lastErr := exporter.Refused(); refused > 0 {
				log.Warn("InfluxDB export refused devices", "count", refused, "last_error", lastErr)
			}
		}()
		health["influxdb"] = influxClient

		log.Info("InfluxDB export enabled",
			"url", cfg.InfluxDB.URL,
			"bucket", cfg.InfluxDB.Bucket,
			"route", cfg.InfluxDB.Route,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	go hub.Run(ctx)

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Metrics:   cfg.Metrics,
		Logger:    log,
		Telemetry: sync,
		Session:   fetcher,
		Gatherer:  reg,
		Health:    health,
		Hub:       hub,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// API server, InfluxDB export, push transport, synchronizer, log output.
	return nil
}

// newTransport creates the configured push client without connecting.
// A nil transport means pull-only operation.
func newTransport(cfg *config.Config, log *logging.Logger) (pushTransport, error) {
	switch cfg.Push.Transport {
	case config.TransportMQTT:
		client := mqtt.New(cfg.MQTT)
		client.SetLogger(log.With("component", "mqtt"))
		return client, nil
	case config.TransportNATS:
		client := natsbus.New(cfg.NATS)
		client.SetLogger(log.With("component", "nats"))
		return client, nil
	case config.TransportNone, "":
		log.Info("push transport disabled, running pull only")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown push transport %q", cfg.Push.Transport)
	}
}

// startTransport begins connecting in the background.
func startTransport(t pushTransport) error {
	switch c := t.(type) {
	case *mqtt.Client:
		c.Start()
		return nil
	case *natsbus.Client:
		return c.Start()
	default:
		return fmt.Errorf("unsupported transport %T", t)
	}
}

// pushQoS returns the subscription QoS. NATS has no delivery levels.
func pushQoS(cfg *config.Config) byte {
	if cfg.Push.Transport == config.TransportMQTT {
		return byte(cfg.MQTT.QoS)
	}
	return 0
}

// syncConfig maps the file configuration to synchronizer timings.
func syncConfig(cfg *config.Config) telemetry.Config {
	return telemetry.Config{
		FastInterval: cfg.Pull.FastInterval,
		SlowInterval: cfg.Pull.SlowInterval,
		GraceWindow:  cfg.Sync.GraceWindow,
		Debounce:     cfg.Sync.Debounce,
		Thresholds: meter.Thresholds{
			StaleAfter:   cfg.Sync.StaleAfter,
			OfflineAfter: cfg.Sync.OfflineAfter,
		},
		LiveRoutes: cfg.Sync.LiveRoutes,
	}
}
