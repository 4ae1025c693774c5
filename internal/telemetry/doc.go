// Package telemetry keeps a live view of metering devices fed by two
// sources: a push transport (MQTT or NATS) and a periodic bulk fetch from
// the backend REST API.
//
// The pieces are:
//   - Store: the latest raw record per device, stamped with arrival time
//   - PushAdapter: decodes transport messages into store observations
//   - PullAdapter: polls the bulk listing on a fixed interval
//   - Scheduler: coalesces bursts of updates into one emission
//   - Synchronizer: ties them together and delivers snapshots to consumers
//
// Arrival order decides which record wins. A device updated by push and a
// moment later by pull holds the pull record.
//
// Pull cadence follows push health. While push is connected the bulk fetch
// runs at the slow interval as a safety net; otherwise it runs at the fast
// interval. If push stays degraded past the grace window, the Notifier is
// told once per episode.
//
// Usage:
//
//	sync, err := telemetry.New(telemetry.DefaultConfig(), telemetry.Deps{
//	    Fetcher:   fetcher,
//	    Transport: mqttClient,
//	    Push:      telemetry.PushConfig{Topic: "th/#", QoS: 1},
//	    Logger:    log,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := sync.Start(ctx); err != nil {
//	    return err
//	}
//	reg, _ := sync.Register("dashboard", consumer)
//	defer reg.Unregister()
package telemetry
