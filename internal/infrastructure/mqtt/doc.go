// Package mqtt provides the MQTT push transport for meterhub.
//
// This package manages:
//   - Connection to the broker with auto-reconnect, including the first connect
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) on meterhub/{client_id}/status
//   - Connection state callbacks consumed by the telemetry synchronizer
//
// # Connection lifecycle
//
// New builds the client without touching the network. Register callbacks
// and subscriptions, then call Start. A broker that cannot be reached within
// the connect timeout is reported through the disconnect callback with
// ErrConnectionFailed; retries continue with exponential backoff.
//
//	client := mqtt.New(cfg.MQTT)
//	client.SetOnConnect(func() { log.Print("up") })
//	_ = client.Subscribe("th/#", 1, func(topic string, payload []byte) error {
//	    return nil
//	})
//	client.Start()
//	defer client.Close()
//
// # Security Considerations
//
//   - TLS should be enabled for brokers outside the local host (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
package mqtt
