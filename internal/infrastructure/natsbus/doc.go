// Package natsbus provides a NATS push transport for meterhub.
//
// It mirrors the mqtt package contract so the telemetry synchronizer can
// use either broker: subscriptions use MQTT-style filters ("th/#"), which
// are translated to NATS subjects ("th.>"), and handlers receive topics
// with "/" separators.
//
// The connection is retried forever, including the first attempt. A server
// that cannot be reached within the connect timeout is reported through
// the disconnect callback with ErrConnectionFailed.
//
// Core NATS delivery is at-most-once; the QoS argument is validated for
// parity with MQTT and otherwise ignored.
package natsbus
