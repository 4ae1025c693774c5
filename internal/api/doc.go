// Package api implements the HTTP REST API and WebSocket server for meterhub.
//
// This package provides:
//   - REST endpoints for device snapshots and connectivity status
//   - WebSocket hub streaming snapshot emissions per route
//   - Prometheus exposition on the configured metrics path
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The server reads from the telemetry synchronizer and never writes to it.
// A WebSocket subscription to "snapshots.<route>" registers a telemetry
// consumer on that route while at least one client is subscribed; the
// "connectivity" channel carries push status changes and degraded alerts.
//
// # Graceful Degradation
//
// The server runs without a push transport; status then reports no_push and
// snapshots come from polling alone.
package api
