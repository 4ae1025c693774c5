package telemetry

import "errors"

// Domain-specific errors for telemetry synchronization.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnauthorized is returned when the bulk endpoint rejects the session.
	ErrUnauthorized = errors.New("telemetry: unauthorized")

	// ErrTokenExpired is returned when the configured session token has expired
	// and no request was attempted.
	ErrTokenExpired = errors.New("telemetry: session token expired")

	// ErrFetchFailed is returned when the bulk endpoint answers with an
	// unexpected status or an undecodable body.
	ErrFetchFailed = errors.New("telemetry: fetch failed")

	// ErrInvalidInterval is returned when a poll interval is not positive.
	ErrInvalidInterval = errors.New("telemetry: poll interval must be positive")

	// ErrNoRoute is returned when registering a consumer without a route.
	ErrNoRoute = errors.New("telemetry: route is required")

	// ErrNilConsumer is returned when registering a nil consumer.
	ErrNilConsumer = errors.New("telemetry: consumer is nil")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("telemetry: already started")

	// ErrMissingDependency is returned when a required dependency is absent.
	ErrMissingDependency = errors.New("telemetry: missing dependency")
)
