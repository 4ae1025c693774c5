package natsbus

import "errors"

var (
	// ErrNotConnected is returned by HealthCheck while disconnected.
	ErrNotConnected = errors.New("natsbus: not connected")

	// ErrConnectionFailed is reported when the server cannot be reached.
	ErrConnectionFailed = errors.New("natsbus: connection failed")

	// ErrSubscribeFailed is returned when a subscription cannot be created.
	ErrSubscribeFailed = errors.New("natsbus: subscribe failed")

	// ErrInvalidFilter is returned for empty filters or misplaced wildcards.
	ErrInvalidFilter = errors.New("natsbus: invalid topic filter")

	// ErrInvalidQoS is returned for QoS values above 2.
	ErrInvalidQoS = errors.New("natsbus: invalid QoS level (must be 0, 1, or 2)")
)
