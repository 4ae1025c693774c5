package influxdb

import "errors"

var (
	// ErrNotConnected is returned by writes and health checks on a closed client.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed is returned when the initial ping fails.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed wraps batch failures passed to the SetOnError callback.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrDisabled is returned by Connect when export is turned off.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
