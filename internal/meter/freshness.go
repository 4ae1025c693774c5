package meter

import (
	"fmt"
	"time"
)

// Freshness classifies how recently a device was heard from.
type Freshness string

// Freshness levels, ordered from most to least recent.
const (
	FreshnessOnline  Freshness = "online"
	FreshnessStale   Freshness = "stale"
	FreshnessOffline Freshness = "offline"
)

// ParseFreshness converts a string to a Freshness.
func ParseFreshness(s string) (Freshness, error) {
	switch Freshness(s) {
	case FreshnessOnline, FreshnessStale, FreshnessOffline:
		return Freshness(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFreshness, s)
	}
}

// Default freshness thresholds.
const (
	DefaultStaleAfter   = 8 * time.Second
	DefaultOfflineAfter = 15 * time.Second
)

// Thresholds holds the age limits used to classify freshness.
type Thresholds struct {
	StaleAfter   time.Duration
	OfflineAfter time.Duration
}

// DefaultThresholds returns the 8s/15s thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StaleAfter:   DefaultStaleAfter,
		OfflineAfter: DefaultOfflineAfter,
	}
}

// Validate checks that both thresholds are positive and ordered.
func (t Thresholds) Validate() error {
	if t.StaleAfter <= 0 || t.OfflineAfter <= 0 {
		return fmt.Errorf("%w: thresholds must be positive", ErrInvalidThresholds)
	}
	if t.StaleAfter >= t.OfflineAfter {
		return fmt.Errorf("%w: stale_after (%s) must be less than offline_after (%s)",
			ErrInvalidThresholds, t.StaleAfter, t.OfflineAfter)
	}
	return nil
}

// Classify returns the freshness of a device last seen at lastSeen,
// evaluated at now.
//
// A zero lastSeen means the device has never been observed and is offline.
// An arrival time in the future (clock adjustment) counts as age zero.
//
// Parameters:
//   - lastSeen: Wall-clock arrival time of the latest observation
//   - now: Evaluation time
//
// Returns:
//   - Freshness: online, stale or offline
func (t Thresholds) Classify(lastSeen, now time.Time) Freshness {
	if lastSeen.IsZero() {
		return FreshnessOffline
	}
	age := now.Sub(lastSeen)
	switch {
	case age >= t.OfflineAfter:
		return FreshnessOffline
	case age >= t.StaleAfter:
		return FreshnessStale
	default:
		return FreshnessOnline
	}
}

// Classify applies the default thresholds.
func Classify(lastSeen, now time.Time) Freshness {
	return DefaultThresholds().Classify(lastSeen, now)
}
