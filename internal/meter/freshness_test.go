package meter

import (
	"errors"
	"testing"
	"time"
)

func TestThresholds_Classify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	th := DefaultThresholds()

	tests := []struct {
		name     string
		lastSeen time.Time
		want     Freshness
	}{
		{"never seen", time.Time{}, FreshnessOffline},
		{"just now", now, FreshnessOnline},
		{"just under stale", now.Add(-8*time.Second + time.Millisecond), FreshnessOnline},
		{"at stale boundary", now.Add(-8 * time.Second), FreshnessStale},
		{"between", now.Add(-12 * time.Second), FreshnessStale},
		{"at offline boundary", now.Add(-15 * time.Second), FreshnessOffline},
		{"long gone", now.Add(-time.Hour), FreshnessOffline},
		{"future arrival", now.Add(time.Second), FreshnessOnline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := th.Classify(tt.lastSeen, now); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestThresholds_Validate(t *testing.T) {
	tests := []struct {
		name    string
		th      Thresholds
		wantErr bool
	}{
		{"defaults", DefaultThresholds(), false},
		{"inverted", Thresholds{StaleAfter: 20 * time.Second, OfflineAfter: 10 * time.Second}, true},
		{"equal", Thresholds{StaleAfter: 10 * time.Second, OfflineAfter: 10 * time.Second}, true},
		{"zero", Thresholds{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.th.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidThresholds) {
				t.Errorf("Validate() error = %v, want ErrInvalidThresholds", err)
			}
		})
	}
}

func TestSnapshot_Annotate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := Normalize(map[string]any{"topic": "a/b", "L1": 1.0})

	snap := base.Annotate(now.Add(-9*time.Second), now, DefaultThresholds())
	if snap.Freshness != FreshnessStale {
		t.Errorf("Freshness = %q, want stale", snap.Freshness)
	}
	if snap.AgeMS == nil || *snap.AgeMS != 9000 {
		t.Errorf("AgeMS = %v, want 9000", snap.AgeMS)
	}
	if base.LastSeenAt != nil {
		t.Error("Annotate must not modify the receiver")
	}

	unseen := base.Annotate(time.Time{}, now, DefaultThresholds())
	if unseen.LastSeenAt != nil || unseen.Freshness != FreshnessOffline {
		t.Errorf("unseen = (%v, %q), want (nil, offline)", unseen.LastSeenAt, unseen.Freshness)
	}
}

func TestParseFreshness(t *testing.T) {
	if f, err := ParseFreshness("stale"); err != nil || f != FreshnessStale {
		t.Errorf("ParseFreshness(stale) = (%q, %v)", f, err)
	}
	if _, err := ParseFreshness("dead"); !errors.Is(err, ErrUnknownFreshness) {
		t.Errorf("ParseFreshness(dead) error = %v, want ErrUnknownFreshness", err)
	}
}
