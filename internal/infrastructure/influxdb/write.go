package influxdb

import (
	"fmt"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/meterhub-core/internal/meter"
)

// DefaultMeasurement is used when no measurement name is configured.
const DefaultMeasurement = "power"

// Point scopes, stored in the "scope" tag.
const (
	ScopeDevice  = "device"
	ScopeChannel = "channel"
)

// PointWriter accepts points for batched delivery. Client satisfies it.
type PointWriter interface {
	WritePoint(point *write.Point) error
}

// Exporter writes snapshot emissions to InfluxDB.
//
// It is registered as a consumer on a live route. Only devices whose
// last-seen time advanced since the previous emission are written, so
// repeated emissions of an unchanged store add no points. A device whose
// points were refused is written again on the next emission.
//
// Thread Safety:
//   - OnSnapshotsAvailable is safe for concurrent use.
type Exporter struct {
	writer      PointWriter
	measurement string
	siteID      string

	mu       sync.Mutex
	lastSeen map[string]time.Time
	written  int
	refused  int
	lastErr  error
}

// NewExporter creates an exporter.
//
// Parameters:
//   - writer: Destination for points
//   - measurement: Measurement name, DefaultMeasurement when empty
//   - siteID: Value of the "site" tag, omitted when empty
func NewExporter(writer PointWriter, measurement, siteID string) *Exporter {
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	return &Exporter{
		writer:      writer,
		measurement: measurement,
		siteID:      siteID,
		lastSeen:    make(map[string]time.Time),
	}
}

// OnSnapshotsAvailable writes points for snapshots seen since the last call.
func (e *Exporter) OnSnapshotsAvailable(_ string, snaps []meter.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, snap := range snaps {
		if snap.LastSeenAt == nil {
			continue
		}
		seen := *snap.LastSeenAt
		if prev, ok := e.lastSeen[snap.Identity]; ok && !seen.After(prev) {
			continue
		}

		if err := e.writeSnapshot(snap); err != nil {
			e.refused++
			e.lastErr = err
			continue
		}
		e.lastSeen[snap.Identity] = seen
	}
}

func (e *Exporter) writeSnapshot(snap meter.Snapshot) error {
	for _, p := range Points(e.measurement, e.siteID, snap) {
		if err := e.writer.WritePoint(p); err != nil {
			return fmt.Errorf("exporting %s: %w", snap.Identity, err)
		}
		e.written++
	}
	return nil
}

// Written returns the number of points handed to the writer.
func (e *Exporter) Written() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.written
}

// Refused returns how many device exports the writer rejected and the
// most recent rejection.
func (e *Exporter) Refused() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refused, e.lastErr
}

// Points converts a snapshot into one device point plus one point per
// metered channel, all stamped with the snapshot's last-seen time.
//
// A snapshot that was never observed yields no points.
func Points(measurement, siteID string, snap meter.Snapshot) []*write.Point {
	if snap.LastSeenAt == nil {
		return nil
	}
	ts := *snap.LastSeenAt

	tags := func(scope string) map[string]string {
		t := map[string]string{
			"identity": snap.Identity,
			"scope":    scope,
		}
		if siteID != "" {
			t["site"] = siteID
		}
		return t
	}

	deviceFields := map[string]interface{}{
		"channel_count": snap.ChannelCount,
		"freshness":     string(snap.Freshness),
	}
	if snap.SummaryValue != nil {
		deviceFields["summary_value"] = *snap.SummaryValue
	}

	points := make([]*write.Point, 0, len(snap.Channels)+1)
	points = append(points, write.NewPoint(measurement, tags(ScopeDevice), deviceFields, ts))

	for _, ch := range snap.Channels {
		fields := channelFields(ch)
		if len(fields) == 0 {
			continue
		}
		t := tags(ScopeChannel)
		t["term"] = string(ch.Term)
		t["phase"] = string(ch.Phase)
		points = append(points, write.NewPoint(measurement, t, fields, ts))
	}

	return points
}

// channelFields collects the canonical metrics present on a channel.
func channelFields(ch meter.ChannelRecord) map[string]interface{} {
	fields := make(map[string]interface{}, 4)
	if ch.Current != nil {
		fields["current"] = *ch.Current
	}
	if ch.Voltage != nil {
		fields["voltage"] = *ch.Voltage
	}
	if ch.PowerKW != nil {
		fields["power_kw"] = *ch.PowerKW
	}
	if ch.PowerFactor != nil {
		fields["power_factor"] = *ch.PowerFactor
	}
	return fields
}
