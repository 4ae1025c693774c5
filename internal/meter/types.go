package meter

import (
	"encoding/json"
	"time"
)

// Term identifies the side of the meter a channel measures.
type Term string

// Channel terms.
const (
	TermIn  Term = "in"
	TermOut Term = "out"
)

// Phase identifies the electrical phase of a channel.
type Phase string

// Supported phases.
const (
	PhaseL1 Phase = "L1"
	PhaseL2 Phase = "L2"
	PhaseL3 Phase = "L3"
)

// Terms lists terms in emission order.
var Terms = []Term{TermIn, TermOut}

// Phases lists phases in emission order.
var Phases = []Phase{PhaseL1, PhaseL2, PhaseL3}

// ChannelRecord is one term/phase measurement of a device.
//
// The four metrics are optional individually, but a normalized channel
// always carries at least one of them. Fields holds the source fields of
// the channel verbatim so that consumers can still read vendor-specific
// keys (for example "a" or "kw").
type ChannelRecord struct {
	Term        Term
	Phase       Phase
	Current     *float64
	Voltage     *float64
	PowerKW     *float64
	PowerFactor *float64
	Fields      map[string]any
}

// HasMetric reports whether at least one metric is set.
func (c ChannelRecord) HasMetric() bool {
	return c.Current != nil || c.Voltage != nil || c.PowerKW != nil || c.PowerFactor != nil
}

// Clone returns a copy that shares no mutable state with c.
func (c ChannelRecord) Clone() ChannelRecord {
	cpy := c
	cpy.Current = cloneFloat(c.Current)
	cpy.Voltage = cloneFloat(c.Voltage)
	cpy.PowerKW = cloneFloat(c.PowerKW)
	cpy.PowerFactor = cloneFloat(c.PowerFactor)
	cpy.Fields = deepCopyMap(c.Fields)
	return cpy
}

// MarshalJSON flattens the verbatim fields and the canonical keys into one
// object. Canonical keys win over source fields of the same name.
func (c ChannelRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Fields)+6)
	for k, v := range c.Fields {
		out[k] = v
	}
	out["term"] = c.Term
	out["phase"] = c.Phase
	if c.Current != nil {
		out["current"] = *c.Current
	}
	if c.Voltage != nil {
		out["voltage"] = *c.Voltage
	}
	if c.PowerKW != nil {
		out["power_kw"] = *c.PowerKW
	}
	if c.PowerFactor != nil {
		out["power_factor"] = *c.PowerFactor
	}
	return json.Marshal(out)
}

// Snapshot is the canonical, consumer-facing view of one device.
//
// LastSeenAt and Freshness are only meaningful once the snapshot has passed
// through a store; a snapshot produced by Normalize alone is offline.
type Snapshot struct {
	Identity     string          `json:"identity"`
	DisplayName  string          `json:"display_name"`
	ShortName    string          `json:"short_name"`
	Parts        []string        `json:"parts,omitempty"`
	Channels     []ChannelRecord `json:"channels"`
	ChannelCount int             `json:"channel_count"`
	SummaryValue *float64        `json:"summary_value"`
	LastSeenAt   *time.Time      `json:"last_seen_at"`
	AgeMS        *int64          `json:"age_ms,omitempty"`
	Freshness    Freshness       `json:"freshness"`
}

// Channel returns the channel for the given term and phase, if present.
func (s Snapshot) Channel(term Term, phase Phase) (ChannelRecord, bool) {
	for _, ch := range s.Channels {
		if ch.Term == term && ch.Phase == phase {
			return ch, true
		}
	}
	return ChannelRecord{}, false
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	cpy := s
	if s.Parts != nil {
		cpy.Parts = append([]string(nil), s.Parts...)
	}
	cpy.Channels = make([]ChannelRecord, len(s.Channels))
	for i, ch := range s.Channels {
		cpy.Channels[i] = ch.Clone()
	}
	cpy.SummaryValue = cloneFloat(s.SummaryValue)
	if s.LastSeenAt != nil {
		t := *s.LastSeenAt
		cpy.LastSeenAt = &t
	}
	if s.AgeMS != nil {
		a := *s.AgeMS
		cpy.AgeMS = &a
	}
	return cpy
}

// Annotate returns a copy of s stamped with arrival time and the freshness
// classification at now.
func (s Snapshot) Annotate(lastSeen, now time.Time, th Thresholds) Snapshot {
	out := s.Clone()
	out.Freshness = th.Classify(lastSeen, now)
	if lastSeen.IsZero() {
		out.LastSeenAt = nil
		out.AgeMS = nil
		return out
	}
	seen := lastSeen
	age := now.Sub(lastSeen).Milliseconds()
	if age < 0 {
		age = 0
	}
	out.LastSeenAt = &seen
	out.AgeMS = &age
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}

// CloneRaw returns a deep copy of a raw payload map.
func CloneRaw(raw map[string]any) map[string]any {
	return deepCopyMap(raw)
}
