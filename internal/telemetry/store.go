package telemetry

import (
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/meterhub-core/internal/meter"
)

// Source identifies which adapter produced an observation.
type Source string

// Observation sources.
const (
	SourcePush Source = "push"
	SourcePull Source = "pull"
)

// IdentityFunc derives the store key for a raw record.
type IdentityFunc func(raw map[string]any) string

// entry is the stored state of one device.
type entry struct {
	raw      map[string]any
	result   meter.Result
	lastSeen time.Time
	source   Source
}

// Store holds the latest observation per device identity.
//
// Merge is last-write-wins by arrival time at the store; payload timestamps
// are ignored. Entries are created on first observation and never removed:
// a silent device ages into offline and stays queryable.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	clock      Clock
	thresholds meter.Thresholds
	logger     Logger
	metrics    *Metrics
}

// NewStore creates an empty store.
//
// Parameters:
//   - clock: Time source for arrival stamps and freshness
//   - thresholds: Freshness thresholds applied by Snapshots
func NewStore(clock Clock, thresholds meter.Thresholds) *Store {
	if clock == nil {
		clock = RealClock()
	}
	return &Store{
		entries:    make(map[string]*entry),
		clock:      clock,
		thresholds: thresholds,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger used for normalization diagnostics.
func (s *Store) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// SetMetrics attaches metrics collectors. A nil value disables metrics.
func (s *Store) SetMetrics(m *Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// Upsert normalizes raw and stores it under identity, stamping the current
// time as last seen. The caller's map is copied, never retained.
//
// An empty identity is ignored and reported as false.
func (s *Store) Upsert(identity string, raw map[string]any, source Source) bool {
	if identity == "" {
		return false
	}

	cpy := meter.CloneRaw(raw)
	res := meter.NormalizeResult(cpy)
	res.Snapshot.Identity = identity

	s.mu.Lock()
	now := s.clock.Now()
	s.entries[identity] = &entry{
		raw:      cpy,
		result:   res,
		lastSeen: now,
		source:   source,
	}
	logger := s.logger
	metrics := s.metrics
	s.mu.Unlock()

	metrics.observeUpsert(source, res.Strategy)
	if len(res.Issues) > 0 {
		logger.Debug("normalization issues",
			"identity", identity,
			"source", string(source),
			"issues", issueStrings(res.Issues),
		)
	}
	return true
}

// UpsertMany upserts every record whose derived identity is non-empty.
// Records without identity are dropped silently.
//
// Returns:
//   - int: Number of records stored
func (s *Store) UpsertMany(raws []map[string]any, identityFn IdentityFunc, source Source) int {
	if identityFn == nil {
		identityFn = meter.Identity
	}
	stored := 0
	for _, raw := range raws {
		if s.Upsert(identityFn(raw), raw, source) {
			stored++
		}
	}
	if dropped := len(raws) - stored; dropped > 0 {
		s.mu.RLock()
		metrics := s.metrics
		s.mu.RUnlock()
		metrics.observeDropped(source, dropped)
	}
	return stored
}

// Snapshots returns every stored device with freshness evaluated now.
// The result is sorted by identity and owned by the caller.
func (s *Store) Snapshots() []meter.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	out := make([]meter.Snapshot, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.result.Snapshot.Annotate(e.lastSeen, now, s.thresholds))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Snapshot returns one device, freshness evaluated now.
func (s *Store) Snapshot(identity string) (meter.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[identity]
	if !ok {
		return meter.Snapshot{}, false
	}
	return e.result.Snapshot.Annotate(e.lastSeen, s.clock.Now(), s.thresholds), true
}

// Raw returns a copy of the latest raw record for identity.
func (s *Store) Raw(identity string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[identity]
	if !ok {
		return nil, false
	}
	return meter.CloneRaw(e.raw), true
}

// Freshness classifies identity now. Unknown identities are offline.
func (s *Store) Freshness(identity string) meter.Freshness {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[identity]
	if !ok {
		return meter.FreshnessOffline
	}
	return s.thresholds.Classify(e.lastSeen, s.clock.Now())
}

// CountByFreshness tallies devices per freshness level now.
func (s *Store) CountByFreshness() map[meter.Freshness]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	counts := map[meter.Freshness]int{
		meter.FreshnessOnline:  0,
		meter.FreshnessStale:   0,
		meter.FreshnessOffline: 0,
	}
	for _, e := range s.entries {
		counts[s.thresholds.Classify(e.lastSeen, now)]++
	}
	return counts
}

// Len returns the number of known devices.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func issueStrings(issues []meter.Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.String()
	}
	return out
}
