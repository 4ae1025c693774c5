package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/meterhub-core/internal/meter"
)

func TestStore_UnknownIdentityIsOffline(t *testing.T) {
	store := NewStore(newFakeClock(), meter.DefaultThresholds())

	assert.Equal(t, meter.FreshnessOffline, store.Freshness("th/nowhere/1"))
	_, ok := store.Snapshot("th/nowhere/1")
	assert.False(t, ok)
}

func TestStore_UpsertAndFreshnessAging(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(clock, meter.DefaultThresholds())
	id := "th/site001/pg46/001"

	require.True(t, store.Upsert(id, nestedRecord(id, 12.3), SourcePush))

	snap, ok := store.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, meter.FreshnessOnline, snap.Freshness)
	require.NotNil(t, snap.LastSeenAt)
	assert.Equal(t, clock.Now(), *snap.LastSeenAt)

	clock.Advance(8 * time.Second)
	assert.Equal(t, meter.FreshnessStale, store.Freshness(id))

	clock.Advance(7 * time.Second)
	assert.Equal(t, meter.FreshnessOffline, store.Freshness(id))

	// Offline devices stay queryable.
	assert.Len(t, store.Snapshots(), 1)
}

func TestStore_LastWriteWinsByArrival(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(clock, meter.DefaultThresholds())
	id := "th/site001/pg46/001"

	store.Upsert(id, nestedRecord(id, 1), SourcePush)
	clock.Advance(time.Second)

	// The pull record carries an older payload timestamp; arrival order wins.
	pulled := nestedRecord(id, 2)
	pulled["ts"] = "2020-01-01T00:00:00Z"
	store.UpsertMany([]map[string]any{pulled}, meter.Identity, SourcePull)

	snap, ok := store.Snapshot(id)
	require.True(t, ok)
	require.NotNil(t, snap.SummaryValue)
	assert.Equal(t, 2.0, *snap.SummaryValue)
	assert.Equal(t, meter.FreshnessOnline, snap.Freshness)
	assert.Equal(t, clock.Now(), *snap.LastSeenAt)
	assert.Equal(t, 1, store.Len())
}

func TestStore_UpsertManyDropsRecordsWithoutIdentity(t *testing.T) {
	store := NewStore(newFakeClock(), meter.DefaultThresholds())

	n := store.UpsertMany([]map[string]any{
		nestedRecord("a/b/1", 1),
		{"kw": 3.0},
		{"device_name": "Pump"},
	}, nil, SourcePull)

	assert.Equal(t, 2, n)
	assert.Equal(t, 2, store.Len())
}

func TestStore_EmptyIdentityIgnored(t *testing.T) {
	store := NewStore(newFakeClock(), meter.DefaultThresholds())
	assert.False(t, store.Upsert("", nestedRecord("a/b", 1), SourcePush))
	assert.Equal(t, 0, store.Len())
}

func TestStore_DoesNotRetainCallerMap(t *testing.T) {
	store := NewStore(newFakeClock(), meter.DefaultThresholds())
	raw := nestedRecord("a/b/c", 5)

	store.Upsert("a/b/c", raw, SourcePush)
	raw["in"].(map[string]any)["L1"].(map[string]any)["a"] = 99.0

	snap, _ := store.Snapshot("a/b/c")
	require.NotNil(t, snap.SummaryValue)
	assert.Equal(t, 5.0, *snap.SummaryValue)

	stored, ok := store.Raw("a/b/c")
	require.True(t, ok)
	assert.Equal(t, 5.0, stored["in"].(map[string]any)["L1"].(map[string]any)["a"])
}

func TestStore_SnapshotsSortedAndFreshEachCall(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(clock, meter.DefaultThresholds())

	store.Upsert("b/2", nestedRecord("b/2", 1), SourcePush)
	store.Upsert("a/1", nestedRecord("a/1", 1), SourcePush)

	first := store.Snapshots()
	require.Len(t, first, 2)
	assert.Equal(t, "a/1", first[0].Identity)
	assert.Equal(t, meter.FreshnessOnline, first[0].Freshness)

	clock.Advance(20 * time.Second)
	second := store.Snapshots()
	assert.Equal(t, meter.FreshnessOffline, second[0].Freshness)
	assert.Equal(t, meter.FreshnessOnline, first[0].Freshness, "earlier result must not change")

	counts := store.CountByFreshness()
	assert.Equal(t, 2, counts[meter.FreshnessOffline])
	assert.Equal(t, 0, counts[meter.FreshnessOnline])
}
