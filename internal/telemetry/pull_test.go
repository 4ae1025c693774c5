package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const pollEvery = 5 * time.Millisecond

func startedPull(t *testing.T, interval time.Duration) (*PullAdapter, *fakeClock, *fakeFetcher, *recordingSink) {
	t.Helper()
	clock := newFakeClock()
	fetcher := &fakeFetcher{records: []map[string]any{nestedRecord("th/a/1", 1)}}
	sink := &recordingSink{}
	pull := NewPullAdapter(fetcher, clock)
	pull.SetSink(sink)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(pull.Stop)

	started, err := pull.StartPoll(ctx, "dashboard", interval)
	require.NoError(t, err)
	require.True(t, started)

	require.Eventually(t, func() bool {
		return fetcher.Calls() == 1 && clock.activeTickers() == 1
	}, waitFor, pollEvery, "immediate fetch on start")
	return pull, clock, fetcher, sink
}

func TestPullAdapter_StartPollIsIdempotent(t *testing.T) {
	pull, _, fetcher, _ := startedPull(t, 3*time.Second)

	started, err := pull.StartPoll(context.Background(), "dashboard", 3*time.Second)
	require.NoError(t, err)
	assert.False(t, started)

	assert.Never(t, func() bool { return fetcher.Calls() > 1 }, 50*time.Millisecond, pollEvery)
}

func TestPullAdapter_TicksAtInterval(t *testing.T) {
	_, clock, fetcher, sink := startedPull(t, 3*time.Second)

	clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool { return fetcher.Calls() == 2 }, waitFor, pollEvery)
	require.Eventually(t, func() bool { return sink.batches() == 2 }, waitFor, pollEvery)
}

func TestPullAdapter_IntervalChangeRestarts(t *testing.T) {
	pull, _, fetcher, _ := startedPull(t, 3*time.Second)

	started, err := pull.StartPoll(context.Background(), "dashboard", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, PollState{Route: "dashboard", Interval: 30 * time.Second, Running: true}, pull.State())

	require.Eventually(t, func() bool { return fetcher.Calls() == 2 }, waitFor, pollEvery)
}

func TestPullAdapter_FailuresAreSwallowed(t *testing.T) {
	_, clock, fetcher, sink := startedPull(t, 3*time.Second)
	fetcher.set(nil, errors.New("backend down"))

	clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool { return fetcher.Calls() == 2 }, waitFor, pollEvery)
	assert.Equal(t, 1, sink.batches())

	fetcher.set([]map[string]any{nestedRecord("th/a/1", 2)}, nil)
	clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool { return sink.batches() == 2 }, waitFor, pollEvery)
}

func TestPullAdapter_StopCancelsTicker(t *testing.T) {
	pull, clock, fetcher, _ := startedPull(t, 3*time.Second)

	pull.Stop()
	assert.False(t, pull.State().Running)
	require.Eventually(t, func() bool { return clock.activeTickers() == 0 }, waitFor, pollEvery)

	clock.Advance(10 * time.Second)
	assert.Never(t, func() bool { return fetcher.Calls() > 1 }, 50*time.Millisecond, pollEvery)
}

func TestPullAdapter_RejectsNonPositiveInterval(t *testing.T) {
	pull := NewPullAdapter(&fakeFetcher{}, newFakeClock())
	_, err := pull.StartPoll(context.Background(), "dashboard", 0)
	assert.ErrorIs(t, err, ErrInvalidInterval)
}
