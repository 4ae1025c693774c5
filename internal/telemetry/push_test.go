package telemetry

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startPush(t *testing.T, cfg PushConfig) (*PushAdapter, *fakeTransport, *recordingSink, *[]PushEvent) {
	t.Helper()
	transport := &fakeTransport{}
	adapter := NewPushAdapter(transport, cfg, newFakeClock())
	sink := &recordingSink{}
	events := &[]PushEvent{}
	require.NoError(t, adapter.Start(sink, func(ev PushEvent) { *events = append(*events, ev) }))
	return adapter, transport, sink, events
}

func TestPushAdapter_SubscribesWithConfig(t *testing.T) {
	_, transport, _, _ := startPush(t, PushConfig{Topic: "th/#", QoS: 1})
	assert.Equal(t, "th/#", transport.topic)
	assert.Equal(t, byte(1), transport.qos)
}

func TestPushAdapter_ForwardsDecodedPayload(t *testing.T) {
	_, transport, sink, _ := startPush(t, PushConfig{Topic: "th/#"})

	err := transport.deliver("ignored/topic", `{"topic":"th/site001/pg46/001","in":{"L1":{"a":1.5}}}`)
	require.NoError(t, err)

	require.Len(t, sink.ids, 1)
	assert.Equal(t, "th/site001/pg46/001", sink.ids[0])
	assert.Equal(t, "th/site001/pg46/001", sink.single[0]["topic"], "payload topic is preferred")
}

func TestPushAdapter_FallsBackToTransportTopic(t *testing.T) {
	_, transport, sink, _ := startPush(t, PushConfig{Topic: "th/#", StripSuffixes: []string{"meter"}})

	require.NoError(t, transport.deliver("th/site001/pg46/001/meter", `{"L1":2.0}`))

	require.Len(t, sink.ids, 1)
	assert.Equal(t, "th/site001/pg46/001", sink.ids[0])
}

func TestPushAdapter_DropsMalformedFrames(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	adapter, transport, sink, _ := startPush(t, PushConfig{Topic: "th/#"})
	adapter.SetMetrics(metrics)

	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{"topic":`},
		{"array", `[1,2,3]`},
		{"scalar", `42`},
		{"null", `null`},
		{"empty", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, transport.deliver("th/a/b", tt.payload))
		})
	}

	assert.Empty(t, sink.ids)
	assert.Equal(t, float64(len(tests)), testutil.ToFloat64(metrics.pushMessages.WithLabelValues("malformed")))
}

func TestPushAdapter_DropsFramesWithoutIdentity(t *testing.T) {
	_, transport, sink, _ := startPush(t, PushConfig{Topic: "#"})

	require.NoError(t, transport.deliver("", `{"kw":1}`))
	assert.Empty(t, sink.ids)
}

func TestPushAdapter_ReportsTransitions(t *testing.T) {
	_, transport, _, events := startPush(t, PushConfig{Topic: "th/#"})
	lost := errors.New("connection reset")

	transport.reconnecting()
	transport.connect()
	transport.disconnect(lost)

	require.Len(t, *events, 3)
	assert.Equal(t, PushReconnecting, (*events)[0].Kind)
	assert.Equal(t, PushConnected, (*events)[1].Kind)
	assert.Equal(t, PushOffline, (*events)[2].Kind)
	assert.ErrorIs(t, (*events)[2].Err, lost)
}

func TestPushAdapter_SubscribeFailureReportsError(t *testing.T) {
	transport := &fakeTransport{subscribeErr: errors.New("bad filter")}
	adapter := NewPushAdapter(transport, PushConfig{Topic: "th/#"}, newFakeClock())

	var events []PushEvent
	err := adapter.Start(&recordingSink{}, func(ev PushEvent) { events = append(events, ev) })

	require.Error(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, PushError, events[0].Kind)
}

func TestStripTopicSuffix(t *testing.T) {
	tests := []struct {
		topic    string
		suffixes []string
		want     string
	}{
		{"th/site001/pg46/001/meter", []string{"meter"}, "th/site001/pg46/001"},
		{"th/site001/pg46/001/METER", []string{"meter"}, "th/site001/pg46/001"},
		{"th/site001/pg46/001", []string{"meter"}, "th/site001/pg46/001"},
		{"/th/a/meter/", []string{"meter"}, "th/a"},
		{"meter", []string{"meter"}, "meter"},
		{"th/a/status", nil, "th/a/status"},
	}

	for _, tt := range tests {
		if got := StripTopicSuffix(tt.topic, tt.suffixes); got != tt.want {
			t.Errorf("StripTopicSuffix(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}
