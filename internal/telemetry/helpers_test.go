package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/meterhub-core/internal/meter"
)

// ============================================================================
// Fake clock
// ============================================================================

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Ticker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{clock: c, d: d, next: c.now.Add(d), ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance moves time forward, firing due timers (synchronously) and ticks
// (non-blocking sends) in chronological order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var timer *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.at.After(target) {
				continue
			}
			if timer == nil || t.at.Before(timer.at) {
				timer = t
			}
		}
		var ticker *fakeTicker
		for _, t := range c.tickers {
			if t.stopped || t.next.After(target) {
				continue
			}
			if ticker == nil || t.next.Before(ticker.next) {
				ticker = t
			}
		}

		switch {
		case timer != nil && (ticker == nil || !ticker.next.Before(timer.at)):
			if timer.at.After(c.now) {
				c.now = timer.at
			}
			timer.fired = true
			c.mu.Unlock()
			timer.f()
			c.mu.Lock()
		case ticker != nil:
			if ticker.next.After(c.now) {
				c.now = ticker.next
			}
			ticker.next = ticker.next.Add(ticker.d)
			select {
			case ticker.ch <- c.now:
			default:
			}
		default:
			c.now = target
			c.mu.Unlock()
			return
		}
	}
}

func (c *fakeClock) activeTickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tickers {
		if !t.stopped {
			n++
		}
	}
	return n
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	fired   bool
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type fakeTicker struct {
	clock   *fakeClock
	d       time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func (t *fakeTicker) Chan() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}

// ============================================================================
// Fake fetcher
// ============================================================================

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	records []map[string]any
	err     error
}

func (f *fakeFetcher) FetchRecords(_ context.Context) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]map[string]any, len(f.records))
	for i, r := range f.records {
		out[i] = meter.CloneRaw(r)
	}
	return out, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFetcher) set(records []map[string]any, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = records
	f.err = err
}

// ============================================================================
// Fake transport
// ============================================================================

type fakeTransport struct {
	mu             sync.Mutex
	topic          string
	qos            byte
	handler        func(topic string, payload []byte) error
	onConnect      func()
	onDisconnect   func(error)
	onReconnecting func()
	subscribeErr   error
}

func (f *fakeTransport) Subscribe(topic string, qos byte, handler func(string, []byte) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.topic, f.qos, f.handler = topic, qos, handler
	return nil
}

func (f *fakeTransport) SetOnConnect(cb func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect = cb
}

func (f *fakeTransport) SetOnDisconnect(cb func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnect = cb
}

func (f *fakeTransport) SetOnReconnecting(cb func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onReconnecting = cb
}

func (f *fakeTransport) connect() {
	f.mu.Lock()
	cb := f.onConnect
	f.mu.Unlock()
	cb()
}

func (f *fakeTransport) disconnect(err error) {
	f.mu.Lock()
	cb := f.onDisconnect
	f.mu.Unlock()
	cb(err)
}

func (f *fakeTransport) reconnecting() {
	f.mu.Lock()
	cb := f.onReconnecting
	f.mu.Unlock()
	cb()
}

func (f *fakeTransport) deliver(topic, payload string) error {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	return h(topic, []byte(payload))
}

// ============================================================================
// Recording sink and consumer
// ============================================================================

type recordingSink struct {
	mu     sync.Mutex
	single []map[string]any
	ids    []string
	many   [][]map[string]any
}

func (s *recordingSink) Ingest(_ Source, identity string, raw map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, identity)
	s.single = append(s.single, raw)
}

func (s *recordingSink) IngestMany(_ Source, raws []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.many = append(s.many, raws)
}

func (s *recordingSink) batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.many)
}

type recordingConsumer struct {
	mu         sync.Mutex
	deliveries [][]meter.Snapshot
}

func (c *recordingConsumer) OnSnapshotsAvailable(_ string, snaps []meter.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliveries = append(c.deliveries, snaps)
}

func (c *recordingConsumer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deliveries)
}

func (c *recordingConsumer) last() []meter.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.deliveries) == 0 {
		return nil
	}
	return c.deliveries[len(c.deliveries)-1]
}

func nestedRecord(topic string, current float64) map[string]any {
	return map[string]any{
		"topic": topic,
		"in":    map[string]any{"L1": map[string]any{"a": current}},
	}
}
