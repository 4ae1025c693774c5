package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Default pull cadences.
const (
	DefaultFastInterval = 3 * time.Second
	DefaultSlowInterval = 30 * time.Second
)

// PollState describes the pull adapter's current schedule.
type PollState struct {
	Route    string        `json:"route"`
	Interval time.Duration `json:"interval"`
	Running  bool          `json:"running"`
}

// PullAdapter periodically fetches the bulk listing and forwards every
// record to its sink.
//
// Each (re)start fetches once immediately and then on every tick. Ticks run
// sequentially on one goroutine; a failed or timed-out fetch is logged and
// the next tick proceeds normally.
type PullAdapter struct {
	fetcher RecordFetcher
	clock   Clock

	mu       sync.Mutex
	sink     Sink
	logger   Logger
	metrics  *Metrics
	route    string
	interval time.Duration
	running  bool
	cancel   context.CancelFunc
}

// NewPullAdapter creates a stopped adapter.
func NewPullAdapter(fetcher RecordFetcher, clock Clock) *PullAdapter {
	if clock == nil {
		clock = RealClock()
	}
	return &PullAdapter{
		fetcher: fetcher,
		clock:   clock,
		logger:  noopLogger{},
	}
}

// SetSink sets the receiver of fetched records.
func (p *PullAdapter) SetSink(sink Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
}

// SetLogger sets the adapter logger.
func (p *PullAdapter) SetLogger(logger Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	p.logger = logger
}

// SetMetrics attaches metrics collectors.
func (p *PullAdapter) SetMetrics(m *Metrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = m
}

// StartPoll (re)starts polling for route at interval.
//
// It is idempotent: when the adapter is already polling the same route at
// the same interval nothing happens and no extra fetch is made. Otherwise
// the running schedule is replaced.
//
// Parameters:
//   - ctx: Lifetime of the polling goroutine
//   - route: Consumer scope label
//   - interval: Time between fetches
//
// Returns:
//   - bool: true if a new schedule was started
//   - error: ErrInvalidInterval for non-positive intervals
func (p *PullAdapter) StartPoll(ctx context.Context, route string, interval time.Duration) (bool, error) {
	if interval <= 0 {
		return false, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running && p.route == route && p.interval == interval {
		return false, nil
	}
	p.stopLocked()

	runCtx, cancel := context.WithCancel(ctx)
	p.route = route
	p.interval = interval
	p.running = true
	p.cancel = cancel
	p.metrics.setPullInterval(interval.Seconds())
	p.logger.Debug("pull schedule started", "route", route, "interval", interval.String())

	go p.run(runCtx, interval)
	return true, nil
}

// Stop cancels the schedule. A fetch in flight is abandoned and its result
// discarded.
func (p *PullAdapter) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		p.logger.Debug("pull schedule stopped", "route", p.route)
	}
	p.stopLocked()
}

func (p *PullAdapter) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.running = false
	p.metrics.setPullInterval(0)
}

// State returns the current schedule.
func (p *PullAdapter) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PollState{Route: p.route, Interval: p.interval, Running: p.running}
}

func (p *PullAdapter) run(ctx context.Context, interval time.Duration) {
	ticker := p.clock.Ticker(interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.tick(ctx)
		}
	}
}

// tick performs one fetch and forwards the records unless the schedule was
// canceled meanwhile.
func (p *PullAdapter) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	records, err := p.fetcher.FetchRecords(ctx)

	p.mu.Lock()
	sink := p.sink
	logger := p.logger
	metrics := p.metrics
	p.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	metrics.observeFetch(err)
	if err != nil {
		logger.Warn("bulk fetch failed", "error", err)
		return
	}
	if sink != nil {
		sink.IngestMany(SourcePull, records)
	}
}
