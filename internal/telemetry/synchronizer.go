package telemetry

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/meterhub-core/internal/meter"
)

// PushState is the synchronizer's view of push connectivity.
type PushState string

// Push connectivity states.
const (
	StateNoPush         PushState = "no_push"
	StatePushConnecting PushState = "push_connecting"
	StatePushConnected  PushState = "push_connected"
	StatePushDegraded   PushState = "push_degraded"
)

var allPushStates = []PushState{StateNoPush, StatePushConnecting, StatePushConnected, StatePushDegraded}

// Signal is the short connectivity indicator shown to operators.
type Signal string

// Connectivity signals.
const (
	SignalConnected    Signal = "connected"
	SignalReconnecting Signal = "reconnecting"
	SignalOffline      Signal = "offline"
)

// ServiceRoute scopes the pull schedule while no live consumer is
// registered. The service's own read surfaces depend on it.
const ServiceRoute = "service"

// DefaultGraceWindow is how long push may stay degraded before operators
// are notified.
const DefaultGraceWindow = 5 * time.Second

// Config holds the synchronizer timings.
type Config struct {
	FastInterval time.Duration
	SlowInterval time.Duration
	GraceWindow  time.Duration
	Debounce     time.Duration
	Thresholds   meter.Thresholds
	LiveRoutes   []string
}

// DefaultConfig returns 3s/30s polling, a 5s grace window, 200ms debounce
// and 8s/15s freshness.
func DefaultConfig() Config {
	return Config{
		FastInterval: DefaultFastInterval,
		SlowInterval: DefaultSlowInterval,
		GraceWindow:  DefaultGraceWindow,
		Debounce:     DefaultDebounce,
		Thresholds:   meter.DefaultThresholds(),
		LiveRoutes:   append([]string(nil), DefaultLiveRoutes...),
	}
}

// Validate checks the timings.
func (c Config) Validate() error {
	if c.FastInterval <= 0 || c.SlowInterval <= 0 {
		return ErrInvalidInterval
	}
	if c.GraceWindow <= 0 {
		return fmt.Errorf("telemetry: grace window must be positive")
	}
	return c.Thresholds.Validate()
}

// Notice is delivered when push stays degraded past the grace window.
type Notice struct {
	State   PushState `json:"state"`
	Since   time.Time `json:"since"`
	Message string    `json:"message"`
	Error   string    `json:"error,omitempty"`
}

// Notifier receives degraded-connectivity notices.
type Notifier interface {
	NotifyDegraded(notice Notice)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(notice Notice)

// NotifyDegraded implements Notifier.
func (f NotifierFunc) NotifyDegraded(notice Notice) { f(notice) }

// Status is a point-in-time view of the synchronizer.
type Status struct {
	State     PushState `json:"state"`
	Signal    Signal    `json:"signal"`
	Since     time.Time `json:"since"`
	LastError string    `json:"last_error,omitempty"`
	Notified  bool      `json:"notified"`
	Poll      PollState `json:"poll"`
	Consumers int       `json:"consumers"`
	Devices   int       `json:"devices"`
}

// Deps are the collaborators of a Synchronizer.
type Deps struct {
	// Fetcher is required.
	Fetcher RecordFetcher

	// Transport is optional; without it the synchronizer runs pull-only.
	Transport Transport
	Push      PushConfig

	Clock    Clock
	Logger   Logger
	Metrics  *Metrics
	Notifier Notifier
}

// Synchronizer reconciles the push and pull sources into one store and
// delivers coalesced snapshots to registered consumers.
//
// Pull cadence follows push health: slow while push is connected, fast
// otherwise. Polling runs from Start to Stop; a live consumer only rescopes
// it to its route. Pending emissions exist only while at least one consumer
// on a live route is registered.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Consumers and notifiers are called without internal locks held.
type Synchronizer struct {
	cfg       Config
	clock     Clock
	logger    Logger
	metrics   *Metrics
	notifier  Notifier
	store     *Store
	scheduler *Scheduler
	pull      *PullAdapter
	push      *PushAdapter
	live      map[string]bool

	mu          sync.Mutex
	ctx         context.Context
	started     bool
	state       PushState
	signal      Signal
	since       time.Time
	lastErr     string
	graceTimer  Timer
	graceGen    uint64
	notified    bool
	regs        map[uint64]*Registration
	order       []uint64
	nextID      uint64
	activeRoute string
	listeners   []func(Status)
}

// New builds a Synchronizer and its store, scheduler and adapters.
//
// Parameters:
//   - cfg: Timings; see DefaultConfig
//   - deps: Collaborators; Fetcher is required
//
// Returns:
//   - *Synchronizer: Ready to Start
//   - error: If cfg is invalid or a required dependency is missing
func New(cfg Config, deps Deps) (*Synchronizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher", ErrMissingDependency)
	}
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	if len(cfg.LiveRoutes) == 0 {
		cfg.LiveRoutes = append([]string(nil), DefaultLiveRoutes...)
	}

	s := &Synchronizer{
		cfg:      cfg,
		clock:    deps.Clock,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		notifier: deps.Notifier,
		live:     make(map[string]bool, len(cfg.LiveRoutes)),
		state:    StateNoPush,
		signal:   SignalOffline,
		since:    deps.Clock.Now(),
		regs:     make(map[uint64]*Registration),
	}
	for _, r := range cfg.LiveRoutes {
		s.live[r] = true
	}

	s.store = NewStore(deps.Clock, cfg.Thresholds)
	s.store.SetLogger(deps.Logger)
	s.store.SetMetrics(deps.Metrics)
	deps.Metrics.TrackStore(s.store)

	s.scheduler = NewScheduler(deps.Clock, s.store, cfg.Debounce)

	s.pull = NewPullAdapter(deps.Fetcher, deps.Clock)
	s.pull.SetSink(s)
	s.pull.SetLogger(deps.Logger)
	s.pull.SetMetrics(deps.Metrics)

	if deps.Transport != nil {
		s.push = NewPushAdapter(deps.Transport, deps.Push, deps.Clock)
		s.push.SetLogger(deps.Logger)
		s.push.SetMetrics(deps.Metrics)
	}

	deps.Metrics.setPushState(StateNoPush)
	return s, nil
}

// Start begins polling and attaches the push transport. ctx bounds all
// background work.
//
// A subscribe failure is not fatal: it degrades push and the pull adapter
// takes over at the fast cadence.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.ctx = ctx
	s.startPollLocked()
	s.mu.Unlock()

	if s.push != nil {
		if err := s.push.Start(s, s.HandlePushEvent); err != nil {
			s.logger.Warn("push subscription failed, relying on pull", "error", err)
		}
	}
	return nil
}

// Stop cancels polling, pending emissions and the grace timer.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scheduler.Cancel()
	s.pull.Stop()
	s.stopGraceLocked()
	s.started = false
}

// Store exposes the underlying device store for read access.
func (s *Synchronizer) Store() *Store {
	return s.store
}

// Snapshots returns the current snapshots of all devices.
func (s *Synchronizer) Snapshots() []meter.Snapshot {
	return s.store.Snapshots()
}

// Snapshot returns the current snapshot of one device.
func (s *Synchronizer) Snapshot(identity string) (meter.Snapshot, bool) {
	return s.store.Snapshot(identity)
}

// IsLiveRoute reports whether route receives emissions.
func (s *Synchronizer) IsLiveRoute(route string) bool {
	return s.live[route]
}

// AddStatusListener registers a callback for connectivity changes.
func (s *Synchronizer) AddStatusListener(listener func(Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// Status returns the current connectivity and polling status.
func (s *Synchronizer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Synchronizer) statusLocked() Status {
	return Status{
		State:     s.state,
		Signal:    s.signal,
		Since:     s.since,
		LastError: s.lastErr,
		Notified:  s.notified,
		Poll:      s.pull.State(),
		Consumers: len(s.regs),
		Devices:   s.store.Len(),
	}
}

// ---------------------------------------------------------------------------
// Consumer registration
// ---------------------------------------------------------------------------

// Register adds a consumer on route.
//
// Consumers on live routes receive every emission until they unregister.
// The route of the most recent live registration scopes the pull schedule,
// which restarts with an immediate fetch when the route changes.
//
// Parameters:
//   - route: View or sink name, e.g. "dashboard"
//   - consumer: Receiver of batched snapshots
//
// Returns:
//   - *Registration: Handle whose Unregister tears the consumer down
//   - error: ErrNoRoute or ErrNilConsumer
func (s *Synchronizer) Register(route string, consumer Consumer) (*Registration, error) {
	if route == "" {
		return nil, ErrNoRoute
	}
	if consumer == nil {
		return nil, ErrNilConsumer
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	reg := &Registration{
		sync:     s,
		id:       s.nextID,
		route:    route,
		live:     s.live[route],
		consumer: consumer,
	}
	s.regs[reg.id] = reg
	s.order = append(s.order, reg.id)
	s.metrics.setConsumers(len(s.regs))

	if reg.live {
		s.activeRoute = route
		s.startPollLocked()
	}
	s.logger.Debug("consumer registered", "route", route, "live", reg.live)
	return reg, nil
}

func (s *Synchronizer) unregister(reg *Registration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.regs[reg.id]; !ok {
		return
	}
	delete(s.regs, reg.id)
	for i, id := range s.order {
		if id == reg.id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.metrics.setConsumers(len(s.regs))

	next := s.latestLiveRouteLocked()
	switch {
	case next == "":
		s.activeRoute = ""
		s.scheduler.Cancel()
		s.startPollLocked()
	case next != s.activeRoute:
		s.activeRoute = next
		s.startPollLocked()
	}
	s.logger.Debug("consumer unregistered", "route", reg.route)
}

func (s *Synchronizer) latestLiveRouteLocked() string {
	for i := len(s.order) - 1; i >= 0; i-- {
		if r := s.regs[s.order[i]]; r != nil && r.live {
			return r.route
		}
	}
	return ""
}

func (s *Synchronizer) hasLiveLocked() bool {
	return s.activeRoute != ""
}

// intervalLocked picks the pull cadence for the current push state.
func (s *Synchronizer) intervalLocked() time.Duration {
	if s.state == StatePushConnected {
		return s.cfg.SlowInterval
	}
	return s.cfg.FastInterval
}

// pollRouteLocked is the route the pull schedule is scoped to.
func (s *Synchronizer) pollRouteLocked() string {
	if s.activeRoute != "" {
		return s.activeRoute
	}
	return ServiceRoute
}

func (s *Synchronizer) startPollLocked() {
	if !s.started {
		return
	}
	if _, err := s.pull.StartPoll(s.ctx, s.pollRouteLocked(), s.intervalLocked()); err != nil {
		s.logger.Error("starting pull schedule", "error", err)
	}
}

// ---------------------------------------------------------------------------
// Ingestion and emission
// ---------------------------------------------------------------------------

// Ingest implements Sink.
func (s *Synchronizer) Ingest(source Source, identity string, raw map[string]any) {
	if !s.store.Upsert(identity, raw, source) {
		return
	}
	s.scheduleEmit()
}

// IngestMany implements Sink.
func (s *Synchronizer) IngestMany(source Source, raws []map[string]any) {
	if s.store.UpsertMany(raws, meter.Identity, source) == 0 {
		return
	}
	s.scheduleEmit()
}

func (s *Synchronizer) scheduleEmit() {
	s.mu.Lock()
	live := s.hasLiveLocked()
	s.mu.Unlock()
	if live {
		s.scheduler.Schedule(s.deliver)
	}
}

// deliver hands snapshots to every live consumer, each with its own copy.
func (s *Synchronizer) deliver(snapshots []meter.Snapshot) {
	s.mu.Lock()
	targets := make([]*Registration, 0, len(s.order))
	for _, id := range s.order {
		if r := s.regs[id]; r != nil && r.live {
			targets = append(targets, r)
		}
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	s.metrics.observeEmission()
	for _, r := range targets {
		s.invoke(r, cloneSnapshots(snapshots))
	}
}

func (s *Synchronizer) invoke(r *Registration, snapshots []meter.Snapshot) {
	defer func() {
		if rec := recover(); rec != nil {
			s.metrics.observeConsumerFailure(r.route)
			s.logger.Error("consumer panic recovered", "route", r.route, "panic", rec)
		}
	}()
	r.consumer.OnSnapshotsAvailable(r.route, snapshots)
}

// ---------------------------------------------------------------------------
// Push connectivity
// ---------------------------------------------------------------------------

// HandlePushEvent applies a push connectivity transition.
//
//   - connected: slow polling, immediate emission, grace timer reset
//   - offline/error: degraded, fast polling, grace timer armed
//   - reconnecting: connecting if push never connected, else unchanged
func (s *Synchronizer) HandlePushEvent(ev PushEvent) {
	s.mu.Lock()
	flush := false

	switch ev.Kind {
	case PushConnected:
		if s.state != StatePushConnected {
			s.since = s.clock.Now()
		}
		s.state = StatePushConnected
		s.signal = SignalConnected
		s.lastErr = ""
		s.stopGraceLocked()
		s.notified = false
		s.startPollLocked()
		flush = s.hasLiveLocked()

	case PushReconnecting:
		if s.state == StateNoPush {
			s.state = StatePushConnecting
			s.since = s.clock.Now()
		}
		s.signal = SignalReconnecting

	case PushOffline, PushError:
		if s.state != StatePushDegraded {
			s.state = StatePushDegraded
			s.since = s.clock.Now()
		}
		s.signal = SignalOffline
		if ev.Err != nil {
			s.lastErr = ev.Err.Error()
		}
		s.startPollLocked()
		s.armGraceLocked()

	default:
		s.mu.Unlock()
		s.logger.Warn("ignoring unknown push event", "kind", string(ev.Kind))
		return
	}

	s.metrics.setPushState(s.state)
	status := s.statusLocked()
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	if flush {
		s.scheduler.Flush(s.deliver)
	}
	for _, l := range listeners {
		l(status)
	}
}

func (s *Synchronizer) armGraceLocked() {
	if s.graceTimer != nil || s.notified {
		return
	}
	s.graceGen++
	gen := s.graceGen
	s.graceTimer = s.clock.AfterFunc(s.cfg.GraceWindow, func() { s.graceExpired(gen) })
}

func (s *Synchronizer) stopGraceLocked() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.graceGen++
}

func (s *Synchronizer) graceExpired(gen uint64) {
	s.mu.Lock()
	if gen != s.graceGen || s.state != StatePushDegraded || s.notified {
		s.mu.Unlock()
		return
	}
	s.graceTimer = nil
	s.notified = true
	notice := Notice{
		State:   s.state,
		Since:   s.since,
		Message: "live telemetry connection lost; falling back to polling",
		Error:   s.lastErr,
	}
	notifier := s.notifier
	status := s.statusLocked()
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	s.logger.Warn("push degraded past grace window",
		"since", notice.Since,
		"error", notice.Error,
	)
	if notifier != nil {
		notifier.NotifyDegraded(notice)
	}
	for _, l := range listeners {
		l(status)
	}
}
