package telemetry

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/meterhub-core/internal/meter"
)

const metricsNamespace = "meterhub"

// Metrics holds the Prometheus collectors of the telemetry engine.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	pushMessages     *prometheus.CounterVec
	records          *prometheus.CounterVec
	droppedRecords   *prometheus.CounterVec
	pullFetches      *prometheus.CounterVec
	pullInterval     prometheus.Gauge
	pushState        *prometheus.GaugeVec
	emissions        prometheus.Counter
	consumerFailures *prometheus.CounterVec
	consumers        prometheus.Gauge

	mu     sync.Mutex
	stores []*Store
}

// NewMetrics creates the collectors and registers them with reg.
//
// Parameters:
//   - reg: Registry to register with (prometheus.NewRegistry() in tests)
//
// Returns:
//   - *Metrics: Registered collectors
//   - error: If registration fails (for example duplicate registration)
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		pushMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "push_messages_total",
			Help:      "Push messages received, by outcome.",
		}, []string{"result"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_normalized_total",
			Help:      "Records stored, by source and winning extraction strategy.",
		}, []string{"source", "strategy"}),
		droppedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_dropped_total",
			Help:      "Records dropped for lack of identity, by source.",
		}, []string{"source"}),
		pullFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pull_fetches_total",
			Help:      "Bulk fetches, by outcome.",
		}, []string{"result"}),
		pullInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pull_interval_seconds",
			Help:      "Current bulk poll interval; zero when polling is stopped.",
		}),
		pushState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "push_state",
			Help:      "1 for the current push connectivity state, 0 otherwise.",
		}, []string{"state"}),
		emissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "emissions_total",
			Help:      "Batched snapshot deliveries.",
		}),
		consumerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "consumer_failures_total",
			Help:      "Consumer callbacks that panicked, by route.",
		}, []string{"route"}),
		consumers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "consumers",
			Help:      "Registered snapshot consumers.",
		}),
	}

	collectors := []prometheus.Collector{
		m.pushMessages, m.records, m.droppedRecords, m.pullFetches, m.pullInterval,
		m.pushState, m.emissions, m.consumerFailures, m.consumers,
		&deviceCollector{metrics: m},
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// TrackStore adds a store to the per-freshness device gauge.
func (m *Metrics) TrackStore(s *Store) {
	if m == nil || s == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores = append(m.stores, s)
}

func (m *Metrics) observePush(result string) {
	if m == nil {
		return
	}
	m.pushMessages.WithLabelValues(result).Inc()
}

func (m *Metrics) observeUpsert(source Source, strategy meter.StrategyKind) {
	if m == nil {
		return
	}
	label := string(strategy)
	if label == "" {
		label = "none"
	}
	m.records.WithLabelValues(string(source), label).Inc()
}

func (m *Metrics) observeDropped(source Source, n int) {
	if m == nil {
		return
	}
	m.droppedRecords.WithLabelValues(string(source)).Add(float64(n))
}

func (m *Metrics) observeFetch(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.pullFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) setPullInterval(seconds float64) {
	if m == nil {
		return
	}
	m.pullInterval.Set(seconds)
}

func (m *Metrics) setPushState(state PushState) {
	if m == nil {
		return
	}
	for _, s := range allPushStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.pushState.WithLabelValues(string(s)).Set(v)
	}
}

func (m *Metrics) observeEmission() {
	if m == nil {
		return
	}
	m.emissions.Inc()
}

func (m *Metrics) observeConsumerFailure(route string) {
	if m == nil {
		return
	}
	m.consumerFailures.WithLabelValues(route).Inc()
}

func (m *Metrics) setConsumers(n int) {
	if m == nil {
		return
	}
	m.consumers.Set(float64(n))
}

// deviceCollector reports device counts per freshness at scrape time so
// the gauge ages with the clock rather than with mutations.
type deviceCollector struct {
	metrics *Metrics
}

var devicesDesc = prometheus.NewDesc(
	prometheus.BuildFQName(metricsNamespace, "", "devices"),
	"Known devices, by freshness.",
	[]string{"freshness", "store"}, nil,
)

func (c *deviceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- devicesDesc
}

func (c *deviceCollector) Collect(ch chan<- prometheus.Metric) {
	c.metrics.mu.Lock()
	stores := append([]*Store(nil), c.metrics.stores...)
	c.metrics.mu.Unlock()

	for i, s := range stores {
		for freshness, n := range s.CountByFreshness() {
			ch <- prometheus.MustNewConstMetric(devicesDesc, prometheus.GaugeValue,
				float64(n), string(freshness), strconv.Itoa(i))
		}
	}
}
