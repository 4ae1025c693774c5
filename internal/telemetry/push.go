package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/meterhub-core/internal/meter"
)

// Transport is the publish/subscribe capability the push adapter needs.
// Both the MQTT and NATS clients satisfy it.
//
// Implementations retry connections with their own backoff and report every
// transition through the callbacks. Subscribe may be called before the
// first connection; the subscription is applied once connected and restored
// after every reconnect.
type Transport interface {
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
	SetOnReconnecting(callback func())
}

// PushEventKind is a connectivity transition reported by the push adapter.
type PushEventKind string

// Push event kinds.
const (
	PushConnected    PushEventKind = "connected"
	PushReconnecting PushEventKind = "reconnecting"
	PushOffline      PushEventKind = "offline"
	PushError        PushEventKind = "error"
)

// PushEvent describes one connectivity transition.
type PushEvent struct {
	Kind PushEventKind
	Err  error
	At   time.Time
}

// Sink receives observations from the adapters.
type Sink interface {
	Ingest(source Source, identity string, raw map[string]any)
	IngestMany(source Source, raws []map[string]any)
}

// PushConfig configures the push adapter.
type PushConfig struct {
	// Topic is the subscription filter, e.g. "th/#".
	Topic string

	// QoS is the subscription quality of service.
	QoS byte

	// StripSuffixes lists trailing topic segments that name the message
	// type rather than the device, e.g. "meter".
	StripSuffixes []string
}

// PushAdapter decodes messages from a Transport into store observations
// and reports connectivity transitions.
//
// Malformed frames (non-JSON or non-object payloads) and frames without a
// derivable identity are dropped silently.
type PushAdapter struct {
	transport Transport
	cfg       PushConfig
	clock     Clock

	mu      sync.RWMutex
	sink    Sink
	onEvent func(PushEvent)
	logger  Logger
	metrics *Metrics
}

// NewPushAdapter creates an adapter over transport.
func NewPushAdapter(transport Transport, cfg PushConfig, clock Clock) *PushAdapter {
	if clock == nil {
		clock = RealClock()
	}
	return &PushAdapter{
		transport: transport,
		cfg:       cfg,
		clock:     clock,
		logger:    noopLogger{},
	}
}

// SetLogger sets the adapter logger.
func (p *PushAdapter) SetLogger(logger Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	p.logger = logger
}

// SetMetrics attaches metrics collectors.
func (p *PushAdapter) SetMetrics(m *Metrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = m
}

// Start wires the transport callbacks and subscribes.
//
// A subscribe failure is reported as a PushError event as well as returned;
// the transport keeps retrying the connection either way.
//
// Parameters:
//   - sink: Receiver of decoded observations
//   - onEvent: Receiver of connectivity transitions
func (p *PushAdapter) Start(sink Sink, onEvent func(PushEvent)) error {
	p.mu.Lock()
	p.sink = sink
	p.onEvent = onEvent
	p.mu.Unlock()

	p.transport.SetOnConnect(func() { p.emit(PushConnected, nil) })
	p.transport.SetOnDisconnect(func(err error) { p.emit(PushOffline, err) })
	p.transport.SetOnReconnecting(func() { p.emit(PushReconnecting, nil) })

	if err := p.transport.Subscribe(p.cfg.Topic, p.cfg.QoS, p.handleMessage); err != nil {
		err = fmt.Errorf("subscribing to %q: %w", p.cfg.Topic, err)
		p.emit(PushError, err)
		return err
	}
	return nil
}

func (p *PushAdapter) emit(kind PushEventKind, err error) {
	p.mu.RLock()
	onEvent := p.onEvent
	logger := p.logger
	p.mu.RUnlock()

	if err != nil {
		logger.Warn("push transport state change", "state", string(kind), "error", err)
	} else {
		logger.Info("push transport state change", "state", string(kind))
	}
	if onEvent != nil {
		onEvent(PushEvent{Kind: kind, Err: err, At: p.clock.Now()})
	}
}

// handleMessage decodes one frame and forwards it to the sink.
func (p *PushAdapter) handleMessage(topic string, payload []byte) error {
	p.mu.RLock()
	sink := p.sink
	logger := p.logger
	metrics := p.metrics
	p.mu.RUnlock()

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil || raw == nil {
		metrics.observePush("malformed")
		logger.Debug("dropping malformed push frame", "topic", topic, "bytes", len(payload))
		return nil
	}

	if _, ok := raw["topic"]; !ok {
		if t := StripTopicSuffix(topic, p.cfg.StripSuffixes); t != "" {
			raw["topic"] = t
		}
	}

	identity := meter.Identity(raw)
	if identity == "" {
		metrics.observePush("no_identity")
		logger.Debug("dropping push frame without identity", "topic", topic)
		return nil
	}

	metrics.observePush("accepted")
	if sink != nil {
		sink.Ingest(SourcePush, identity, raw)
	}
	return nil
}

// StripTopicSuffix removes one trailing segment when it names a message
// type. "th/site001/pg46/001/meter" becomes "th/site001/pg46/001".
func StripTopicSuffix(topic string, suffixes []string) string {
	topic = strings.Trim(topic, "/")
	i := strings.LastIndex(topic, "/")
	if i < 0 {
		return topic
	}
	last := topic[i+1:]
	for _, s := range suffixes {
		if strings.EqualFold(last, s) {
			return topic[:i]
		}
	}
	return topic
}
