package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"

	"github.com/nerrad567/meterhub-core/internal/infrastructure/config"
	"github.com/nerrad567/meterhub-core/internal/infrastructure/logging"
	"github.com/nerrad567/meterhub-core/internal/meter"
	"github.com/nerrad567/meterhub-core/internal/telemetry"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// ChannelConnectivity carries push status changes and degraded alerts.
	ChannelConnectivity = "connectivity"

	// ChannelSnapshotsPrefix prefixes per-route snapshot channels.
	ChannelSnapshotsPrefix = "snapshots."

	// Event types.
	EventSnapshots = "snapshots"
	EventStatus    = "status"
	EventDegraded  = "degraded"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `mapstructure:"channels"`
}

// SnapshotsChannel returns the channel name for a route.
func SnapshotsChannel(route string) string {
	return ChannelSnapshotsPrefix + route
}

// routeFeed is the telemetry registration shared by a route's subscribers.
type routeFeed struct {
	reg         *telemetry.Registration
	subscribers int
}

// Hub manages WebSocket connections and broadcasts events.
//
// Each route with subscribers holds one telemetry consumer registration.
// The first subscriber registers it and the last one leaving unregisters
// it, which returns the pull schedule to its service scope.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex

	telemetry Telemetry
	routes    map[string]*routeFeed
	routesMu  sync.Mutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
		routes:  make(map[string]*routeFeed),
	}
}

// SetTelemetry sets the source of snapshots and consumer registrations.
func (h *Hub) SetTelemetry(t Telemetry) {
	h.routesMu.Lock()
	h.telemetry = t
	h.routesMu.Unlock()
}

// Run blocks until the context is cancelled, then disconnects all clients
// and releases every route registration.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()

	h.routesMu.Lock()
	feeds := h.routes
	h.routes = make(map[string]*routeFeed)
	h.routesMu.Unlock()
	for _, feed := range feeds {
		feed.reg.Unregister()
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub and releases its route subscriptions.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}

	for _, ch := range client.takeSubscriptions() {
		if route, ok := routeOf(ch); ok {
			h.release(route)
		}
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Broadcast sends an event to all clients subscribed to the given channel.
func (h *Hub) Broadcast(channel, eventType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		Channel:   channel,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	// Snapshot client list under hub lock, then release before sending
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sentCount := 0
	for _, client := range clients {
		if client.isSubscribed(channel) {
			client.trySend(data)
			sentCount++
		}
	}
	if sentCount > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", sentCount)
	}
}

// OnStatus broadcasts a connectivity status change.
// It is registered as a synchronizer status listener.
func (h *Hub) OnStatus(status telemetry.Status) {
	h.Broadcast(ChannelConnectivity, EventStatus, status)
}

// NotifyDegraded broadcasts a grace-window alert.
// It implements telemetry.Notifier.
func (h *Hub) NotifyDegraded(notice telemetry.Notice) {
	h.Broadcast(ChannelConnectivity, EventDegraded, notice)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ActiveRoutes returns the routes that currently hold a registration.
func (h *Hub) ActiveRoutes() []string {
	h.routesMu.Lock()
	defer h.routesMu.Unlock()
	routes := make([]string, 0, len(h.routes))
	for route := range h.routes {
		routes = append(routes, route)
	}
	sort.Strings(routes)
	return routes
}

// acquire adds a subscriber to route, registering a consumer for the first one.
func (h *Hub) acquire(route string) error {
	h.routesMu.Lock()
	defer h.routesMu.Unlock()

	if feed, ok := h.routes[route]; ok {
		feed.subscribers++
		return nil
	}
	if h.telemetry == nil {
		return errNoTelemetry
	}

	channel := SnapshotsChannel(route)
	reg, err := h.telemetry.Register(route, telemetry.ConsumerFunc(func(_ string, snaps []meter.Snapshot) {
		h.Broadcast(channel, EventSnapshots, snaps)
	}))
	if err != nil {
		return err
	}
	h.routes[route] = &routeFeed{reg: reg, subscribers: 1}
	h.logger.Debug("websocket route registered", "route", route, "live", reg.Live())
	return nil
}

// release removes a subscriber from route, unregistering after the last one.
func (h *Hub) release(route string) {
	h.routesMu.Lock()
	feed, ok := h.routes[route]
	if !ok {
		h.routesMu.Unlock()
		return
	}
	feed.subscribers--
	if feed.subscribers > 0 {
		h.routesMu.Unlock()
		return
	}
	delete(h.routes, route)
	h.routesMu.Unlock()

	feed.reg.Unregister()
	h.logger.Debug("websocket route released", "route", route)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// routeOf extracts the route from a snapshots channel name.
func routeOf(channel string) (string, bool) {
	route, ok := strings.CutPrefix(channel, ChannelSnapshotsPrefix)
	return route, ok && route != ""
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// decodeChannels extracts the channel list from a subscribe payload.
func decodeChannels(payload any) ([]string, error) {
	var sub WSSubscribePayload
	if err := mapstructure.Decode(payload, &sub); err != nil {
		return nil, err
	}
	return sub.Channels, nil
}

// handleSubscribe adds channels and sends each one's current state.
//
// Accepted channels are "connectivity" and "snapshots.<route>".
func (c *WSClient) handleSubscribe(msg WSMessage) {
	channels, err := decodeChannels(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid subscribe payload")
		return
	}

	accepted := make([]string, 0, len(channels))
	for _, ch := range channels {
		if c.isSubscribed(ch) {
			accepted = append(accepted, ch)
			continue
		}

		route, isSnapshots := routeOf(ch)
		switch {
		case ch == ChannelConnectivity:
		case isSnapshots:
			if err := c.hub.acquire(route); err != nil {
				c.sendError(msg.ID, "cannot subscribe to "+ch+": "+err.Error())
				continue
			}
		default:
			c.sendError(msg.ID, "unknown channel: "+ch)
			continue
		}

		c.mu.Lock()
		c.subscriptions[ch] = struct{}{}
		c.mu.Unlock()
		accepted = append(accepted, ch)
	}

	c.hub.logger.Info("websocket client subscribed", "channels", accepted)
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"subscribed": accepted,
	})

	for _, ch := range accepted {
		c.sendInitial(ch)
	}
}

// sendInitial sends the current state of a channel to this client only.
func (c *WSClient) sendInitial(channel string) {
	t := c.hub.currentTelemetry()
	if t == nil {
		return
	}
	if channel == ChannelConnectivity {
		c.sendEvent(channel, EventStatus, t.Status())
		return
	}
	c.sendEvent(channel, EventSnapshots, t.Snapshots())
}

func (h *Hub) currentTelemetry() Telemetry {
	h.routesMu.Lock()
	defer h.routesMu.Unlock()
	return h.telemetry
}

// handleUnsubscribe removes channels from the client's subscription list.
func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	channels, err := decodeChannels(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid unsubscribe payload")
		return
	}

	for _, ch := range channels {
		c.mu.Lock()
		_, had := c.subscriptions[ch]
		delete(c.subscriptions, ch)
		c.mu.Unlock()

		if route, ok := routeOf(ch); ok && had {
			c.hub.release(route)
		}
	}

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": channels,
	})
}

// takeSubscriptions clears and returns the client's subscriptions.
func (c *WSClient) takeSubscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	channels := make([]string, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		channels = append(channels, ch)
	}
	c.subscriptions = make(map[string]struct{})
	return channels
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during broadcast)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// isSubscribed checks if the client is subscribed to a channel.
func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// sendEvent sends one event to this client.
func (c *WSClient) sendEvent(channel, eventType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		Channel:   channel,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendResponse sends a response message to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
