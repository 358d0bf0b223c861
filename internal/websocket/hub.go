package websocket

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/vigiaops/vigia-go/internal/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// Inbound frames are small control messages (ping, requestState);
	// anything larger closes the connection.
	maxInboundMessageSize = 64 * 1024
)

// Client represents a connected WebSocket client.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	id       string
	lastPong time.Time
}

// Hub maintains active WebSocket clients and broadcasts live platform
// events: alerts firing and resolving, and system status snapshots.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stopChan   chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex

	getState       func() interface{}
	allowedOrigins []string
	trustedProxy   func(ip string) bool
}

// Message is the wire envelope for every hub frame.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// NewHub creates a hub. getState supplies the snapshot sent to clients on
// connect and on request; it may be nil and set later via SetStateGetter.
func NewHub(getState func() interface{}) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopChan:   make(chan struct{}),
		getState:   getState,
	}
}

// SetStateGetter sets the snapshot function used for initial state.
func (h *Hub) SetStateGetter(getState func() interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.getState = getState
}

// SetAllowedOrigins configures the browser origins accepted on upgrade.
// An entry of "*" allows everything. With no entries configured,
// same-origin and private-network origins are accepted.
func (h *Hub) SetAllowedOrigins(origins []string) {
	copied := make([]string, len(origins))
	copy(copied, origins)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allowedOrigins = copied
}

// SetTrustedProxyChecker installs the predicate deciding whether
// X-Forwarded-* headers from a given peer IP may be trusted during origin
// checks. Without one, forwarded headers are ignored.
func (h *Hub) SetTrustedProxyChecker(fn func(ip string) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trustedProxy = fn
}

// Run starts the hub's main loop. It returns after Stop.
func (h *Hub) Run() {
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Info().Str("client", client.id).Msg("WebSocket client connected")
			h.sendInitialState(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.mu.Unlock()
				log.Info().Str("client", client.id).Msg("WebSocket client disconnected")
			} else {
				h.mu.Unlock()
			}

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					// Client cannot keep up, drop it.
					h.mu.Lock()
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
					h.mu.Unlock()
				}
			}

		case <-pingTicker.C:
			h.sendPing()

		case <-h.stopChan:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop shuts the hub down and disconnects all clients. Safe to call more
// than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
	})
}

// sendInitialState pushes the welcome frame and the current state snapshot
// to a freshly registered client.
func (h *Hub) sendInitialState(client *Client) {
	h.mu.RLock()
	getState := h.getState
	h.mu.RUnlock()
	if getState == nil {
		log.Warn().Msg("No state getter configured, skipping initial state")
		return
	}

	// The send channel is closed by Run when the client drops, so every
	// delivery re-checks membership under the lock.
	deliver := func(msg Message) bool {
		data, err := json.Marshal(msg)
		if err != nil {
			log.Error().Err(err).Str("client", client.id).Str("type", msg.Type).Msg("Failed to marshal initial frame")
			return false
		}
		h.mu.RLock()
		defer h.mu.RUnlock()
		if !h.clients[client] {
			return false
		}
		select {
		case client.send <- data:
			return true
		default:
			log.Warn().Str("client", client.id).Str("type", msg.Type).Msg("Client send buffer full, dropping frame")
			return false
		}
	}

	go func() {
		// Give the client a moment to finish its handshake before the
		// first frames arrive.
		time.Sleep(200 * time.Millisecond)

		deliver(Message{
			Type: "welcome",
			Data: map[string]string{"message": "Connected to Vigia WebSocket"},
		})
		deliver(Message{
			Type: "initialState",
			Data: sanitizeData(getState()),
		})
	}()
}

// tryRegisterClient queues a client for registration unless the hub is
// shutting down.
func (h *Hub) tryRegisterClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.stopChan:
		return false
	}
}

// HandleWebSocket handles WebSocket upgrade requests.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  16 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("origin", r.Header.Get("Origin")).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 256),
		id:       generateClientID(),
		lastPong: time.Now(),
	}

	if !h.tryRegisterClient(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// BroadcastAlert broadcasts a fired or escalated alert to all clients.
func (h *Hub) BroadcastAlert(alert interface{}) {
	h.broadcastMessage(Message{Type: "alert", Data: alert})
}

// BroadcastAlertResolved broadcasts an alert resolution to all clients.
func (h *Hub) BroadcastAlertResolved(alertID string) {
	h.broadcastMessage(Message{
		Type: "alertResolved",
		Data: map[string]string{"alertId": alertID},
	})
}

// BroadcastSystemStatus broadcasts a system status snapshot to all clients.
func (h *Hub) BroadcastSystemStatus(status interface{}) {
	h.broadcastMessage(Message{Type: "systemStatus", Data: status})
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcastMessage stamps, sanitizes, and queues a message for all clients.
func (h *Hub) broadcastMessage(msg Message) {
	msg.Data = sanitizeData(msg.Data)
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	select {
	case <-h.stopChan:
		return
	default:
	}

	select {
	case h.broadcast <- data:
	default:
		log.Warn().Str("type", msg.Type).Msg("WebSocket broadcast channel full")
	}
}

// sendPing sends an application-level ping to all clients.
func (h *Hub) sendPing() {
	h.broadcastMessage(Message{
		Type: "ping",
		Data: map[string]int64{"timestamp": time.Now().Unix()},
	})
}

// checkOrigin decides whether a browser origin may upgrade. Order: no
// Origin header (non-browser clients) passes, then the configured
// allowlist, then same-origin, then the private-network fallback when no
// allowlist is configured.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	h.mu.RLock()
	allowed := h.allowedOrigins
	trusted := h.trustedProxy
	h.mu.RUnlock()

	for _, entry := range allowed {
		if entry == "*" || strings.EqualFold(entry, origin) {
			return true
		}
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	if trusted != nil && peerTrusted(trusted, r.RemoteAddr) {
		if fh := r.Header.Get("X-Forwarded-Host"); fh != "" {
			host = fh
		}
		proto := r.Header.Get("X-Forwarded-Proto")
		if proto == "" {
			proto = r.Header.Get("X-Forwarded-Scheme")
		}
		scheme = normalizeForwardedProto(proto, scheme)
	}
	if strings.EqualFold(origin, scheme+"://"+host) {
		return true
	}

	if len(allowed) == 0 {
		if u, err := url.Parse(origin); err == nil {
			if isValidPrivateOrigin(u.Hostname()) && utils.IsPrivateIP(r.RemoteAddr) {
				return true
			}
		}
	}

	log.Warn().
		Str("origin", origin).
		Str("host", r.Host).
		Msg("Rejected WebSocket origin")
	return false
}

func peerTrusted(trusted func(ip string) bool, remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return trusted(host)
}

// isValidPrivateOrigin reports whether a hostname belongs to the local
// network: loopback, RFC 1918 ranges, or short mDNS-style .local/.lan
// names.
func isValidPrivateOrigin(host string) bool {
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsPrivate()
	}
	lower := strings.ToLower(host)
	if strings.HasSuffix(lower, ".local") || strings.HasSuffix(lower, ".lan") {
		return strings.Count(lower, ".") <= 2
	}
	return false
}

// normalizeForwardedProto maps a forwarded protocol header to an HTTP
// scheme. Proxy chains send comma-separated values, first entry wins;
// WebSocket schemes map to their HTTP equivalents.
func normalizeForwardedProto(proto, fallback string) string {
	if i := strings.Index(proto, ","); i >= 0 {
		proto = proto[:i]
	}
	proto = strings.ToLower(strings.TrimSpace(proto))
	switch proto {
	case "":
		return fallback
	case "ws":
		return "http"
	case "wss":
		return "https"
	default:
		return proto
	}
}

// readPump handles incoming messages from the client.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopChan:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.lastPong = time.Now()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("client", c.id).Msg("WebSocket read error")
			} else {
				log.Debug().Err(err).Str("client", c.id).Msg("WebSocket closed")
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Error().Err(err).Str("client", c.id).Msg("Failed to unmarshal WebSocket message")
			continue
		}

		switch msg.Type {
		case "ping":
			pong := Message{
				Type: "pong",
				Data: map[string]int64{"timestamp": time.Now().Unix()},
			}
			if data, err := json.Marshal(pong); err == nil {
				c.trySend(data)
			}
		case "requestState":
			c.hub.mu.RLock()
			getState := c.hub.getState
			c.hub.mu.RUnlock()
			if getState == nil {
				continue
			}
			state := Message{
				Type: "initialState",
				Data: sanitizeData(getState()),
			}
			if data, err := json.Marshal(state); err == nil {
				if !c.trySend(data) {
					log.Warn().Str("client", c.id).Msg("Dropped state reply")
				}
			}
		default:
			log.Debug().Str("client", c.id).Str("type", msg.Type).Msg("Received WebSocket message")
		}
	}
}

// trySend queues data for the client unless it has been dropped from the
// hub; the hub closes the send channel on removal, so membership is checked
// under the lock.
func (c *Client) trySend(data []byte) bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writePump handles outgoing messages to the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("client", c.id).Msg("Failed to write message")
				return
			}

			// Drain anything else already queued.
			n := len(c.send)
			for i := 0; i < n; i++ {
				select {
				case msg := <-c.send:
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func generateClientID() string {
	return fmt.Sprintf("client-%d", time.Now().UnixNano())
}

// sanitizeData round-trips data through JSON so NaN and Inf values, which
// encoding/json cannot emit, become nulls instead of marshal errors.
func sanitizeData(data interface{}) interface{} {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return data
	}

	var jsonData interface{}
	if err := json.Unmarshal(jsonBytes, &jsonData); err != nil {
		return data
	}

	return sanitizeValue(jsonData)
}

func sanitizeValue(data interface{}) interface{} {
	switch v := data.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		return v
	case float32:
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil
		}
		return v
	case map[string]interface{}:
		sanitized := make(map[string]interface{}, len(v))
		for k, val := range v {
			sanitized[k] = sanitizeValue(val)
		}
		return sanitized
	case []interface{}:
		sanitized := make([]interface{}, len(v))
		for i, val := range v {
			sanitized[i] = sanitizeValue(val)
		}
		return sanitized
	default:
		return v
	}
}
