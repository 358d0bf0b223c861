package websocket

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestIsValidPrivateOrigin(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		expected bool
	}{
		{"localhost", "localhost", true},
		{"ipv4 loopback", "127.0.0.1", true},
		{"ipv6 loopback", "::1", true},
		{"10.x private", "10.0.0.1", true},
		{"172.16.x private", "172.16.0.1", true},
		{"192.168.x private", "192.168.1.50", true},
		{"mdns local", "gateway.local", true},
		{"lan suffix", "sensor-hub.lan", true},
		{"nested local", "node.site.local", true},
		{"deeply nested local", "a.b.c.d.local", false},
		{"public IP", "8.8.8.8", false},
		{"public domain", "example.com", false},
		{"empty", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isValidPrivateOrigin(tc.host); got != tc.expected {
				t.Errorf("isValidPrivateOrigin(%q) = %v, want %v", tc.host, got, tc.expected)
			}
		})
	}
}

func TestNormalizeForwardedProto(t *testing.T) {
	tests := []struct {
		name     string
		proto    string
		fallback string
		expected string
	}{
		{"empty uses fallback", "", "https", "https"},
		{"https passthrough", "https", "http", "https"},
		{"wss maps to https", "wss", "http", "https"},
		{"ws maps to http", "ws", "https", "http"},
		{"chain takes first", "wss,https", "http", "https"},
		{"whitespace trimmed", "  wss , http ", "http", "https"},
		{"unknown passthrough", "ftp", "http", "ftp"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := normalizeForwardedProto(tc.proto, tc.fallback); got != tc.expected {
				t.Errorf("normalizeForwardedProto(%q, %q) = %q, want %q", tc.proto, tc.fallback, got, tc.expected)
			}
		})
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name           string
		origin         string
		host           string
		remoteAddr     string
		allowedOrigins []string
		forwardedProto string
		forwardedHost  string
		trustProxy     bool
		expected       bool
	}{
		{
			name:     "no origin header",
			host:     "vigia:7700",
			expected: true,
		},
		{
			name:     "same origin",
			origin:   "http://vigia:7700",
			host:     "vigia:7700",
			expected: true,
		},
		{
			name:           "wildcard allows anything",
			origin:         "https://elsewhere.example.com",
			host:           "vigia:7700",
			allowedOrigins: []string{"*"},
			expected:       true,
		},
		{
			name:           "allowlisted origin",
			origin:         "https://ops.example.com",
			host:           "vigia:7700",
			allowedOrigins: []string{"https://ops.example.com"},
			expected:       true,
		},
		{
			name:           "origin not in allowlist",
			origin:         "https://other.example.com",
			host:           "vigia:7700",
			allowedOrigins: []string{"https://ops.example.com"},
			expected:       false,
		},
		{
			name:       "private network fallback",
			origin:     "http://192.168.1.20:3000",
			host:       "vigia:7700",
			remoteAddr: "192.168.1.20:50412",
			expected:   true,
		},
		{
			name:       "private origin from public peer rejected",
			origin:     "http://192.168.1.20:3000",
			host:       "vigia:7700",
			remoteAddr: "203.0.113.9:50412",
			expected:   false,
		},
		{
			name:     "public origin rejected without allowlist",
			origin:   "https://evil.example.com",
			host:     "vigia:7700",
			expected: false,
		},
		{
			name:           "forwarded proto honored behind trusted proxy",
			origin:         "https://vigia.example.com",
			host:           "vigia.example.com",
			remoteAddr:     "127.0.0.1:40000",
			forwardedProto: "wss",
			trustProxy:     true,
			expected:       true,
		},
		{
			name:          "forwarded host honored behind trusted proxy",
			origin:        "http://front.example.com",
			host:          "vigia:7700",
			remoteAddr:    "127.0.0.1:40000",
			forwardedHost: "front.example.com",
			trustProxy:    true,
			expected:      true,
		},
		{
			name:          "forwarded headers ignored without proxy trust",
			origin:        "http://front.example.com",
			host:          "vigia:7700",
			remoteAddr:    "203.0.113.9:40000",
			forwardedHost: "front.example.com",
			expected:      false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hub := NewHub(nil)
			if len(tc.allowedOrigins) > 0 {
				hub.SetAllowedOrigins(tc.allowedOrigins)
			}
			if tc.trustProxy {
				hub.SetTrustedProxyChecker(func(string) bool { return true })
			}

			req := &http.Request{
				Host:       tc.host,
				Header:     make(http.Header),
				RemoteAddr: tc.remoteAddr,
			}
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if tc.forwardedProto != "" {
				req.Header.Set("X-Forwarded-Proto", tc.forwardedProto)
			}
			if tc.forwardedHost != "" {
				req.Header.Set("X-Forwarded-Host", tc.forwardedHost)
			}

			if got := hub.checkOrigin(req); got != tc.expected {
				t.Errorf("checkOrigin() = %v, want %v", got, tc.expected)
			}
		})
	}
}

func TestSetAllowedOriginsCopiesInput(t *testing.T) {
	hub := NewHub(nil)
	origins := []string{"http://localhost:3000"}
	hub.SetAllowedOrigins(origins)
	origins[0] = "https://mutated.example.com"

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	if hub.allowedOrigins[0] != "http://localhost:3000" {
		t.Fatalf("allowedOrigins leaked caller mutation, got %q", hub.allowedOrigins[0])
	}
}

func TestSanitizeValueReplacesNaNAndInf(t *testing.T) {
	input := map[string]interface{}{
		"mean":   float64(21.5),
		"stdDev": math.NaN(),
		"rate":   math.Inf(1),
		"nested": []interface{}{float64(1), math.Inf(-1)},
		"label":  "ok",
	}

	out, ok := sanitizeValue(input).(map[string]interface{})
	if !ok {
		t.Fatalf("expected map, got %T", sanitizeValue(input))
	}
	if out["mean"] != float64(21.5) {
		t.Errorf("mean = %v, want 21.5", out["mean"])
	}
	if out["stdDev"] != nil {
		t.Errorf("stdDev = %v, want nil", out["stdDev"])
	}
	if out["rate"] != nil {
		t.Errorf("rate = %v, want nil", out["rate"])
	}
	nested := out["nested"].([]interface{})
	if nested[1] != nil {
		t.Errorf("nested inf = %v, want nil", nested[1])
	}
	if out["label"] != "ok" {
		t.Errorf("label = %v, want ok", out["label"])
	}
}

func TestStopIsIdempotent(t *testing.T) {
	hub := NewHub(nil)
	hub.Stop()
	hub.Stop()

	select {
	case _, ok := <-hub.stopChan:
		if ok {
			t.Fatal("expected stopChan to be closed")
		}
	default:
		t.Fatal("expected stopChan to be closed after Stop")
	}
}

func TestTryRegisterClientRejectsAfterStop(t *testing.T) {
	hub := NewHub(nil)
	hub.Stop()

	ok := hub.tryRegisterClient(&Client{
		hub:  hub,
		id:   "late-client",
		send: make(chan []byte, 1),
	})
	if ok {
		t.Fatal("expected registration to fail after Stop")
	}
}

func TestBroadcastSkippedAfterStop(t *testing.T) {
	hub := NewHub(nil)
	hub.Stop()

	hub.BroadcastAlertResolved("a1")

	select {
	case <-hub.broadcast:
		t.Fatal("expected no broadcast after Stop")
	default:
	}
}

func TestBroadcastMessageEnvelope(t *testing.T) {
	hub := NewHub(nil)

	hub.BroadcastAlert(map[string]string{"id": "a1", "severity": "high"})

	select {
	case data := <-hub.broadcast:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal broadcast: %v", err)
		}
		if msg.Type != "alert" {
			t.Errorf("type = %q, want alert", msg.Type)
		}
		if msg.Timestamp == "" {
			t.Error("expected timestamp on broadcast")
		}
		payload := msg.Data.(map[string]interface{})
		if payload["id"] != "a1" {
			t.Errorf("payload id = %v, want a1", payload["id"])
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected alert broadcast")
	}
}

func TestGetClientCount(t *testing.T) {
	hub := NewHub(nil)
	if hub.GetClientCount() != 0 {
		t.Fatalf("client count = %d, want 0", hub.GetClientCount())
	}

	hub.mu.Lock()
	hub.clients[&Client{id: "c1"}] = true
	hub.clients[&Client{id: "c2"}] = true
	hub.mu.Unlock()

	if hub.GetClientCount() != 2 {
		t.Fatalf("client count = %d, want 2", hub.GetClientCount())
	}
}

func dialTestHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntilType reads frames until one of the wanted type arrives, skipping
// everything else.
func readUntilType(t *testing.T, conn *websocket.Conn, wantType string, timeout time.Duration) Message {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("reading for %q frame: %v", wantType, err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if msg.Type == wantType {
			return msg
		}
	}
}

func TestConnectDeliversWelcomeAndInitialState(t *testing.T) {
	hub := NewHub(func() interface{} {
		return map[string]string{"systemState": "NORMAL"}
	})
	go hub.Run()
	t.Cleanup(hub.Stop)

	conn := dialTestHub(t, hub)

	readUntilType(t, conn, "welcome", 2*time.Second)
	msg := readUntilType(t, conn, "initialState", 2*time.Second)

	payload, ok := msg.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("initialState data = %T, want map", msg.Data)
	}
	if payload["systemState"] != "NORMAL" {
		t.Errorf("systemState = %v, want NORMAL", payload["systemState"])
	}
}

func TestPingGetsPong(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	t.Cleanup(hub.Stop)

	conn := dialTestHub(t, hub)

	if err := conn.WriteJSON(Message{Type: "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	readUntilType(t, conn, "pong", 2*time.Second)
}

func TestBroadcastAlertReachesClient(t *testing.T) {
	hub := NewHub(func() interface{} { return map[string]string{} })
	go hub.Run()
	t.Cleanup(hub.Stop)

	conn := dialTestHub(t, hub)
	readUntilType(t, conn, "welcome", 2*time.Second)

	hub.BroadcastAlert(map[string]string{"id": "alert-42"})

	msg := readUntilType(t, conn, "alert", 2*time.Second)
	payload := msg.Data.(map[string]interface{})
	if payload["id"] != "alert-42" {
		t.Errorf("alert id = %v, want alert-42", payload["id"])
	}
}

func TestRequestStateReturnsSnapshot(t *testing.T) {
	hub := NewHub(func() interface{} {
		return map[string]interface{}{"sensors": float64(3)}
	})
	go hub.Run()
	t.Cleanup(hub.Stop)

	conn := dialTestHub(t, hub)
	readUntilType(t, conn, "initialState", 2*time.Second)

	if err := conn.WriteJSON(Message{Type: "requestState"}); err != nil {
		t.Fatalf("write requestState: %v", err)
	}

	msg := readUntilType(t, conn, "initialState", 2*time.Second)
	payload := msg.Data.(map[string]interface{})
	if payload["sensors"] != float64(3) {
		t.Errorf("sensors = %v, want 3", payload["sensors"])
	}
}
