package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsPrivateIP(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1", true},
		{"127.0.0.1:8080", true},
		{"10.1.2.3", true},
		{"172.16.0.9:443", true},
		{"192.168.1.50", true},
		{"169.254.10.1", true},
		{"::1", true},
		{"[::1]:9000", true},
		{"fd12::1", true},
		{"8.8.8.8", false},
		{"203.0.113.7:80", false},
		{"not-an-ip", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsPrivateIP(tc.addr); got != tc.want {
			t.Errorf("IsPrivateIP(%q) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func TestIsTrustedNetwork(t *testing.T) {
	cases := []struct {
		name    string
		addr    string
		trusted []string
		want    bool
	}{
		{"no ranges falls back to private", "192.168.0.10", nil, true},
		{"no ranges rejects public", "203.0.113.7", nil, false},
		{"cidr match", "10.0.5.9:123", []string{"10.0.0.0/8"}, true},
		{"cidr miss", "10.0.5.9", []string{"192.168.0.0/16"}, false},
		{"plain address entry", "203.0.113.7", []string{"203.0.113.7"}, true},
		{"blank entries ignored", "10.0.0.1", []string{" ", "10.0.0.0/8"}, true},
		{"garbage addr", "nope", []string{"10.0.0.0/8"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTrustedNetwork(tc.addr, tc.trusted); got != tc.want {
				t.Errorf("IsTrustedNetwork(%q, %v) = %v, want %v", tc.addr, tc.trusted, got, tc.want)
			}
		})
	}
}

func TestClientIPSpoofGuard(t *testing.T) {
	trustLoopback := func(ip string) bool { return ip == "127.0.0.1" }

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.7:5000"
	r.Header.Set("X-Forwarded-For", "198.51.100.1")
	if got := ClientIP(r, trustLoopback); got != "203.0.113.7" {
		t.Errorf("untrusted peer: got %q, want direct address", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "127.0.0.1:5000"
	r.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	if got := ClientIP(r, trustLoopback); got != "198.51.100.1" {
		t.Errorf("trusted proxy XFF: got %q, want first forwarded entry", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "127.0.0.1:5000"
	r.Header.Set("X-Real-IP", "198.51.100.2")
	if got := ClientIP(r, trustLoopback); got != "198.51.100.2" {
		t.Errorf("trusted proxy X-Real-IP: got %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "127.0.0.1:5000"
	if got := ClientIP(r, nil); got != "127.0.0.1" {
		t.Errorf("nil checker: got %q, want direct address", got)
	}
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", " yes ", "Y", "on"} {
		if !ParseBool(v) {
			t.Errorf("ParseBool(%q) = false, want true", v)
		}
	}
	for _, v := range []string{"", "0", "false", "off", "maybe"} {
		if ParseBool(v) {
			t.Errorf("ParseBool(%q) = true, want false", v)
		}
	}
}

func TestWriteJSONResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := WriteJSONResponse(rec, map[string]int{"count": 3}); err != nil {
		t.Fatalf("WriteJSONResponse: %v", err)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Body.String() != `{"count":3}` {
		t.Errorf("body = %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	if err := WriteJSONResponse(rec, func() {}); err == nil {
		t.Fatal("expected marshal error for func value")
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestWriteJSONError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusNotFound, "unknown sensor")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Body.String() != "{\"error\":\"unknown sensor\"}\n" {
		t.Errorf("body = %q", rec.Body.String())
	}
}
