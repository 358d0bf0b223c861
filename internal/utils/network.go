package utils

import (
	"net"
	"net/http"
	"strings"
)

// stripPort returns the host part of addr, tolerating bare hosts and
// bracketed IPv6 literals.
func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}

// IsPrivateIP reports whether addr (host or host:port) is a loopback,
// link-local, or private-range address.
func IsPrivateIP(addr string) bool {
	ip := net.ParseIP(stripPort(addr))
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// IsTrustedNetwork reports whether addr falls inside one of the trusted CIDR
// ranges. With no ranges configured, private addresses are trusted.
func IsTrustedNetwork(addr string, trusted []string) bool {
	if len(trusted) == 0 {
		return IsPrivateIP(addr)
	}
	ip := net.ParseIP(stripPort(addr))
	if ip == nil {
		return false
	}
	for _, cidr := range trusted {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			// Allow plain addresses alongside CIDR ranges.
			if other := net.ParseIP(cidr); other != nil && other.Equal(ip) {
				return true
			}
			continue
		}
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP extracts the originating client address of a request. Forwarding
// headers are honored only when trustProxy approves the direct peer, so an
// untrusted client cannot spoof its source address.
func ClientIP(r *http.Request, trustProxy func(ip string) bool) string {
	peer := stripPort(r.RemoteAddr)
	if trustProxy == nil || !trustProxy(peer) {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := xff
		if idx := strings.Index(xff, ","); idx != -1 {
			first = xff[:idx]
		}
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return peer
}
