package httpclient

import (
	"net/http"
	"time"
)

// New builds the pooled HTTP client the notification gateways share. Hosts
// resolve through the DNS cache; header and handshake timeouts keep a
// stalled provider from pinning a dispatch worker for the full request
// timeout.
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           DialContextWithCache,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   5,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
