// Package httpclient builds the outbound HTTP clients used for notification
// delivery: pooled transports dialing through a shared DNS cache, so bursts
// of alert fan-out do not hammer the resolver.
package httpclient

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

var (
	resolverMu sync.Mutex
	resolver   *dnscache.Resolver
	refreshTTL = 5 * time.Minute
)

// SetDNSCacheTTL sets the refresh interval for cached DNS entries. It only
// affects resolvers created afterwards, so call it before the first dial.
func SetDNSCacheTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	resolverMu.Lock()
	refreshTTL = ttl
	resolverMu.Unlock()
}

func cachedResolver() *dnscache.Resolver {
	resolverMu.Lock()
	defer resolverMu.Unlock()
	if resolver == nil {
		r := &dnscache.Resolver{}
		ttl := refreshTTL
		go func() {
			ticker := time.NewTicker(ttl)
			defer ticker.Stop()
			for range ticker.C {
				r.Refresh(true)
			}
		}()
		log.Debug().Dur("refreshTTL", ttl).Msg("DNS cache initialized for outbound HTTP")
		resolver = r
	}
	return resolver
}

// DialContextWithCache resolves the host through the shared DNS cache and
// dials the resolved addresses in order until one connects.
func DialContextWithCache(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	ips, err := cachedResolver().LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no addresses resolved", Name: host}
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	var lastErr error
	for _, ip := range ips {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
