package tlsutil

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

var (
	globalResolver     *dnscache.Resolver
	globalResolverOnce sync.Once
)

const resolverRefreshTTL = 5 * time.Minute

// GetDNSResolver returns the shared caching DNS resolver. A single agent polls
// the same server endpoint every cycle, so caching avoids a lookup per tick.
func GetDNSResolver() *dnscache.Resolver {
	globalResolverOnce.Do(func() {
		globalResolver = &dnscache.Resolver{}

		go func() {
			ticker := time.NewTicker(resolverRefreshTTL)
			defer ticker.Stop()

			for range ticker.C {
				globalResolver.Refresh(true)
				log.Debug().Msg("DNS cache refreshed")
			}
		}()
	})
	return globalResolver
}

// DialContextWithCache is a DialContext function that resolves through the
// shared DNS cache.
func DialContextWithCache(ctx context.Context, network, address string) (net.Conn, error) {
	resolver := GetDNSResolver()

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	ips, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{
			Err:  "no IP addresses found",
			Name: host,
		}
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
}
