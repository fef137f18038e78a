// Package resolver turns remote host names into dialable IP addresses. It
// keeps a TTL cache in front of the system resolver and collapses concurrent
// lookups for the same host into one, so a batch of sessions aimed at one
// endpoint resolves it once.
package resolver

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// LookupFunc resolves host into its addresses.
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

// Resolver maps a host name to a single IP literal.
type Resolver interface {
	// Lookup returns the IP literal to dial for host. IP literals are
	// returned unchanged.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - host: Host name or IP literal
	//
	// Returns:
	//   - The IP literal, or an error if host has no usable address
	Lookup(ctx context.Context, host string) (string, error)

	// Forget drops any cached entry for host.
	Forget(host string)
}

// CachedResolver is a Resolver backed by go-cache and a singleflight group.
type CachedResolver struct {
	cache  *cache.Cache
	group  singleflight.Group
	ttl    time.Duration
	lookup LookupFunc
}

// NewCachedResolver creates a resolver caching answers for ttl. A nil lookup
// uses net.DefaultResolver.
//
// Parameters:
//   - ttl: How long an answer is reused
//   - lookup: Optional resolver override
//
// Returns:
//   - A new *CachedResolver
func NewCachedResolver(ttl time.Duration, lookup LookupFunc) *CachedResolver {
	if lookup == nil {
		lookup = func(ctx context.Context, host string) ([]netip.Addr, error) {
			return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		}
	}

	return &CachedResolver{
		cache:  cache.New(ttl, 2*ttl),
		ttl:    ttl,
		lookup: lookup,
	}
}

// Lookup implements Resolver. IPv4 answers are preferred so that dials from
// an IPv4 bind address keep working for dual-stack names like "localhost".
func (r *CachedResolver) Lookup(ctx context.Context, host string) (string, error) {
	if host == "" {
		return "", fmt.Errorf("empty host")
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.String(), nil
	}

	if val, found := r.cache.Get(host); found {
		return val.(string), nil
	}

	// The shared lookup outlives any single caller; each caller stops
	// waiting when its own ctx is done.
	flightCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(host, func() (interface{}, error) {
		if cached, found := r.cache.Get(host); found {
			return cached.(string), nil
		}

		addrs, err := r.lookup(flightCtx, host)
		if err != nil {
			return "", fmt.Errorf("lookup %s: %w", host, err)
		}

		ip, ok := pick(addrs)
		if !ok {
			return "", fmt.Errorf("lookup %s: no addresses", host)
		}

		r.cache.Set(host, ip, r.ttl)
		return ip, nil
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("lookup %s: %w", host, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}

		return res.Val.(string), nil
	}
}

// Forget implements Resolver.
func (r *CachedResolver) Forget(host string) {
	r.cache.Delete(host)
}

func pick(addrs []netip.Addr) (string, bool) {
	if len(addrs) == 0 {
		return "", false
	}

	for _, a := range addrs {
		if a.Unmap().Is4() {
			return a.Unmap().String(), true
		}
	}

	return addrs[0].String(), true
}
