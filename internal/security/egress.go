// Package security restricts where outbound alert webhooks may connect:
// never to loopback, private, link-local or metadata addresses.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"time"
)

const dnsTimeout = 500 * time.Millisecond

var (
	// ErrBlockedAddress is returned when a destination resolves into a blocked range.
	ErrBlockedAddress = errors.New("egress: destination address is blocked")
	// ErrTooManyRedirects is returned when the redirect limit is exceeded.
	ErrTooManyRedirects = errors.New("egress: too many redirects")
	// ErrResolve is returned when the destination host cannot be resolved in time.
	ErrResolve = errors.New("egress: cannot resolve destination")
)

var blockedPrefixes = mustPrefixes(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16", // instance metadata
	"172.16.0.0/12",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, len(cidrs))
	for i, c := range cidrs {
		out[i] = netip.MustParsePrefix(c)
	}
	return out
}

// Blocked reports whether addr lies in a private, loopback, link-local or
// otherwise non-public range.
func Blocked(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Resolver abstracts DNS resolution for tests.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Guard checks destinations before any connection is made.
type Guard struct {
	resolver Resolver
	dialer   *net.Dialer
}

// NewGuard returns a Guard using r, or the system resolver when r is nil.
func NewGuard(r Resolver) *Guard {
	if r == nil {
		r = net.DefaultResolver
	}
	return &Guard{resolver: r, dialer: &net.Dialer{Timeout: 5 * time.Second}}
}

// resolve returns the addresses of host. One blocked record fails the host.
func (g *Guard) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		if Blocked(addr) {
			return nil, fmt.Errorf("%w: %s", ErrBlockedAddress, addr)
		}
		return []netip.Addr{addr}, nil
	}

	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()
	addrs, err := g.resolver.LookupNetIP(dnsCtx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrResolve, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s has no addresses", ErrResolve, host)
	}
	for _, a := range addrs {
		if Blocked(a) {
			return nil, fmt.Errorf("%w: %s resolved to %s", ErrBlockedAddress, host, a)
		}
	}
	return addrs, nil
}

// DialContext resolves and checks addr, then dials the first address.
func (g *Guard) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("egress: invalid address %q: %w", addr, err)
	}
	addrs, err := g.resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	return g.dialer.DialContext(ctx, network, net.JoinHostPort(addrs[0].String(), port))
}

// CheckRedirect is an http.Client redirect policy that applies the same
// checks to every hop.
func (g *Guard) CheckRedirect(maxRedirects int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: limit is %d", ErrTooManyRedirects, maxRedirects)
		}
		host := req.URL.Hostname()
		if host == "" {
			return fmt.Errorf("%w: redirect without host", ErrBlockedAddress)
		}
		_, err := g.resolve(req.Context(), host)
		return err
	}
}

// NewHTTPClient returns a client whose connections and redirects pass through g.
func (g *Guard) NewHTTPClient(timeout time.Duration, maxRedirects int) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = g.DialContext
	return &http.Client{
		Transport:     transport,
		Timeout:       timeout,
		CheckRedirect: g.CheckRedirect(maxRedirects),
	}
}
