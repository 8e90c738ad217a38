// Package security hardens outbound HTTP requests to the weather providers.
//
// SafeTransport wraps http.Transport to enforce an IP blocklist during
// connection establishment. Provider base URLs are operator-supplied and
// providers can redirect, so without the blocklist a misconfigured URL or a
// compromised provider could point a fetch, along with its API key header,
// at internal infrastructure such as the AWS metadata service, localhost,
// or private network ranges.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// dnsTimeout bounds DNS resolution during dialing and redirect checks.
const dnsTimeout = 500 * time.Millisecond

var (
	// ErrSSRFBlocked marks a request that targeted a blocked IP range.
	ErrSSRFBlocked = errors.New("ssrf: request to blocked IP range")

	// ErrSSRFDNSTimeout marks DNS resolution that exceeded dnsTimeout.
	ErrSSRFDNSTimeout = errors.New("ssrf: DNS resolution timeout")

	// ErrSSRFTooManyRedirects marks an exceeded redirect limit.
	ErrSSRFTooManyRedirects = errors.New("ssrf: too many redirects")

	// ErrSSRFDNSFailed marks DNS resolution that failed entirely.
	ErrSSRFDNSFailed = errors.New("ssrf: DNS resolution failed")
)

// blockedNets are the ranges no outbound fetch may reach. Parsed at init;
// the literals are fixed, so a parse failure is a programming error.
var blockedNets = mustParseCIDRs(
	"127.0.0.0/8",    // localhost
	"10.0.0.0/8",     // private class A
	"172.16.0.0/12",  // private class B
	"192.168.0.0/16", // private class C
	"169.254.0.0/16", // link-local (AWS metadata)
	"0.0.0.0/8",      // current network
	"224.0.0.0/4",    // multicast
	"240.0.0.0/4",    // reserved
	"100.64.0.0/10",  // shared address space (CGN)
	"198.18.0.0/15",  // benchmark testing
	"fc00::/7",       // IPv6 private
	"fe80::/10",      // IPv6 link-local
	"::1/128",        // IPv6 localhost
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, len(cidrs))
	for i, cidr := range cidrs {
		_, parsed, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("security: bad blocklist CIDR %q: %v", cidr, err))
		}
		nets[i] = parsed
	}
	return nets
}

func blocked(ip net.IP) bool {
	for _, ipNet := range blockedNets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver is the DNS lookup seam. *net.Resolver satisfies it directly.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// screenHost resolves host and rejects the answer if any address falls in a
// blocked range. IP literals pass through without a lookup. The returned
// addresses are the only ones a caller may connect to.
func screenHost(ctx context.Context, resolver Resolver, host string) ([]net.IPAddr, error) {
	if ip := net.ParseIP(host); ip != nil {
		if blocked(ip) {
			return nil, fmt.Errorf("%w: %s", ErrSSRFBlocked, ip)
		}
		return []net.IPAddr{{IP: ip}}, nil
	}

	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	addrs, err := resolver.LookupIPAddr(dnsCtx, host)
	if err != nil {
		if dnsCtx.Err() != nil {
			return nil, fmt.Errorf("%w: host %q", ErrSSRFDNSTimeout, host)
		}
		return nil, fmt.Errorf("%w: host %q: %v", ErrSSRFDNSFailed, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: host %q resolved to no addresses", ErrSSRFDNSFailed, host)
	}

	// One hostile address poisons the whole answer. A rebinding name can
	// alternate safe and private IPs between lookups, so connecting to
	// "just the safe ones" is not safe either.
	for _, addr := range addrs {
		if blocked(addr.IP) {
			return nil, fmt.Errorf("%w: %s (resolved from %s)", ErrSSRFBlocked, addr.IP, host)
		}
	}
	return addrs, nil
}

// SafeTransport is an http.RoundTripper whose dialer screens every target
// against the blocklist before connecting.
type SafeTransport struct {
	Base *http.Transport

	// Resolver overrides DNS resolution; nil means net.DefaultResolver.
	Resolver Resolver
}

// NewSafeTransport wraps base, replacing its DialContext with the screening
// dialer. A nil base gets a fresh http.Transport.
func NewSafeTransport(base *http.Transport) *SafeTransport {
	if base == nil {
		base = &http.Transport{}
	}
	st := &SafeTransport{Base: base}
	base.DialContext = st.dialScreened
	return st
}

func (st *SafeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return st.Base.RoundTrip(req)
}

// dialScreened screens the target host, then connects to the first address
// the screen returned so the connection goes to an IP that was actually
// checked.
func (st *SafeTransport) dialScreened(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("ssrf: invalid address %q: %w", addr, err)
	}

	addrs, err := screenHost(ctx, st.resolver(), host)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{}
	return dialer.DialContext(ctx, network, net.JoinHostPort(addrs[0].IP.String(), port))
}

func (st *SafeTransport) resolver() Resolver {
	if st.Resolver != nil {
		return st.Resolver
	}
	return net.DefaultResolver
}

// CheckRedirect returns an http.Client CheckRedirect function that enforces
// the redirect limit and screens every redirect target against the
// blocklist. A nil resolver means net.DefaultResolver.
func CheckRedirect(maxRedirects int, resolver Resolver) func(req *http.Request, via []*http.Request) error {
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: limit is %d", ErrSSRFTooManyRedirects, maxRedirects)
		}

		host := req.URL.Hostname()
		if host == "" {
			return fmt.Errorf("%w: redirect URL has no host", ErrSSRFBlocked)
		}

		_, err := screenHost(req.Context(), resolver, host)
		return err
	}
}

// NewSafeHTTPClient builds the client the poller fetches providers with:
// screened dialing plus screened, bounded redirects.
func NewSafeHTTPClient(timeout time.Duration, maxRedirects int) *http.Client {
	transport := NewSafeTransport(nil)
	return &http.Client{
		Transport:     transport,
		Timeout:       timeout,
		CheckRedirect: CheckRedirect(maxRedirects, transport.Resolver),
	}
}
