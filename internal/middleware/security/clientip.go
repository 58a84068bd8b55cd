package security

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP resolves the address of the caller, trusting forwarding headers
// only when the direct peer is a known proxy.
type ClientIP struct {
	trusted []netip.Prefix
}

// DefaultTrustedProxies are loopback and the private ranges.
var DefaultTrustedProxies = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
}

// NewClientIP builds a resolver. With no prefixes DefaultTrustedProxies apply.
func NewClientIP(trusted ...netip.Prefix) *ClientIP {
	if len(trusted) == 0 {
		trusted = DefaultTrustedProxies
	}
	return &ClientIP{trusted: trusted}
}

// Extract returns the client IP for r.
func (c *ClientIP) Extract(r *http.Request) string {
	direct, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		direct = r.RemoteAddr
	}

	addr, err := netip.ParseAddr(direct)
	if err != nil || !c.isTrusted(addr) {
		return direct
	}

	// X-Forwarded-For can contain multiple IPs, take the first one
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return ip.String()
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if ip, err := netip.ParseAddr(xri); err == nil {
			return ip.String()
		}
	}
	return direct
}

func (c *ClientIP) isTrusted(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range c.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
