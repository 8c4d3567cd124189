package middleware

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ParseTrustedProxies parses proxy addresses given as single IPs or CIDR ranges.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// RealIP rewrites RemoteAddr to the forwarded client address, but only when
// the TCP peer is one of the trusted proxies. Requests from anyone else keep
// their peer address, so forwarded headers cannot be used to pick a rate
// limit bucket.
func RealIP(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(trusted) > 0 {
				if ip := forwardedIP(r, trusted); ip != "" {
					r.RemoteAddr = net.JoinHostPort(ip, "0")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// forwardedIP returns the client address from X-Forwarded-For or X-Real-IP
// when the peer is trusted, or "" to keep RemoteAddr. X-Forwarded-For is read
// right to left; the first hop that is not a trusted proxy is the client.
func forwardedIP(r *http.Request, trusted []netip.Prefix) string {
	peer, ok := parseAddr(clientIP(r))
	if !ok || !isTrusted(peer, trusted) {
		return ""
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		var first netip.Addr
		for i := len(hops) - 1; i >= 0; i-- {
			addr, ok := parseAddr(strings.TrimSpace(hops[i]))
			if !ok {
				break
			}
			first = addr
			if !isTrusted(addr, trusted) {
				return addr.String()
			}
		}
		if first.IsValid() {
			return first.String()
		}
	}

	if addr, ok := parseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ok {
		return addr.String()
	}
	return ""
}

func parseAddr(s string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
