package middleware

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync/atomic"
)

var trustedProxies atomic.Pointer[[]netip.Prefix]

// TrustProxies sets the networks whose X-Forwarded-For header ClientIP
// believes. Each entry is a CIDR or a bare address. Calling it with no
// arguments trusts nobody, which is the default.
func TrustProxies(cidrs ...string) error {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	trustedProxies.Store(&prefixes)
	return nil
}

func isTrustedProxy(addr netip.Addr) bool {
	p := trustedProxies.Load()
	if p == nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range *p {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the connection's remote address. When that peer is a
// trusted proxy, X-Forwarded-For is walked from the right and the first hop
// that is not itself a trusted proxy wins. Headers from any other peer are
// ignored, so a client cannot pick its own address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil || !isTrustedProxy(peer) {
		return host
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	client := host
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		addr, err := netip.ParseAddr(hop)
		if err != nil {
			return client
		}
		client = addr.Unmap().String()
		if !isTrustedProxy(addr) {
			return client
		}
	}
	return client
}
