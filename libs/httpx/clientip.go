package httpx

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the originating address: first X-Forwarded-For hop when
// present (requests arrive through the edge proxy), otherwise the peer host.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		parts := strings.Split(ip, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
