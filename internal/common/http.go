package common

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP determines the client address for rate limiting, trusting proxy
// headers when present and falling back to the socket peer.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); ip != "" {
		if candidate := strings.TrimSpace(strings.Split(ip, ",")[0]); candidate != "" {
			return candidate
		}
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
