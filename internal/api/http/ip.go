package http

import (
	"net"
	"net/http"
	"strings"
)

// clientIP resolves the caller's address for rate-limit keying. The
// first X-Forwarded-For hop wins when a proxy is in front, then
// X-Real-IP, then the socket peer. Requests whose address cannot be
// determined share one "unknown" bucket rather than bypassing limits.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			xff = first
		}
		if ip := strings.TrimSpace(xff); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
