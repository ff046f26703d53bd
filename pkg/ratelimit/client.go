package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// clientIPHeaders are consulted in order; the first non-empty value wins.
var clientIPHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"X-Client-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
}

// ClientIdentifier derives a rate-limit identity from proxy headers, then
// the peer address, falling back to "unknown".
func ClientIdentifier(r *http.Request) string {
	for _, h := range clientIPHeaders {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		// X-Forwarded-For is a list; the client is the first hop.
		if first, _, _ := strings.Cut(v, ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}
	return "unknown"
}
