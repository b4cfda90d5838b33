package util

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// GetClientIP extracts the client IP address from a request. Forwarding
// headers (X-Forwarded-For, then X-Real-IP) are only honoured when the
// service runs behind a trusted proxy (e.g. Ingress/Nginx).
func GetClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		// Format: client, proxy1, proxy2
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := normalize(first); ip != "" {
				return ip
			}
		}
		if xr := r.Header.Get("X-Real-IP"); xr != "" {
			if ip := normalize(xr); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := normalize(host); ip != "" {
		return ip
	}
	return host
}

// normalize returns the canonical text form of s, unmapping IPv4-in-IPv6
// addresses. Unparseable input yields "".
func normalize(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}
