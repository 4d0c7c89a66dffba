package main

import (
	"net"
	"net/http"
	"strings"
)

// shortID returns a truncated session id for logging (first 8 chars).
// Example: "550e8400-e29b-41d4-a716-446655440000" -> "550e8400"
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// clientIP returns the originating client address for rate limiting.
// With useXFF set, the first X-Forwarded-For entry wins.
func clientIP(r *http.Request, useXFF bool) string {
	if useXFF {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
