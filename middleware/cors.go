// Package middleware provides HTTP middleware functions.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig holds CORS middleware configuration.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int // Preflight cache duration in seconds
}

// Origins matches request origins against an allow list. Entries may be
// exact origins, "*" for any origin, or "scheme://*.domain" for subdomains.
type Origins struct {
	any      bool
	exact    map[string]struct{}
	patterns []string
}

// NewOrigins compiles an allow list.
func NewOrigins(allowed []string) *Origins {
	o := &Origins{exact: make(map[string]struct{}, len(allowed))}
	for _, a := range allowed {
		switch {
		case a == "*":
			o.any = true
		case strings.Contains(a, "*"):
			o.patterns = append(o.patterns, a)
		default:
			o.exact[strings.TrimRight(a, "/")] = struct{}{}
		}
	}
	return o
}

// Match reports whether origin is allowed.
func (o *Origins) Match(origin string) bool {
	if o.any {
		return true
	}
	if _, ok := o.exact[origin]; ok {
		return true
	}
	for _, p := range o.patterns {
		if matchWildcardOrigin(p, origin) {
			return true
		}
	}
	return false
}

// CORS creates a middleware that handles CORS headers. Disallowed origins
// still reach the handler without CORS headers so same-origin tools keep
// working; disallowed preflights get 403.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	origins := NewOrigins(cfg.AllowedOrigins)

	if len(cfg.AllowedMethods) == 0 {
		cfg.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(cfg.AllowedHeaders) == 0 {
		cfg.AllowedHeaders = []string{"Content-Type", "Authorization", "X-Requested-With"}
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 86400 // 24 hours
	}

	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	maxAge := strconv.Itoa(cfg.MaxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			preflight := r.Method == http.MethodOptions

			if origin != "" && !origins.Match(origin) {
				if preflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if preflight {
				w.Header().Set("Access-Control-Allow-Methods", methods)
				w.Header().Set("Access-Control-Allow-Headers", headers)
				w.Header().Set("Access-Control-Max-Age", maxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// matchWildcardOrigin checks if origin matches a pattern with wildcard.
// "https://*.example.com" matches "https://app.example.com" but not
// "https://example.com". Ports are ignored.
func matchWildcardOrigin(pattern, origin string) bool {
	pScheme, pHost, ok := strings.Cut(pattern, "://")
	if !ok {
		return false
	}
	oScheme, oHost, ok := strings.Cut(origin, "://")
	if !ok || pScheme != oScheme {
		return false
	}

	pHost, _, _ = strings.Cut(pHost, ":")
	oHost, _, _ = strings.Cut(oHost, ":")

	if !strings.HasPrefix(pHost, "*.") {
		return false
	}
	suffix := pHost[1:] // ".example.com"
	return strings.HasSuffix(oHost, suffix) && len(oHost) > len(suffix)
}

// CheckOrigin returns a function for WebSocket origin checking.
// Requests without an Origin header are allowed; an empty list allows all.
func CheckOrigin(allowedOrigins []string) func(*http.Request) bool {
	if len(allowedOrigins) == 0 {
		return func(*http.Request) bool { return true }
	}
	origins := NewOrigins(allowedOrigins)

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origins.Match(origin)
	}
}
