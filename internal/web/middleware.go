package web

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"path"
	"strings"
)

const corsMethods = "GET, POST, PATCH, PUT, DELETE, OPTIONS"

// requireAPIKey guards /api/ and /ws when an API key is configured.
// Browsers cannot set headers on a WebSocket upgrade, so /ws also accepts
// the key as the api_key query parameter.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	if s.apiKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var key string
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/"):
			key = r.Header.Get("X-API-Key")
		case r.URL.Path == "/ws":
			key = r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
		default:
			next.ServeHTTP(w, r)
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkOrigin answers CORS preflights and rejects cross-origin writes from
// origins that are not allowed. Reads are open to any origin.
func (s *Server) checkOrigin(next http.Handler) http.Handler {
	if len(s.allowedOrigins) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		if !s.originAllowed(origin) {
			s.logger.Debug("origin rejected", "origin", origin, "method", r.Method, "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
			h.Set("Access-Control-Max-Age", "3600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originAllowed matches origin against the allowed list. Entries with a
// scheme match the whole origin; others match its host.
func (s *Server) originAllowed(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, pattern := range s.allowedOrigins {
		subject := u.Host
		if strings.Contains(pattern, "://") {
			subject = origin
		}
		if ok, _ := path.Match(pattern, subject); ok {
			return true
		}
	}
	return false
}

// wsOriginPatterns converts the allowed origins into the host patterns
// websocket.Accept matches against.
func (s *Server) wsOriginPatterns() []string {
	out := make([]string, 0, len(s.allowedOrigins))
	for _, pattern := range s.allowedOrigins {
		if i := strings.Index(pattern, "://"); i >= 0 {
			pattern = pattern[i+3:]
		}
		out = append(out, pattern)
	}
	return out
}
