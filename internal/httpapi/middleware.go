package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/haricheung/nbscore/internal/visits"
)

const (
	maxBodyBytes  = 1 << 20
	maxKeywordLen = 60
)

// cors answers preflight requests and adds permissive CORS headers.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit rejects clients over their token-bucket budget with 429.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recordVisit logs every request to the visit log. The body is buffered so
// the keyword can be taken from a JSON "input" field and still be read by
// the handler.
func (s *Server) recordVisit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.visits == nil {
			next.ServeHTTP(w, r)
			return
		}
		raw := r.URL.Query().Get("keyword")
		if raw == "" {
			raw = r.URL.Query().Get("nb")
		}
		if raw == "" && r.Body != nil && r.Method == http.MethodPost {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			r.Body.Close()
			if err == nil {
				r.Body = io.NopCloser(bytes.NewReader(body))
				var peek struct {
					Input string `json:"input"`
				}
				if json.Unmarshal(body, &peek) == nil {
					raw = peek.Input
				}
			}
		}
		v := visits.Visit{
			IP:        clientIP(r),
			Path:      r.URL.Path,
			UserAgent: r.UserAgent(),
			Keyword:   NormalizeKeyword(raw),
		}
		if err := s.visits.Record(r.Context(), v); err != nil {
			log.Printf("[HTTP] visit not recorded: %v", err)
		}
		next.ServeHTTP(w, r)
	})
}

// NormalizeKeyword keeps the first line of raw, trimmed and cut to 60 runes.
// A lone "-" counts as no keyword.
func NormalizeKeyword(raw string) string {
	line, _, _ := strings.Cut(raw, "\n")
	line = strings.TrimSpace(line)
	if line == "" || line == "-" {
		return ""
	}
	if r := []rune(line); len(r) > maxKeywordLen {
		line = string(r[:maxKeywordLen])
	}
	return line
}

// clientIP prefers the first X-Forwarded-For hop, then the connection address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
