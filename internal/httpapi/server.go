// Package httpapi serves the calculation service over HTTP/JSON.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/haricheung/nbscore/internal/service"
	"github.com/haricheung/nbscore/internal/types"
	"github.com/haricheung/nbscore/internal/visits"
)

// Server wires the routes, middleware and collaborators together.
type Server struct {
	svc     *service.Service
	visits  *visits.Log
	limiter *RateLimiter
	mux     *http.ServeMux
	started time.Time
}

// New builds a Server. v may be nil to disable visit recording.
func New(svc *service.Service, v *visits.Log, rpm, burst int) *Server {
	s := &Server{
		svc:     svc,
		visits:  v,
		limiter: NewRateLimiter(rpm, burst),
		mux:     http.NewServeMux(),
		started: time.Now(),
	}
	s.RegisterRoutes(s.mux)
	return s
}

// RegisterRoutes registers every API route on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/calculate", s.handleCalculate)
	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/recent", s.handleRecent)
	mux.HandleFunc("GET /api/most-viewed", s.handleMostViewed)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/calculation/{id}", s.handleCalculation)
	mux.HandleFunc("GET /api/calculations", s.handleCalculations)
	mux.HandleFunc("GET /api/key/{score}", s.handleKey)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/visits/hourly", s.handleVisitsHourly)
	mux.HandleFunc("GET /api/keywords/top", s.handleTopKeywords)
	mux.HandleFunc("GET /api/events", s.handleEvents)
}

// Handler returns the mux wrapped in CORS, rate limiting and visit recording.
func (s *Server) Handler() http.Handler {
	return cors(s.rateLimit(s.recordVisit(s.mux)))
}

// SetRateLimit changes the per-client rate; used on config reload.
func (s *Server) SetRateLimit(rpm, burst int) {
	s.limiter.Set(rpm, burst)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[HTTP] listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Printf("[HTTP] shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req service.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Category == "" {
		req.Category = "general"
	}
	res, err := s.svc.Calculate(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"saved":          true,
		"calculation_id": res.Record.ID,
		"calculation":    res.Record,
		"location":       res.Location,
		"outcomes":       res.Outcomes,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var q service.Query
	if err := decodeBody(w, r, &q); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	results, err := s.svc.Search(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(results), "results": results})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	results, err := s.svc.Recent(queryInt(r, "limit", 10, 100))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(results), "results": results})
}

func (s *Server) handleMostViewed(w http.ResponseWriter, r *http.Request) {
	results, err := s.svc.MostViewed(r.Context(), queryInt(r, "limit", 10, 100))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(results), "results": results})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Stats()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCalculation(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Load(r.Context(), r.PathValue("id"), true)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": rec})
}

func (s *Server) handleCalculations(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1, 0)
	limit := queryInt(r, "limit", 20, 100)
	results, total, err := s.svc.Calculations(r.Context(), (page-1)*limit, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"page":    page,
		"limit":   limit,
		"total":   total,
		"count":   len(results),
		"results": results,
	})
}

func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	score, err := strconv.ParseFloat(r.PathValue("score"), 64)
	if err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid score"})
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Key(score))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"uptime_s":  int64(time.Since(s.started).Seconds()),
		"held":      s.svc.Held(),
		"ratelimit": s.limiter.Enabled(),
		"listeners": s.svc.Events().Subscribers(),
	})
}

func (s *Server) handleVisitsHourly(w http.ResponseWriter, r *http.Request) {
	if s.visits == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []visits.HourCount{}})
		return
	}
	data, err := s.visits.ByHour(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func (s *Server) handleTopKeywords(w http.ResponseWriter, r *http.Request) {
	if s.visits == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []visits.KeywordCount{}})
		return
	}
	data, err := s.visits.TopKeywords(r.Context(), queryInt(r, "limit", 20, 100))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

// handleEvents streams calculation events as server-sent events until the
// client disconnects. ?kind= restricts the stream to one event kind.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	var kinds []types.EventKind
	if k := r.URL.Query().Get("kind"); k != "" {
		kinds = append(kinds, types.EventKind(k))
	}
	events := s.svc.Events()
	ch := events.Subscribe(kinds...)
	defer events.Unsubscribe(ch)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("[HTTP] encode event: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			flusher.Flush()
		}
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// queryInt reads a positive integer query parameter; def when absent or
// invalid, capped at ceiling when ceiling > 0.
func queryInt(r *http.Request, name string, def, ceiling int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 1 {
		n = def
	}
	if ceiling > 0 && n > ceiling {
		n = ceiling
	}
	return n
}

// writeError maps service errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyInput), errors.Is(err, service.ErrInvalidBound):
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrSuperseded):
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": err.Error()})
	default:
		log.Printf("[HTTP] internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] encode response: %v", err)
	}
}
