// Package calclog writes a structured journal of scoring sessions.
//
// Each session (one REPL run, one CLI invocation, one HTTP server lifetime) gets
// one JSONL file in a configurable directory. Events capture every gated
// computation, including the raw value the gate rejected, and every save.
//
// Design constraints:
//   - All Journal methods are nil-safe (no-op on nil receiver) so callers don't
//     need nil checks before every log call.
//   - Registry is the sole owner of JSONL persistence; callers never open files.
package calclog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/haricheung/nbscore/internal/engine"
	"github.com/haricheung/nbscore/internal/types"
)

// EventKind labels a single structured event in the journal.
type EventKind string

const (
	KindSessionBegin EventKind = "session_begin"
	KindSessionEnd   EventKind = "session_end"
	KindCompute      EventKind = "compute"
	KindSave         EventKind = "save"
)

// Event is one JSONL line in the journal.
// Fields are omitempty so each event only serialises relevant data.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp string    `json:"ts"`

	// session_begin / session_end
	SessionID string  `json:"session_id,omitempty"`
	Source    string  `json:"source,omitempty"` // "repl" | "cli" | "http"
	ElapsedMs int64   `json:"elapsed_ms,omitempty"`
	Counts    *Counts `json:"counts,omitempty"` // session_end only

	// compute
	Direction engine.Direction `json:"direction,omitempty"`
	N         int              `json:"n,omitempty"`
	Bound     *float64         `json:"bound,omitempty"`      // nil when not finite; see BoundText
	BoundText string           `json:"bound_text,omitempty"` // "NaN", "+Inf", "-Inf"
	Raw       *float64         `json:"raw,omitempty"`        // nil when not finite; see RawText
	RawText   string           `json:"raw_text,omitempty"`
	Value     *float64         `json:"value,omitempty"`    // pointer: 0 must be serialised
	Fallback  *bool            `json:"fallback,omitempty"` // pointer: false must be serialised

	// save
	RecordID string `json:"record_id,omitempty"`
	Input    string `json:"input,omitempty"`
	MaxPath  string `json:"max_path,omitempty"`
	MinPath  string `json:"min_path,omitempty"`
}

// Counts summarises one session.
//
// Expectations:
//   - Computes equals the number of Compute calls
//   - Fallbacks counts the Compute calls whose raw value was rejected
//   - Saves equals the number of Save calls
type Counts struct {
	Computes  int `json:"computes"`
	Fallbacks int `json:"fallbacks"`
	Saves     int `json:"saves"`
}

// Journal is a handle for writing structured events for one session.
//
// Expectations:
//   - All methods are nil-safe (no-op when called on nil *Journal)
//   - Concurrent writes are safe (mutex-protected)
type Journal struct {
	sessionID string
	started   time.Time
	mu        sync.Mutex
	f         *os.File
	counts    Counts
}

// Registry maps session IDs to open Journals.
//
// Expectations:
//   - Open creates the log directory if absent
//   - Open writes a session_begin event as the first JSONL line
//   - Open returns the existing journal when called twice for the same session
//   - Get returns nil for unknown session IDs
//   - Close writes session_end with elapsed_ms and counts before flushing
//   - Close removes the session so subsequent Get returns nil
//   - Close no-ops gracefully when the session is not registered
type Registry struct {
	dir  string
	mu   sync.Mutex
	logs map[string]*Journal
}

// NewRegistry creates a Registry that writes one JSONL file per session under dir.
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:  dir,
		logs: make(map[string]*Journal),
	}
}

// Dir returns the directory journals are written to.
func (r *Registry) Dir() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// Open creates a new Journal for sessionID, writes session_begin, and registers it.
func (r *Registry) Open(sessionID, source string) *Journal {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if j, ok := r.logs[sessionID]; ok {
		return j
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		slog.Error("[CALCLOG] could not create dir", "dir", r.dir, "error", err)
		return nil
	}
	path := filepath.Join(r.dir, sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("[CALCLOG] could not open journal", "path", path, "error", err)
		return nil
	}

	j := &Journal{sessionID: sessionID, started: time.Now(), f: f}
	r.logs[sessionID] = j
	j.write(Event{
		Kind:      KindSessionBegin,
		SessionID: sessionID,
		Source:    source,
	})
	return j
}

// Get returns the Journal for sessionID, or nil if not found.
func (r *Registry) Get(sessionID string) *Journal {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logs[sessionID]
}

// Close writes session_end, closes the file and forgets the session.
func (r *Registry) Close(sessionID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	j, ok := r.logs[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.logs, sessionID)
	r.mu.Unlock()

	counts := j.Counts()
	j.write(Event{
		Kind:      KindSessionEnd,
		SessionID: sessionID,
		ElapsedMs: time.Since(j.started).Milliseconds(),
		Counts:    &counts,
	})

	j.mu.Lock()
	if j.f != nil {
		_ = j.f.Close()
		j.f = nil
	}
	j.mu.Unlock()
}

// CloseAll closes every open session.
func (r *Registry) CloseAll() {
	if r == nil {
		return
	}
	r.mu.Lock()
	ids := make([]string, 0, len(r.logs))
	for id := range r.logs {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Close(id)
	}
}

// Compute writes a compute event for one gated engine call.
//
// Expectations:
//   - Raw and bound are written as numbers when finite, as raw_text and
//     bound_text otherwise
//   - Fallbacks increments when out.Fallback is true
//   - No-op on nil receiver
func (j *Journal) Compute(out engine.Outcome, n int, bound float64) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.counts.Computes++
	if out.Fallback {
		j.counts.Fallbacks++
	}
	j.mu.Unlock()

	e := Event{
		Kind:      KindCompute,
		Direction: out.Direction,
		N:         n,
		Value:     &out.Value,
		Fallback:  &out.Fallback,
	}
	e.Bound, e.BoundText = number(bound)
	e.Raw, e.RawText = number(out.Raw)
	j.write(e)
}

// number splits v into a JSON-safe pointer or, for NaN and infinities, text.
func number(v float64) (*float64, string) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, strconv.FormatFloat(v, 'g', -1, 64)
	}
	return &v, ""
}

// Save writes a save event for a persisted record.
func (j *Journal) Save(rec types.Record, loc types.Location) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.counts.Saves++
	j.mu.Unlock()
	j.write(Event{
		Kind:     KindSave,
		RecordID: rec.ID,
		Input:    truncate(rec.Input, 200),
		MaxPath:  loc.MaxPath,
		MinPath:  loc.MinPath,
	})
}

// Counts returns a snapshot of the session counters. Zero on nil receiver.
func (j *Journal) Counts() Counts {
	if j == nil {
		return Counts{}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.counts
}

// SessionID returns the session this journal belongs to.
func (j *Journal) SessionID() string {
	if j == nil {
		return ""
	}
	return j.sessionID
}

// write appends one JSON line to the journal file. Adds timestamp, mutex-protected.
func (j *Journal) write(e Event) {
	e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("[CALCLOG] marshal event", "error", err)
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return
	}
	if _, err = fmt.Fprintf(j.f, "%s\n", data); err != nil {
		slog.Error("[CALCLOG] write event", "error", err)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
