// Package engine implements the bounded sequence scoring engine: a deterministic
// mapping from a numeric sequence to a forward (N/B MAX) and a reverse (N/B MIN)
// score, with one fallback scalar shared by both directions.
//
// The arithmetic is reproduced exactly as the stored scores were produced,
// including first-match bucket selection and sign-selected anchors. Stored
// results are keyed by the precise numeric output, so none of it may drift.
package engine

import (
	"math"
	"sync"
)

// DefaultBound is the bound used when callers have no preference.
const DefaultBound = 5.5

// Limit is the magnitude a computed score may reach and still be accepted.
const Limit = 100.0

// Direction selects the forward or reverse weighting.
type Direction string

const (
	Forward Direction = "forward"
	Reverse Direction = "reverse"
)

// Outcome describes one gated computation.
type Outcome struct {
	Direction Direction `json:"direction"`
	Raw       float64   `json:"raw"`      // value produced by the normalizer
	Value     float64   `json:"value"`    // value returned to the caller
	Fallback  bool      `json:"fallback"` // true when Raw was rejected and Value is the held scalar
}

// Fallback is the last-valid memory shared by both directions. The zero value
// is Unset and holds 0.
//
// Expectations:
//   - Admit returns v and holds it when v is finite and within [-Limit, Limit]
//   - Admit returns the held value unchanged otherwise (0 before any success)
//   - Safe for concurrent use; last writer wins
type Fallback struct {
	mu   sync.Mutex
	held float64
	set  bool
}

// Admit runs the gate on v and reports whether v was accepted.
func (f *Fallback) Admit(v float64) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !Valid(v) {
		return f.held, false
	}
	f.held = v
	f.set = true
	return v, true
}

// Held returns the current held value and whether any value was ever accepted.
func (f *Fallback) Held() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held, f.set
}

// Valid reports whether v passes the gate.
func Valid(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= -Limit && v <= Limit
}

// Engine owns one fallback scalar. Create one per logical scoring context;
// forward and reverse calls on the same Engine see each other's results.
type Engine struct {
	mu       sync.Mutex
	fallback Fallback
}

// New returns an Engine whose fallback memory starts Unset (0).
func New() *Engine {
	return &Engine{}
}

// Forward returns the forward (N/B MAX) score of seq under bound.
func (e *Engine) Forward(seq []float64, bound float64) float64 {
	return e.ForwardDetail(seq, bound).Value
}

// Reverse returns the reverse (N/B MIN) score of seq under bound.
func (e *Engine) Reverse(seq []float64, bound float64) float64 {
	return e.ReverseDetail(seq, bound).Value
}

// ForwardDetail is Forward with the raw value and gate decision exposed.
func (e *Engine) ForwardDetail(seq []float64, bound float64) Outcome {
	return e.run(seq, bound, Forward)
}

// ReverseDetail is Reverse with the raw value and gate decision exposed.
func (e *Engine) ReverseDetail(seq []float64, bound float64) Outcome {
	return e.run(seq, bound, Reverse)
}

// Held returns the value the gate currently falls back to.
func (e *Engine) Held() float64 {
	v, _ := e.fallback.Held()
	return v
}

// run holds the engine lock across compute and gate so a concurrent call in
// the other direction cannot interleave between the two.
func (e *Engine) run(seq []float64, bound float64, dir Direction) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	raw := Compute(seq, bound, dir == Reverse)
	value, ok := e.fallback.Admit(raw)
	return Outcome{Direction: dir, Raw: raw, Value: value, Fallback: !ok}
}
