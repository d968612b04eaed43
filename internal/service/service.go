// Package service is the calculation service shared by the CLI, the REPL and
// the HTTP API. It turns caller input into a sequence, runs the engine in both
// directions, persists the record under both result roots, indexes it and
// journals every step.
package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haricheung/nbscore/internal/bus"
	"github.com/haricheung/nbscore/internal/calclog"
	"github.com/haricheung/nbscore/internal/config"
	"github.com/haricheung/nbscore/internal/engine"
	"github.com/haricheung/nbscore/internal/index"
	"github.com/haricheung/nbscore/internal/pathkey"
	"github.com/haricheung/nbscore/internal/store"
	"github.com/haricheung/nbscore/internal/types"
)

var (
	// ErrEmptyInput is returned when the input has nothing to score.
	ErrEmptyInput = errors.New("service: empty input")
	// ErrNotFound is returned for unknown calculation ids.
	ErrNotFound = errors.New("service: calculation not found")
	// ErrSuperseded is returned when a later record with the same score has
	// overwritten the leaf an id was saved to.
	ErrSuperseded = errors.New("service: calculation superseded")
	// ErrInvalidBound is returned for a NaN or infinite bound.
	ErrInvalidBound = errors.New("service: bound must be a finite number")
)

// Settings are the hot-reloadable knobs of the service.
type Settings struct {
	Bound         float64
	TextRuns      int
	CodepointMode string
	LatestCap     int
	Deriver       pathkey.Deriver
}

// SettingsFrom maps a validated config onto service settings.
func SettingsFrom(cfg *config.Config) (Settings, error) {
	d, err := pathkey.ForScheme(cfg.KeyScheme, cfg.KeyDepth)
	if err != nil {
		return Settings{}, fmt.Errorf("service: %w", err)
	}
	return Settings{
		Bound:         cfg.BitDefaultValue,
		TextRuns:      cfg.CalculationCountForText,
		CodepointMode: cfg.CodepointMode,
		LatestCap:     cfg.LatestCap,
		Deriver:       d,
	}, nil
}

// Request is one calculation request.
type Request struct {
	Input    string   `json:"input"`
	Bound    *float64 `json:"bit,omitempty"`      // nil uses Settings.Bound
	Runs     int      `json:"runs,omitempty"`     // text only; 0 uses Settings.TextRuns
	Category string   `json:"category,omitempty"` // stored as given
}

// Result is what Calculate returns: the saved record, where it went, and the
// gate outcome of every engine call in order.
type Result struct {
	Record   types.Record     `json:"calculation"`
	Location types.Location   `json:"location"`
	Outcomes []engine.Outcome `json:"outcomes"`
}

// KeyInfo describes where a score would be stored.
type KeyInfo struct {
	Score     float64  `json:"score"`
	Canonical string   `json:"canonical"`
	Segments  []string `json:"segments"`
	MaxPath   string   `json:"max_path"`
	MinPath   string   `json:"min_path"`
}

// Service coordinates engine, store, index and journal.
//
// Expectations:
//   - Calculate calls are serialized; one calculation is in flight at a time
//   - The engine's fallback memory persists across calculations
//   - Read-only queries do not wait for an in-flight calculation
type Service struct {
	eng     *engine.Engine
	store   *store.Store
	idx     *index.Index
	journal *calclog.Journal
	events  *bus.Bus

	calc sync.Mutex // serializes Calculate and view-count rewrites

	smu      sync.RWMutex
	settings Settings

	now   func() time.Time
	newID func() string
}

// New builds a Service. journal may be nil.
func New(eng *engine.Engine, st *store.Store, idx *index.Index, journal *calclog.Journal, s Settings) *Service {
	svc := &Service{
		eng:     eng,
		store:   st,
		idx:     idx,
		journal: journal,
		events:  bus.New(),
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
	svc.Apply(s)
	return svc
}

// CheckBound rejects bounds that cannot be scored or persisted.
func CheckBound(b float64) error {
	if math.IsNaN(b) || math.IsInf(b, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidBound, b)
	}
	return nil
}

// Apply swaps in new settings. Zero fields keep their defaults; a zero
// Bound means unset because config.Validate rejects a configured zero.
func (s *Service) Apply(set Settings) {
	if set.Bound == 0 {
		set.Bound = engine.DefaultBound
	}
	if set.TextRuns < 1 {
		set.TextRuns = 1
	}
	if set.CodepointMode == "" {
		set.CodepointMode = config.CodepointPlain
	}
	if set.Deriver == nil {
		set.Deriver = pathkey.CharDeriver{}
	}
	s.smu.Lock()
	s.settings = set
	s.smu.Unlock()

	s.store.SetDeriver(set.Deriver)
	s.store.SetLatestCap(set.LatestCap)
	log.Printf("[SERVICE] settings applied bound=%g runs=%d mode=%s", set.Bound, set.TextRuns, set.CodepointMode)
}

// Events returns the bus calculation and view events are published on.
func (s *Service) Events() *bus.Bus {
	return s.events
}

// Settings returns the active settings.
func (s *Service) Settings() Settings {
	s.smu.RLock()
	defer s.smu.RUnlock()
	return s.settings
}

// ParseNumbers reads input as a list of numbers separated by commas and/or
// whitespace. It succeeds only when there are at least two values and every
// one parses to a finite float.
func ParseNumbers(input string) ([]float64, bool) {
	fields := strings.Fields(strings.ReplaceAll(input, ",", " "))
	if len(fields) < 2 {
		return nil, false
	}
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

// Sequence reduces input to the values the engine sees and reports the input type.
// unicode holds the plain code points for text input and is nil for numbers.
func (s *Service) Sequence(input string) (seq, unicode []float64, typ types.InputType) {
	if nums, ok := ParseNumbers(input); ok {
		return nums, nil, types.InputNumber
	}
	unicode = engine.CodePoints(input)
	seq = unicode
	if s.Settings().CodepointMode == config.CodepointLangPrefix {
		seq = engine.PrefixedCodePoints(input)
	}
	return seq, unicode, types.InputText
}

// Calculate scores req.Input, saves the record and indexes it.
//
// Expectations:
//   - Blank input returns ErrEmptyInput and touches nothing
//   - Numeric input (>= 2 finite values) runs once; text runs Settings.TextRuns
//     times (or req.Runs), each run forward then reverse
//   - Record.NBMax/NBMin/Difference come from the first run
//   - The record is written under both roots and indexed before returning
func (s *Service) Calculate(ctx context.Context, req Request) (*Result, error) {
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return nil, ErrEmptyInput
	}
	set := s.Settings()
	bound := set.Bound
	if req.Bound != nil {
		bound = *req.Bound
	}
	if err := CheckBound(bound); err != nil {
		return nil, err
	}

	s.calc.Lock()
	defer s.calc.Unlock()

	seq, unicode, typ := s.Sequence(input)
	runs := 1
	if typ == types.InputText {
		runs = set.TextRuns
		if req.Runs > 0 {
			runs = req.Runs
		}
	}

	rec := types.Record{
		ID:        s.newID(),
		Timestamp: s.now().UTC().Format(time.RFC3339Nano),
		Type:      typ,
		Input:     input,
		Sequence:  seq,
		Unicode:   unicode,
		Bound:     bound,
		Category:  req.Category,
	}
	var outcomes []engine.Outcome
	for i := range runs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fwd := s.eng.ForwardDetail(seq, bound)
		s.journal.Compute(fwd, len(seq), bound)
		rev := s.eng.ReverseDetail(seq, bound)
		s.journal.Compute(rev, len(seq), bound)
		outcomes = append(outcomes, fwd, rev)
		rec.Results = append(rec.Results, types.Run{
			Run:         i + 1,
			NBMax:       fwd.Value,
			NBMin:       rev.Value,
			Difference:  fwd.Value - rev.Value,
			MaxFallback: fwd.Fallback,
			MinFallback: rev.Fallback,
		})
	}
	first := rec.Results[0]
	rec.NBMax, rec.NBMin, rec.Difference = first.NBMax, first.NBMin, first.Difference

	loc, err := s.store.Save(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("service: calculate: %w", err)
	}
	if err := s.idx.Put(ctx, rec, loc); err != nil {
		return nil, fmt.Errorf("service: calculate: %w", err)
	}
	s.journal.Save(rec, loc)
	s.events.Publish(types.EventOf(types.EventCalculated, rec, s.now()))
	log.Printf("[SERVICE] calculated id=%s type=%s n=%d max=%v min=%v", rec.ID, rec.Type, len(seq), rec.NBMax, rec.NBMin)
	return &Result{Record: rec, Location: loc, Outcomes: outcomes}, nil
}

// Load returns the record saved under id. With countView set the view count
// and last-viewed time are bumped and written back to both leaves.
func (s *Service) Load(ctx context.Context, id string, countView bool) (types.Record, error) {
	e, err := s.idx.Lookup(id)
	if errors.Is(err, index.ErrNotFound) {
		return types.Record{}, ErrNotFound
	}
	if err != nil {
		return types.Record{}, fmt.Errorf("service: load: %w", err)
	}

	if !countView {
		return s.readLeaf(e)
	}

	s.calc.Lock()
	defer s.calc.Unlock()
	rec, err := s.readLeaf(e)
	if err != nil {
		return types.Record{}, err
	}
	rec.ViewCount++
	rec.LastViewed = s.now().UTC().Format(time.RFC3339Nano)
	loc, err := s.store.Rewrite(ctx, rec)
	if err != nil {
		return types.Record{}, fmt.Errorf("service: load: %w", err)
	}
	if loc != (types.Location{MaxPath: e.MaxPath, MinPath: e.MinPath}) {
		if err := s.idx.Put(ctx, rec, loc); err != nil {
			return types.Record{}, fmt.Errorf("service: load: %w", err)
		}
	}
	s.events.Publish(types.EventOf(types.EventViewed, rec, s.now()))
	return rec, nil
}

func (s *Service) readLeaf(e index.Entry) (types.Record, error) {
	rec, err := s.store.Read(e.MaxPath)
	if errors.Is(err, fs.ErrNotExist) {
		return types.Record{}, ErrNotFound
	}
	if err != nil {
		return types.Record{}, fmt.Errorf("service: load: %w", err)
	}
	if rec.ID != e.ID {
		return types.Record{}, fmt.Errorf("%w: %s replaced by %s", ErrSuperseded, e.ID, rec.ID)
	}
	return rec, nil
}

// Query selects records for Search. CodePoints wins over Text when both are set.
type Query struct {
	Text       string    `json:"text"`
	CodePoints []float64 `json:"unicode,omitempty"`
	Limit      int       `json:"limit,omitempty"`
}

// Search finds indexed records: by exact code-point sequence, else by exact
// text, else by substring of the input.
func (s *Service) Search(ctx context.Context, q Query) ([]index.Entry, error) {
	if len(q.CodePoints) > 0 {
		return s.idx.ByCodePoints(q.CodePoints, q.Limit)
	}
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	exact, err := s.idx.ByText(text, q.Limit)
	if err != nil {
		return nil, err
	}
	if len(exact) > 0 {
		return exact, nil
	}
	return s.idx.Contains(ctx, text, q.Limit)
}

// Recent returns up to limit of the newest saved records.
func (s *Service) Recent(limit int) ([]types.Record, error) {
	recs, err := s.store.Latest()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	if recs == nil {
		recs = []types.Record{}
	}
	return recs, nil
}

// MostViewed returns records with at least one view, most viewed first.
func (s *Service) MostViewed(ctx context.Context, limit int) ([]types.Record, error) {
	var out []types.Record
	err := s.store.Walk(ctx, func(_ string, rec types.Record) error {
		if rec.ViewCount > 0 {
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ViewCount != out[j].ViewCount {
			return out[i].ViewCount > out[j].ViewCount
		}
		return out[i].Timestamp > out[j].Timestamp
	})
	if limit <= 0 {
		limit = 10
	}
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []types.Record{}
	}
	return out, nil
}

// Calculations pages through every indexed record, newest first.
func (s *Service) Calculations(ctx context.Context, offset, limit int) ([]index.Entry, int, error) {
	var all []index.Entry
	if err := s.idx.Entries(ctx, func(e index.Entry) error {
		all = append(all, e)
		return nil
	}); err != nil {
		return nil, 0, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp > all[j].Timestamp })
	total := len(all)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	page := all[offset:end]
	if page == nil {
		page = []index.Entry{}
	}
	return page, total, nil
}

// Stats returns the running totals.
func (s *Service) Stats() (types.Stats, error) {
	return s.idx.Stats()
}

// Key describes the storage location of score under the active key scheme.
func (s *Service) Key(score float64) KeyInfo {
	set := s.Settings()
	loc := s.store.Locate(types.Record{NBMax: score, NBMin: score})
	return KeyInfo{
		Score:     score,
		Canonical: pathkey.Canonical(score),
		Segments:  set.Deriver.Derive(score),
		MaxPath:   loc.MaxPath,
		MinPath:   loc.MinPath,
	}
}

// Held returns the engine's current fallback value.
func (s *Service) Held() float64 {
	return s.eng.Held()
}
