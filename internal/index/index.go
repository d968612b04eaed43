// Package index keeps a LevelDB lookup index over saved records: where each
// record's leaves live, which records share an input text or code-point
// sequence, and the running totals.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/haricheung/nbscore/internal/types"
)

// LevelDB key prefix scheme. "|" separates parts; text parts are sanitised.
//
//	r|<id>                    → Entry JSON   (primary record)
//	t|<lower(text)>|<id>      → nil          (exact text lookup)
//	u|<cp,cp,...>|<id>        → nil          (code-point sequence lookup)
//	s|totals                  → Stats JSON   (running totals)
const (
	prefixRecord    = "r|"
	prefixText      = "t|"
	prefixUnicode   = "u|"
	keyTotals       = "s|totals"
	defaultLimit    = 50
	maxTextKeyRunes = 200
)

// ErrNotFound is returned by Lookup for unknown ids.
var ErrNotFound = errors.New("index: not found")

// Entry is the indexed summary of one record.
type Entry struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Type      types.InputType `json:"type"`
	Input     string          `json:"input"`
	NBMax     float64         `json:"nb_max"`
	NBMin     float64         `json:"nb_min"`
	MaxPath   string          `json:"max_path"`
	MinPath   string          `json:"min_path"`
}

// Index is the LevelDB-backed lookup index. Put is synchronous; totals are
// updated under a mutex so concurrent Puts cannot lose increments.
type Index struct {
	mu sync.Mutex
	db *leveldb.DB
}

// Open opens (or creates) the LevelDB database at dir.
func Open(dir string) (*Index, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", dir, err)
	}
	return &Index{db: db}, nil
}

// Close releases the database.
func (x *Index) Close() error {
	if err := x.db.Close(); err != nil {
		return fmt.Errorf("index: close: %w", err)
	}
	return nil
}

// Put indexes rec at loc in one batch.
//
// Expectations:
//   - Writes r|, t| (text only) and u| keys atomically
//   - Totals grow by one calculation and one max and one min result per new id
//   - Re-putting a known id refreshes its entry without touching totals
func (x *Index) Put(ctx context.Context, rec types.Record, loc types.Location) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	entry := Entry{
		ID:        rec.ID,
		Timestamp: rec.Timestamp,
		Type:      rec.Type,
		Input:     rec.Input,
		NBMax:     rec.NBMax,
		NBMin:     rec.NBMin,
		MaxPath:   loc.MaxPath,
		MinPath:   loc.MinPath,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("index: marshal %s: %w", rec.ID, err)
	}

	known, err := x.db.Has([]byte(prefixRecord+rec.ID), nil)
	if err != nil {
		return fmt.Errorf("index: put %s: %w", rec.ID, err)
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte(prefixRecord+rec.ID), data)
	if rec.Type == types.InputText {
		batch.Put([]byte(textPrefix(rec.Input)+rec.ID), nil)
	}
	cps := rec.Unicode
	if len(cps) == 0 {
		cps = rec.Sequence
	}
	batch.Put([]byte(unicodePrefix(cps)+rec.ID), nil)

	if !known {
		stats, err := x.stats()
		if err != nil {
			return err
		}
		stats.TotalCalculations++
		stats.TotalMaxResults++
		stats.TotalMinResults++
		totals, err := json.Marshal(stats)
		if err != nil {
			return fmt.Errorf("index: marshal totals: %w", err)
		}
		batch.Put([]byte(keyTotals), totals)
	}

	if err := x.db.Write(batch, nil); err != nil {
		return fmt.Errorf("index: put %s: %w", rec.ID, err)
	}
	slog.Debug("[INDEX] indexed record", "id", rec.ID, "type", rec.Type, "new", !known)
	return nil
}

// Lookup returns the entry for id, or ErrNotFound.
func (x *Index) Lookup(id string) (Entry, error) {
	data, err := x.db.Get([]byte(prefixRecord+id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("index: lookup %s: %w", id, err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("index: decode %s: %w", id, err)
	}
	return e, nil
}

// ByText returns entries whose input equals text, case-insensitively, newest
// first. limit <= 0 uses the default of 50.
func (x *Index) ByText(text string, limit int) ([]Entry, error) {
	want := strings.TrimSpace(text)
	return x.scanIDs(textPrefix(text), limit, func(e Entry) bool {
		// keys are truncated and escaped, so confirm against the stored input
		return strings.EqualFold(strings.TrimSpace(e.Input), want)
	})
}

// ByCodePoints returns entries computed from exactly the sequence cps, newest first.
func (x *Index) ByCodePoints(cps []float64, limit int) ([]Entry, error) {
	return x.scanIDs(unicodePrefix(cps), limit, nil)
}

// Contains returns entries whose input contains query, case-insensitively,
// newest first. It scans every entry.
func (x *Index) Contains(ctx context.Context, query string, limit int) ([]Entry, error) {
	q := strings.ToLower(query)
	var out []Entry
	err := x.Entries(ctx, func(e Entry) error {
		if strings.Contains(strings.ToLower(e.Input), q) {
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newestFirst(out, limit), nil
}

// Entries calls fn for every indexed record in key order.
func (x *Index) Entries(ctx context.Context, fn func(Entry) error) error {
	iter := x.db.NewIterator(util.BytesPrefix([]byte(prefixRecord)), nil)
	defer iter.Release()
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			slog.Warn("[INDEX] skipping undecodable entry", "key", string(iter.Key()), "error", err)
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("index: scan: %w", err)
	}
	return nil
}

// Stats returns the running totals; all zero for a fresh index.
func (x *Index) Stats() (types.Stats, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.stats()
}

// ---------------------------------------------------------------------------
// Internal
// ---------------------------------------------------------------------------

func (x *Index) stats() (types.Stats, error) {
	var st types.Stats
	data, err := x.db.Get([]byte(keyTotals), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("index: totals: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("index: decode totals: %w", err)
	}
	return st, nil
}

// scanIDs resolves every id under prefix, keeping those keep accepts (all when nil).
func (x *Index) scanIDs(prefix string, limit int, keep func(Entry) bool) ([]Entry, error) {
	iter := x.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	var out []Entry
	for iter.Next() {
		id := idFromKey(string(iter.Key()), prefix)
		if id == "" {
			continue
		}
		e, err := x.Lookup(id)
		if err != nil || (keep != nil && !keep(e)) {
			continue
		}
		out = append(out, e)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("index: scan: %w", err)
	}
	return newestFirst(out, limit), nil
}

// newestFirst sorts by timestamp descending (RFC3339 sorts lexically) and trims.
func newestFirst(es []Entry, limit int) []Entry {
	if limit <= 0 {
		limit = defaultLimit
	}
	sort.SliceStable(es, func(i, j int) bool { return es[i].Timestamp > es[j].Timestamp })
	if len(es) > limit {
		es = es[:limit]
	}
	return es
}

// ---------------------------------------------------------------------------
// Key helpers
// ---------------------------------------------------------------------------

func textPrefix(text string) string {
	return prefixText + safeKeyPart(normalizeText(text)) + "|"
}

func unicodePrefix(cps []float64) string {
	parts := make([]string, len(cps))
	for i, v := range cps {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return prefixUnicode + strings.Join(parts, ",") + "|"
}

// normalizeText lowercases, trims and truncates text for use in a key.
func normalizeText(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	if r := []rune(t); len(r) > maxTextKeyRunes {
		t = string(r[:maxTextKeyRunes])
	}
	return t
}

func idFromKey(fullKey, prefix string) string {
	if !strings.HasPrefix(fullKey, prefix) {
		return ""
	}
	return fullKey[len(prefix):]
}

// safeKeyPart replaces "|" with "_" so LevelDB keys parse unambiguously.
func safeKeyPart(s string) string {
	return strings.ReplaceAll(s, "|", "_")
}
