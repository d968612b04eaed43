// Package organize exports every stored calculation as a flat, de-duplicated
// table with summary statistics.
package organize

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/haricheung/nbscore/internal/store"
	"github.com/haricheung/nbscore/internal/types"
)

const (
	// DirName is the default output directory under the data root.
	DirName    = "nb_results"
	LatestName = "latest_results.json"
	LatestRows = 100
)

// ErrNoResults is returned when the max tree holds no readable leaves.
var ErrNoResults = errors.New("organize: no results found")

// Row is one run of one calculation.
type Row struct {
	ID         string          `json:"id"`
	Timestamp  string          `json:"timestamp"`
	Type       types.InputType `json:"type"`
	Category   string          `json:"category"`
	Input      string          `json:"input"`
	Run        int             `json:"run"`
	NBMax      float64         `json:"nb_max"`
	NBMin      float64         `json:"nb_min"`
	Difference float64         `json:"difference"`
}

var csvHeader = []string{"id", "timestamp", "type", "category", "input", "run", "nb_max", "nb_min", "difference"}

func (r Row) csvRecord() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return []string{r.ID, r.Timestamp, string(r.Type), r.Category, r.Input, strconv.Itoa(r.Run), f(r.NBMax), f(r.NBMin), f(r.Difference)}
}

// Stats summarises an export.
type Stats struct {
	TotalCount     int       `json:"total_count"`
	CollectionTime string    `json:"collection_time"`
	Breakdown      Breakdown `json:"breakdown"`
}

// Breakdown holds per-type and per-category row counts.
type Breakdown struct {
	ByType     map[string]int `json:"by_type"`
	ByCategory map[string]int `json:"by_category"`
}

// Report describes one organize pass.
type Report struct {
	Scanned    int    `json:"scanned"`
	Extracted  int    `json:"extracted"`
	Removed    int    `json:"removed"`
	Stats      Stats  `json:"statistics"`
	JSONPath   string `json:"json_path"`
	CSVPath    string `json:"csv_path"`
	LatestPath string `json:"latest_path"`
}

// Organizer reads the store and writes exports to OutDir.
type Organizer struct {
	store  *store.Store
	outDir string
	now    func() time.Time
}

// New returns an Organizer writing to outDir, or <store root>/nb_results when
// outDir is empty.
func New(st *store.Store, outDir string) *Organizer {
	if outDir == "" {
		outDir = filepath.Join(st.Root(), DirName)
	}
	return &Organizer{store: st, outDir: outDir, now: time.Now}
}

// OutDir returns the export directory.
func (o *Organizer) OutDir() string { return o.outDir }

// Run scans, flattens, de-duplicates and writes the exports.
//
// Expectations:
//   - Rows are ordered newest calculation first, then by run number
//   - Two rows that differ only in id and timestamp are duplicates; the newest is kept
//   - latest_results.json is overwritten and holds at most the first 100 rows
//   - Returns ErrNoResults and writes nothing when no leaf is readable
func (o *Organizer) Run(ctx context.Context) (Report, error) {
	var rep Report
	var rows []Row
	err := o.store.Walk(ctx, func(_ string, rec types.Record) error {
		rep.Scanned++
		rows = append(rows, Flatten(rec)...)
		return nil
	})
	if err != nil {
		return rep, err
	}
	if rep.Scanned == 0 {
		return rep, ErrNoResults
	}
	log.Printf("[ORGANIZE] scanned %d leaves, %d rows", rep.Scanned, len(rows))

	sortRows(rows)
	rep.Extracted = len(rows)
	rows = Dedupe(rows)
	rep.Removed = rep.Extracted - len(rows)

	now := o.now()
	rep.Stats = Summarize(rows, now)

	if err := os.MkdirAll(o.outDir, 0o755); err != nil {
		return rep, fmt.Errorf("organize: %w", err)
	}
	stamp := now.Format("20060102_150405")
	rep.JSONPath = filepath.Join(o.outDir, "organized_results_"+stamp+".json")
	rep.CSVPath = filepath.Join(o.outDir, "organized_results_"+stamp+".csv")
	rep.LatestPath = filepath.Join(o.outDir, LatestName)

	if err := writeJSON(rep.JSONPath, rep.Stats, rows); err != nil {
		return rep, err
	}
	if err := writeCSV(rep.CSVPath, rows); err != nil {
		return rep, err
	}
	if err := writeJSON(rep.LatestPath, rep.Stats, rows[:min(len(rows), LatestRows)]); err != nil {
		return rep, err
	}
	log.Printf("[ORGANIZE] wrote %d rows (%d duplicates removed) to %s", len(rows), rep.Removed, o.outDir)
	return rep, nil
}

// Flatten turns a record into one row per run. A record without runs yields a
// single row carrying its top-level scores as run 0.
func Flatten(rec types.Record) []Row {
	base := Row{ID: rec.ID, Timestamp: rec.Timestamp, Type: rec.Type, Category: rec.Category, Input: rec.Input}
	if len(rec.Results) == 0 {
		base.NBMax, base.NBMin, base.Difference = rec.NBMax, rec.NBMin, rec.Difference
		return []Row{base}
	}
	out := make([]Row, 0, len(rec.Results))
	for _, run := range rec.Results {
		r := base
		r.Run, r.NBMax, r.NBMin, r.Difference = run.Run, run.NBMax, run.NBMin, run.Difference
		out = append(out, r)
	}
	return out
}

// Dedupe drops rows whose canonical JSON, ignoring id and timestamp, was
// already seen. Order is preserved.
func Dedupe(rows []Row) []Row {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0:0]
	for _, r := range rows {
		k := r
		k.ID, k.Timestamp = "", ""
		b, _ := json.Marshal(k)
		if _, dup := seen[string(b)]; dup {
			continue
		}
		seen[string(b)] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Summarize counts rows by type and category.
func Summarize(rows []Row, now time.Time) Stats {
	st := Stats{
		TotalCount:     len(rows),
		CollectionTime: now.Format(time.RFC3339),
		Breakdown:      Breakdown{ByType: map[string]int{}, ByCategory: map[string]int{}},
	}
	for _, r := range rows {
		typ := string(r.Type)
		if typ == "" {
			typ = "unknown"
		}
		cat := r.Category
		if cat == "" {
			cat = "uncategorized"
		}
		st.Breakdown.ByType[typ]++
		st.Breakdown.ByCategory[cat]++
	}
	return st
}

// ---------------------------------------------------------------------------
// Internal
// ---------------------------------------------------------------------------

func sortRows(rows []Row) {
	ts := func(s string) time.Time {
		t, _ := time.Parse(time.RFC3339Nano, s)
		return t
	}
	sort.SliceStable(rows, func(i, j int) bool {
		ti, tj := ts(rows[i].Timestamp), ts(rows[j].Timestamp)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		if rows[i].ID != rows[j].ID {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].Run < rows[j].Run
	})
}

func writeJSON(path string, st Stats, rows []Row) error {
	if rows == nil {
		rows = []Row{}
	}
	data, err := json.MarshalIndent(struct {
		Statistics Stats `json:"statistics"`
		Results    []Row `json:"results"`
	}{st, rows}, "", "  ")
	if err != nil {
		return fmt.Errorf("organize: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("organize: write %s: %w", path, err)
	}
	return nil
}

// writeCSV writes a UTF-8 CSV prefixed with a byte-order mark.
func writeCSV(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("organize: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString("\ufeff"); err != nil {
		return fmt.Errorf("organize: write %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	w.Write(csvHeader)
	for _, r := range rows {
		w.Write(r.csvRecord())
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("organize: write %s: %w", path, err)
	}
	return f.Close()
}
