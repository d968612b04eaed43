package organize

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/haricheung/nbscore/internal/pathkey"
	"github.com/haricheung/nbscore/internal/store"
	"github.com/haricheung/nbscore/internal/types"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir(), pathkey.CharDeriver{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return st
}

func record(id, ts, input string, typ types.InputType, max, min float64, runs int) types.Record {
	rec := types.Record{
		ID: id, Timestamp: ts, Type: typ, Input: input, Category: "general",
		NBMax: max, NBMin: min, Difference: max - min,
	}
	for i := range runs {
		rec.Results = append(rec.Results, types.Run{Run: i + 1, NBMax: max, NBMin: min, Difference: max - min})
	}
	return rec
}

func TestFlatten(t *testing.T) {
	rows := Flatten(record("a", "t", "x", types.InputText, 2, 1, 3))
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[2].Run != 3 || rows[2].ID != "a" || rows[2].Category != "general" {
		t.Errorf("row = %+v", rows[2])
	}

	bare := Flatten(record("b", "t", "x", types.InputNumber, 2, 1, 0))
	if len(bare) != 1 || bare[0].Run != 0 || bare[0].NBMax != 2 {
		t.Errorf("bare = %+v", bare)
	}
}

func TestDedupe_IgnoresIDAndTimestamp(t *testing.T) {
	rows := []Row{
		{ID: "new", Timestamp: "2", Input: "x", Run: 1, NBMax: 2},
		{ID: "old", Timestamp: "1", Input: "x", Run: 1, NBMax: 2},
		{ID: "other", Timestamp: "1", Input: "y", Run: 1, NBMax: 2},
	}
	out := Dedupe(rows)
	if len(out) != 2 || out[0].ID != "new" || out[1].ID != "other" {
		t.Errorf("Dedupe = %+v", out)
	}
}

func TestSummarize(t *testing.T) {
	rows := []Row{
		{Type: types.InputText, Category: "general"},
		{Type: types.InputText},
		{Type: types.InputNumber, Category: "general"},
	}
	st := Summarize(rows, time.Unix(0, 0))
	if st.TotalCount != 3 {
		t.Errorf("TotalCount = %d", st.TotalCount)
	}
	if st.Breakdown.ByType["text"] != 2 || st.Breakdown.ByType["number"] != 1 {
		t.Errorf("ByType = %v", st.Breakdown.ByType)
	}
	if st.Breakdown.ByCategory["general"] != 2 || st.Breakdown.ByCategory["uncategorized"] != 1 {
		t.Errorf("ByCategory = %v", st.Breakdown.ByCategory)
	}
}

func TestRun_NoResults(t *testing.T) {
	o := New(newStore(t), "")
	if _, err := o.Run(context.Background()); !errors.Is(err, ErrNoResults) {
		t.Fatalf("err = %v, want ErrNoResults", err)
	}
	if _, err := os.Stat(o.OutDir()); !os.IsNotExist(err) {
		t.Error("output dir created for an empty store")
	}
}

func TestRun_WritesExports(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	recs := []types.Record{
		record("r1", "2026-01-01T00:00:00Z", "hello", types.InputText, 3.5, 1.25, 2),
		record("r2", "2026-01-02T00:00:00Z", "1 2 3", types.InputNumber, 1.821111111111111, 3.7155555555555546, 1),
		record("r3", "2026-01-03T00:00:00Z", "hello", types.InputText, 3.5, 1.25, 1),
	}
	// r3 lives in its own leaf but its only run repeats r1's first run
	recs[2].NBMax = 9.5
	for _, rec := range recs {
		if _, err := st.Save(ctx, rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	o := New(st, filepath.Join(t.TempDir(), "out"))
	o.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	rep, err := o.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Scanned != 3 || rep.Extracted != 4 || rep.Removed != 1 {
		t.Errorf("report = %+v", rep)
	}
	if filepath.Base(rep.JSONPath) != "organized_results_20260304_050607.json" {
		t.Errorf("JSONPath = %s", rep.JSONPath)
	}

	data, err := os.ReadFile(rep.JSONPath)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Statistics Stats `json:"statistics"`
		Results    []Row `json:"results"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Statistics.TotalCount != 3 || len(doc.Results) != 3 {
		t.Fatalf("doc = %+v", doc)
	}
	if doc.Results[0].ID != "r3" || doc.Results[2].ID != "r1" || doc.Results[2].Run != 2 {
		t.Errorf("rows = %+v", doc.Results)
	}

	raw, err := os.ReadFile(rep.CSVPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(raw, []byte("\ufeff")) {
		t.Error("CSV missing byte-order mark")
	}
	lines, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, []byte("\ufeff")))).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 4 || lines[0][0] != "id" || lines[2][6] != "1.821111111111111" {
		t.Errorf("csv = %v", lines)
	}

	if _, err := os.Stat(rep.LatestPath); err != nil {
		t.Errorf("latest_results.json: %v", err)
	}
}

func TestRun_LatestCapped(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	// 60 records x 2 distinct runs each = 120 rows
	for i := range 60 {
		id := "id" + strconv.Itoa(i)
		rec := record(id, "2026-01-01T00:00:00Z", id, types.InputText, float64(i)+0.5, 0.25, 0)
		rec.Results = []types.Run{
			{Run: 1, NBMax: rec.NBMax, NBMin: 0.25},
			{Run: 2, NBMax: rec.NBMax, NBMin: 0.5},
		}
		if _, err := st.Save(ctx, rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	o := New(st, "")
	rep, err := o.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	data, err := os.ReadFile(rep.LatestPath)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Results []Row `json:"results"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Results) != LatestRows {
		t.Errorf("latest rows = %d, want %d", len(doc.Results), LatestRows)
	}
}
