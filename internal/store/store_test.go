package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/haricheung/nbscore/internal/pathkey"
	"github.com/haricheung/nbscore/internal/types"
)

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), pathkey.CharDeriver{}, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func record(id string, max, min float64) types.Record {
	return types.Record{
		ID:       id,
		Type:     types.InputNumber,
		Input:    id,
		Sequence: []float64{1, 2, 3},
		Bound:    5.5,
		NBMax:    max,
		NBMin:    min,
		Results:  []types.Run{{Run: 1, NBMax: max, NBMin: min, Difference: max - min}},
	}
}

func TestOpen_CreatesBothRoots(t *testing.T) {
	s := newStore(t)
	for _, dir := range []string{MaxRoot, MinRoot} {
		if fi, err := os.Stat(filepath.Join(s.Root(), dir)); err != nil || !fi.IsDir() {
			t.Errorf("%s not created: %v", dir, err)
		}
	}
}

func TestSave_LeavesFollowDerivedKeys(t *testing.T) {
	s := newStore(t)
	loc, err := s.Save(context.Background(), record("a", 1.5, -1.5))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	wantMax := filepath.Join(s.Root(), MaxRoot, "1", ".", "5", LeafName)
	wantMin := filepath.Join(s.Root(), MinRoot, "_", "1", ".", "5", LeafName)
	if loc.MaxPath != wantMax {
		t.Errorf("MaxPath = %q, want %q", loc.MaxPath, wantMax)
	}
	if loc.MinPath != wantMin {
		t.Errorf("MinPath = %q, want %q", loc.MinPath, wantMin)
	}
}

func TestSave_IdenticalPayloads(t *testing.T) {
	// Both leaves hold byte-identical payloads
	s := newStore(t)
	loc, err := s.Save(context.Background(), record("a", 1.821111111111111, 3.7155555555555546))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	a, err := os.ReadFile(loc.MaxPath)
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(loc.MinPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("max and min payloads differ")
	}
}

func TestSave_SameScoreOverwritesLeaf(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	first, _ := s.Save(ctx, record("first", 2.5, 1))
	second, _ := s.Save(ctx, record("second", 2.5, 3))
	if first.MaxPath != second.MaxPath {
		t.Fatalf("equal scores should share a leaf")
	}
	rec, err := s.Read(first.MaxPath)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != "second" {
		t.Errorf("leaf id = %q, want second", rec.ID)
	}
}

func TestSave_LatestCappedNewestFirst(t *testing.T) {
	s := newStore(t, WithLatestCap(3))
	ctx := context.Background()
	for i := range 5 {
		if _, err := s.Save(ctx, record(fmt.Sprintf("r%d", i), float64(i)+0.5, -float64(i))); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}
	latest, err := s.Latest()
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 3 {
		t.Fatalf("len(latest) = %d, want 3", len(latest))
	}
	for i, want := range []string{"r4", "r3", "r2"} {
		if latest[i].ID != want {
			t.Errorf("latest[%d] = %q, want %q", i, latest[i].ID, want)
		}
	}
}

func TestSave_CancelledContextWritesNothing(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Save(ctx, record("a", 1, 1)); err == nil {
		t.Fatal("expected context error")
	}
	if latest, _ := s.Latest(); len(latest) != 0 {
		t.Errorf("latest has %d entries after cancelled save", len(latest))
	}
}

func TestLatest_MissingFileIsEmpty(t *testing.T) {
	s := newStore(t)
	latest, err := s.Latest()
	if err != nil || len(latest) != 0 {
		t.Errorf("Latest = %v, %v; want empty, nil", latest, err)
	}
}

func TestRewrite_RefreshesCacheAndLatest(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	rec := record("a", 4.125, 5.48625)
	loc, _ := s.Save(ctx, rec)
	if _, err := s.Read(loc.MaxPath); err != nil { // warm the cache
		t.Fatal(err)
	}
	rec.ViewCount = 7
	if _, err := s.Rewrite(ctx, rec); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	got, _ := s.Read(loc.MaxPath)
	if got.ViewCount != 7 {
		t.Errorf("view_count = %d, want 7", got.ViewCount)
	}
	latest, _ := s.Latest()
	if len(latest) != 1 || latest[0].ViewCount != 7 {
		t.Errorf("latest not refreshed: %+v", latest)
	}
}

func TestWalk_VisitsEveryMaxLeaf(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	s.Save(ctx, record("a", 1.5, 0))
	s.Save(ctx, record("b", -2.25, 0))
	s.Save(ctx, record("c", 0.055, 0))

	seen := map[string]bool{}
	err := s.Walk(ctx, func(path string, rec types.Record) error {
		seen[rec.ID] = true
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if !seen[id] {
			t.Errorf("Walk missed %s", id)
		}
	}
}

func TestWalk_SkipsCorruptLeaf(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	s.Save(ctx, record("good", 1.5, 0))
	bad := filepath.Join(s.Root(), MaxRoot, "9", LeafName)
	os.MkdirAll(filepath.Dir(bad), 0o755)
	os.WriteFile(bad, []byte("{not json"), 0o644)

	n := 0
	if err := s.Walk(ctx, func(string, types.Record) error { n++; return nil }); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if n != 1 {
		t.Errorf("visited %d leaves, want 1", n)
	}
}

func TestSetDeriver_ChangesLayout(t *testing.T) {
	s := newStore(t)
	s.SetDeriver(pathkey.HashDeriver{Depth: 2})
	loc := s.Locate(record("a", 1.5, -1.5))
	key := pathkey.HashDeriver{Depth: 2}.Derive(1.5)
	want := filepath.Join(s.Root(), MaxRoot, key.Path(), LeafName)
	if loc.MaxPath != want {
		t.Errorf("MaxPath = %q, want %q", loc.MaxPath, want)
	}
}
