package visits

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestLog(t *testing.T, opts ...Option) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "visits.db"), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecord_PrunesToKeep(t *testing.T) {
	// Only the most recent keep rows survive
	l := openTestLog(t, WithKeep(3))
	ctx := context.Background()
	for range 5 {
		if err := l.Record(ctx, Visit{Path: "/api/stats"}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	n, err := l.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestByHour_BucketsInLocation(t *testing.T) {
	l := openTestLog(t, WithLocation(time.UTC))
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, h := range []int{9, 9, 14, 0} {
		l.Record(ctx, Visit{Time: day.Add(time.Duration(h)*time.Hour + 5*time.Minute)})
	}
	got, err := l.ByHour(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []HourCount{{"00:00", 1}, {"09:00", 2}, {"14:00", 1}}
	if len(got) != len(want) {
		t.Fatalf("ByHour = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestByHour_EmptyIsEmptySlice(t *testing.T) {
	l := openTestLog(t)
	got, err := l.ByHour(context.Background())
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("ByHour = %#v, %v; want empty non-nil", got, err)
	}
}

func TestTopKeywords_OrderAndBlankSkipped(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	for _, k := range []string{"hello", "안녕", "hello", "  ", "", "안녕", "hello", "zeta"} {
		l.Record(ctx, Visit{Keyword: k})
	}
	got, err := l.TopKeywords(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []KeywordCount{{"hello", 3}, {"안녕", 2}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("TopKeywords = %+v, want %+v", got, want)
	}
}
