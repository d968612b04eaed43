// Package visits records HTTP API visits in SQLite and answers the two
// dashboard queries: visits per hour of day and most-searched keywords.
package visits

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultKeep is how many of the most recent visits are retained.
const DefaultKeep = 10000

const schemaSQL = `
CREATE TABLE IF NOT EXISTS visits (
    id INTEGER PRIMARY KEY,
    ts INTEGER NOT NULL,
    ip TEXT,
    path TEXT,
    user_agent TEXT,
    keyword TEXT
);
CREATE INDEX IF NOT EXISTS visits_keyword ON visits(keyword);
`

// Visit is one recorded request.
type Visit struct {
	Time      time.Time `json:"timestamp"`
	IP        string    `json:"ip"`
	Path      string    `json:"path"`
	UserAgent string    `json:"user_agent"`
	Keyword   string    `json:"keyword,omitempty"`
}

// HourCount is the number of visits that fell in one hour of the day.
type HourCount struct {
	Hour  string `json:"hour"` // "00:00" .. "23:00"
	Count int    `json:"count"`
}

// KeywordCount is how often a keyword was searched.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// Log is the SQLite visit log.
type Log struct {
	db   *sql.DB
	keep int
	loc  *time.Location
}

// Option configures a Log.
type Option func(*Log)

// WithKeep sets how many rows survive pruning. n <= 0 keeps the default.
func WithKeep(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.keep = n
		}
	}
}

// WithLocation sets the time zone ByHour buckets in. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(l *Log) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// Open opens (or creates) the visit database at path and applies the schema.
func Open(path string, opts ...Option) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("visits: open sqlite: %w", err)
	}
	// One connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("visits: apply schema: %w", err)
	}
	l := &Log{db: db, keep: DefaultKeep, loc: time.Local}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Close closes the database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record inserts v and prunes rows beyond the retention limit.
//
// Expectations:
//   - A zero v.Time is stamped with time.Now()
//   - Keyword is trimmed; empty keywords are stored as NULL
//   - After Record, Count() <= keep
func (l *Log) Record(ctx context.Context, v Visit) error {
	if v.Time.IsZero() {
		v.Time = time.Now()
	}
	var keyword any
	if k := strings.TrimSpace(v.Keyword); k != "" {
		keyword = k
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("visits: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO visits(ts, ip, path, user_agent, keyword) VALUES(?,?,?,?,?)`,
		v.Time.UnixNano(), v.IP, v.Path, v.UserAgent, keyword,
	); err != nil {
		return fmt.Errorf("visits: insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM visits WHERE id NOT IN (SELECT id FROM visits ORDER BY id DESC LIMIT ?)`,
		l.keep,
	); err != nil {
		return fmt.Errorf("visits: prune: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("visits: commit tx: %w", err)
	}
	slog.Debug("[VISITS] recorded", "path", v.Path, "keyword", keyword)
	return nil
}

// Count returns the number of retained visits.
func (l *Log) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM visits`).Scan(&n); err != nil {
		return 0, fmt.Errorf("visits: count: %w", err)
	}
	return n, nil
}

// ByHour returns visit counts per hour of day, in hour order, omitting empty hours.
func (l *Log) ByHour(ctx context.Context) ([]HourCount, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT ts FROM visits`)
	if err != nil {
		return nil, fmt.Errorf("visits: by hour: %w", err)
	}
	defer rows.Close()

	var hours [24]int
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("visits: scan: %w", err)
		}
		hours[time.Unix(0, ts).In(l.loc).Hour()]++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("visits: by hour: %w", err)
	}

	out := []HourCount{}
	for h, n := range hours {
		if n > 0 {
			out = append(out, HourCount{Hour: fmt.Sprintf("%02d:00", h), Count: n})
		}
	}
	return out, nil
}

// TopKeywords returns the most frequent non-empty keywords, most frequent first.
// Ties are broken alphabetically. limit <= 0 means 10.
func (l *Log) TopKeywords(ctx context.Context, limit int) ([]KeywordCount, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT keyword, COUNT(*) AS n FROM visits
WHERE keyword IS NOT NULL
GROUP BY keyword
ORDER BY n DESC, keyword ASC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("visits: top keywords: %w", err)
	}
	defer rows.Close()

	out := []KeywordCount{}
	for rows.Next() {
		var kc KeywordCount
		if err := rows.Scan(&kc.Keyword, &kc.Count); err != nil {
			return nil, fmt.Errorf("visits: scan: %w", err)
		}
		out = append(out, kc)
	}
	return out, rows.Err()
}
