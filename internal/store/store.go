// Package store persists scored records in two mirrored directory trees.
//
// Layout under the data root:
//
//	nb_max/<key(nb_max)>/results.json   record keyed by its forward score
//	nb_min/<key(nb_min)>/results.json   the same bytes keyed by its reverse score
//	latest.json                         newest records first, capped
//
// Keys come from a pathkey.Deriver, so the tree shape is pluggable. A later
// record with the same score overwrites the earlier leaf in place.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haricheung/nbscore/internal/pathkey"
	"github.com/haricheung/nbscore/internal/types"
)

const (
	MaxRoot    = "nb_max"
	MinRoot    = "nb_min"
	LeafName   = "results.json"
	LatestName = "latest.json"

	DefaultLatestCap = 100
	defaultCacheSize = 512
)

// Store is the dual-root results tree. Writes are serialized; reads go through
// an LRU of decoded leaves that is invalidated on every write.
type Store struct {
	root      string
	deriver   pathkey.Deriver
	latestCap int
	cacheSize int

	mu    sync.Mutex
	cache *lru.Cache[string, types.Record]
}

// Option configures a Store at Open time.
type Option func(*Store)

// WithLatestCap sets how many records latest.json keeps. n <= 0 keeps the default.
func WithLatestCap(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.latestCap = n
		}
	}
}

// WithCacheSize sets the number of decoded leaves held in memory.
func WithCacheSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.cacheSize = n
		}
	}
}

// Open prepares root for use, creating both tree roots if absent.
//
// Expectations:
//   - Creates root/nb_max and root/nb_min
//   - A nil deriver falls back to pathkey.CharDeriver
//   - Returns a wrapped error when the directories cannot be created
func Open(root string, d pathkey.Deriver, opts ...Option) (*Store, error) {
	if d == nil {
		d = pathkey.CharDeriver{}
	}
	s := &Store{
		root:      root,
		deriver:   d,
		latestCap: DefaultLatestCap,
		cacheSize: defaultCacheSize,
	}
	for _, o := range opts {
		o(s)
	}
	for _, dir := range []string{MaxRoot, MinRoot} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("store: open: %w", err)
		}
	}
	cache, err := lru.New[string, types.Record](s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	s.cache = cache
	return s, nil
}

// Root returns the data root directory.
func (s *Store) Root() string { return s.root }

// SetDeriver swaps the key scheme used for subsequent writes and lookups.
func (s *Store) SetDeriver(d pathkey.Deriver) {
	if d == nil {
		return
	}
	s.mu.Lock()
	s.deriver = d
	s.mu.Unlock()
}

// SetLatestCap changes the latest.json cap; applied on the next Save.
func (s *Store) SetLatestCap(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.latestCap = n
	s.mu.Unlock()
}

// Locate returns the two leaf paths rec would be written to.
func (s *Store) Locate(rec types.Record) types.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locate(rec)
}

func (s *Store) locate(rec types.Record) types.Location {
	return types.Location{
		MaxPath: filepath.Join(s.root, MaxRoot, s.deriver.Derive(rec.NBMax).Path(), LeafName),
		MinPath: filepath.Join(s.root, MinRoot, s.deriver.Derive(rec.NBMin).Path(), LeafName),
	}
}

// Save writes rec under both roots and prepends it to latest.json.
//
// Expectations:
//   - Marshals once; both leaves receive byte-identical payloads
//   - latest.json holds at most the configured cap, newest first
//   - latest.json is replaced atomically (temp file + rename)
//   - Returns ctx.Err() without writing when ctx is already done
func (s *Store) Save(ctx context.Context, rec types.Record) (types.Location, error) {
	if err := ctx.Err(); err != nil {
		return types.Location{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, err := s.writeLeaves(rec)
	if err != nil {
		return types.Location{}, err
	}

	latest, err := s.readLatest()
	if err != nil {
		log.Printf("[STORE] latest unreadable, starting fresh: %v", err)
		latest = nil
	}
	latest = append([]types.Record{rec}, latest...)
	if len(latest) > s.latestCap {
		latest = latest[:s.latestCap]
	}
	if err := s.writeLatest(latest); err != nil {
		return loc, err
	}
	log.Printf("[STORE] saved id=%s max=%s min=%s", rec.ID, loc.MaxPath, loc.MinPath)
	return loc, nil
}

// Rewrite rewrites both leaves of rec, e.g. after a view-count bump, and
// refreshes its latest.json entry in place when present.
func (s *Store) Rewrite(ctx context.Context, rec types.Record) (types.Location, error) {
	if err := ctx.Err(); err != nil {
		return types.Location{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, err := s.writeLeaves(rec)
	if err != nil {
		return types.Location{}, err
	}
	latest, err := s.readLatest()
	if err != nil {
		return loc, nil
	}
	for i := range latest {
		if latest[i].ID == rec.ID {
			latest[i] = rec
			if err := s.writeLatest(latest); err != nil {
				return loc, err
			}
			break
		}
	}
	return loc, nil
}

// Read decodes the record stored at path.
func (s *Store) Read(path string) (types.Record, error) {
	if rec, ok := s.cache.Get(path); ok {
		return rec, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Record{}, fmt.Errorf("store: read: %w", err)
	}
	var rec types.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.Record{}, fmt.Errorf("store: decode %s: %w", path, err)
	}
	s.cache.Add(path, rec)
	return rec, nil
}

// Latest returns the records in latest.json, newest first. A missing file is
// an empty list, not an error.
func (s *Store) Latest() ([]types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLatest()
}

// Walk calls fn for every leaf under the max root. Unreadable leaves are
// logged and skipped. Returning an error from fn stops the walk.
func (s *Store) Walk(ctx context.Context, fn func(path string, rec types.Record) error) error {
	base := filepath.Join(s.root, MaxRoot)
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || d.Name() != LeafName {
			return nil
		}
		rec, err := s.Read(path)
		if err != nil {
			log.Printf("[STORE] skipping %s: %v", path, err)
			return nil
		}
		return fn(path, rec)
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("store: walk: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Internal
// ---------------------------------------------------------------------------

func (s *Store) writeLeaves(rec types.Record) (types.Location, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return types.Location{}, fmt.Errorf("store: marshal %s: %w", rec.ID, err)
	}
	loc := s.locate(rec)
	for _, path := range []string{loc.MaxPath, loc.MinPath} {
		if err := writeFileAtomic(path, data); err != nil {
			return types.Location{}, fmt.Errorf("store: write %s: %w", path, err)
		}
		s.cache.Remove(path)
	}
	return loc, nil
}

func (s *Store) readLatest() ([]types.Record, error) {
	data, err := os.ReadFile(filepath.Join(s.root, LatestName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read latest: %w", err)
	}
	var out []types.Record
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("store: decode latest: %w", err)
	}
	return out, nil
}

func (s *Store) writeLatest(recs []types.Record) error {
	if recs == nil {
		recs = []types.Record{}
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal latest: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.root, LatestName), data); err != nil {
		return fmt.Errorf("store: write latest: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to a temp file in path's directory and renames it
// over path, creating parent directories as needed.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}
