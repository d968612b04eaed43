// Package pathkey maps a score to a nested storage key. The default scheme
// spells the score's canonical decimal text one character per directory level,
// so equal scores always land in the same leaf and scores sharing a prefix
// share ancestor directories.
package pathkey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultSegment is the single segment used for zero and non-finite scores.
const DefaultSegment = "0"

// Key is an ordered list of path segments.
type Key []string

// Path joins the segments with the OS path separator. A "." segment names no
// directory of its own and resolves to its parent, which is how the existing
// result trees are laid out on disk.
func (k Key) Path() string {
	return filepath.Join(k...)
}

// String joins the segments with "/" regardless of OS.
func (k Key) String() string {
	return strings.Join(k, "/")
}

// Deriver turns a score into a storage key. Implementations must be pure:
// the same score always yields the same key.
type Deriver interface {
	Derive(score float64) Key
}

// Canonical returns the shortest round-trip decimal text of v in the layout the
// stored trees were created with: positional notation (integral values keep a
// trailing ".0") when 1e-4 <= |v| < 1e16, exponent notation with at least two
// exponent digits otherwise. Zero and non-finite values return DefaultSegment.
//
// Expectations:
//   - Canonical(1.5) == "1.5", Canonical(-2) == "-2.0"
//   - Canonical(1e-7) == "1e-07", Canonical(1e16) == "1e+16"
//   - Canonical(0), Canonical(NaN), Canonical(±Inf) == "0"
func Canonical(v float64) string {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return DefaultSegment
	}
	sci := strconv.FormatFloat(v, 'e', -1, 64)
	exp, err := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if err != nil {
		return sci
	}
	if exp < -4 || exp >= 16 {
		return sci
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// CharDeriver is the character-granular scheme: every digit, decimal point and
// minus sign of the canonical text becomes one segment, with '-' written as '_'.
// Exponent markers are dropped.
//
// Expectations:
//   - Derive(1.5) == ["1", ".", "5"]
//   - Derive(-1.5) == ["_", "1", ".", "5"]
//   - Derive(0), Derive(NaN), Derive(±Inf) == ["0"]
type CharDeriver struct{}

// Derive implements Deriver.
func (CharDeriver) Derive(score float64) Key {
	text := strings.ReplaceAll(Canonical(score), "-", "_")
	key := make(Key, 0, len(text))
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == '_' || r == '.' {
			key = append(key, string(r))
		}
	}
	if len(key) == 0 {
		return Key{DefaultSegment}
	}
	return key
}

// HashDeriver spreads keys over a fixed-depth tree of hex segments taken from
// the sha256 of the canonical text. Depth <= 0 uses 4; Depth is capped at 64.
type HashDeriver struct {
	Depth int
}

// Derive implements Deriver.
func (h HashDeriver) Derive(score float64) Key {
	depth := h.Depth
	if depth <= 0 {
		depth = 4
	}
	sum := sha256.Sum256([]byte(Canonical(score)))
	digest := hex.EncodeToString(sum[:])
	depth = min(depth, len(digest))
	key := make(Key, depth)
	for i := range depth {
		key[i] = digest[i : i+1]
	}
	return key
}

// ForScheme returns the deriver registered under name: "char" (or "") and
// "hash". Unknown names are an error.
func ForScheme(name string, depth int) (Deriver, error) {
	switch name {
	case "", "char":
		return CharDeriver{}, nil
	case "hash":
		return HashDeriver{Depth: depth}, nil
	default:
		return nil, fmt.Errorf("pathkey: unknown scheme %q", name)
	}
}
