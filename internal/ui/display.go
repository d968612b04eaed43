// Package ui renders calculation results and progress to a terminal.
package ui

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"

	"github.com/haricheung/nbscore/internal/index"
	"github.com/haricheung/nbscore/internal/service"
	"github.com/haricheung/nbscore/internal/types"
)

// ANSI codes
const (
	ansiReset   = "\033[0m"
	ansiBold    = "\033[1m"
	ansiDim     = "\033[2m"
	ansiCyan    = "\033[36m"
	ansiYellow  = "\033[33m"
	ansiGreen   = "\033[32m"
	ansiRed     = "\033[31m"
	ansiMagenta = "\033[35m"
)

const inputCols = 40

// Printer writes formatted output. Color is off when writing to a non-terminal.
type Printer struct {
	W      io.Writer
	Places int
	Color  bool
}

func (p Printer) paint(code, s string) string {
	if !p.Color {
		return s
	}
	return code + s + ansiReset
}

// Score renders v with the printer's decimal places.
func (p Printer) Score(v float64) string {
	return strconv.FormatFloat(v, 'f', p.Places, 64)
}

// Result prints one calculation as a framed block.
func (p Printer) Result(res *service.Result) {
	p.block(res.Record, res.Location, "saved")
}

// Record prints a stored record.
func (p Printer) Record(rec types.Record, loc types.Location) {
	p.block(rec, loc, fmt.Sprintf("%d views", rec.ViewCount))
}

func (p Printer) block(rec types.Record, loc types.Location, footer string) {
	fmt.Fprintf(p.W, "%s\n", p.paint(ansiDim, "┌─── ⚡ nb "+rec.ID+" "+strings.Repeat("─", 20)))
	p.field("input", clipCols(firstLine(rec.Input), 60))
	detail := string(rec.Type)
	if rec.Type == types.InputText {
		detail += fmt.Sprintf(" (%d code points)", len(rec.Unicode))
	} else {
		detail += fmt.Sprintf(" (%d values)", len(rec.Sequence))
	}
	p.field("type", detail)
	p.field("bit", strconv.FormatFloat(rec.Bound, 'g', -1, 64))
	if rec.Category != "" {
		p.field("category", rec.Category)
	}
	for _, run := range rec.Results {
		line := fmt.Sprintf("max %s%s  min %s%s  diff %s",
			p.paint(ansiCyan, p.Score(run.NBMax)), p.fallbackMark(run.MaxFallback),
			p.paint(ansiMagenta, p.Score(run.NBMin)), p.fallbackMark(run.MinFallback),
			p.Score(run.Difference))
		p.field("run "+strconv.Itoa(run.Run), line)
	}
	if loc.MaxPath != "" {
		p.field("max path", p.paint(ansiDim, loc.MaxPath))
		p.field("min path", p.paint(ansiDim, loc.MinPath))
	}
	fmt.Fprintf(p.W, "%s\n", p.paint(ansiDim, "└─── ✅ "+footer+" "+strings.Repeat("─", 30)))
}

// Entries prints index entries as an aligned table.
func (p Printer) Entries(entries []index.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(p.W, p.paint(ansiYellow, "no results"))
		return
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{shortID(e.ID), string(e.Type), p.Score(e.NBMax), p.Score(e.NBMin), clipCols(firstLine(e.Input), inputCols)})
	}
	p.table([]string{"ID", "TYPE", "NB_MAX", "NB_MIN", "INPUT"}, rows)
}

// Records prints records as an aligned table with view counts.
func (p Printer) Records(recs []types.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(p.W, p.paint(ansiYellow, "no results"))
		return
	}
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{shortID(r.ID), string(r.Type), p.Score(r.NBMax), p.Score(r.NBMin), strconv.Itoa(r.ViewCount), clipCols(firstLine(r.Input), inputCols)})
	}
	p.table([]string{"ID", "TYPE", "NB_MAX", "NB_MIN", "VIEWS", "INPUT"}, rows)
}

// Stats prints running totals.
func (p Printer) Stats(st types.Stats) {
	p.field("calculations", humanize.Comma(int64(st.TotalCalculations)))
	p.field("max results", humanize.Comma(int64(st.TotalMaxResults)))
	p.field("min results", humanize.Comma(int64(st.TotalMinResults)))
}

// Counts prints a label → count map sorted by label.
func (p Printer) Counts(title string, m map[string]int) {
	if len(m) == 0 {
		return
	}
	fmt.Fprintln(p.W, p.paint(ansiBold, title))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(p.W, "   - %s: %s\n", k, humanize.Comma(int64(m[k])))
	}
}

// Success prints msg in green.
func (p Printer) Success(msg string) {
	fmt.Fprintln(p.W, p.paint(ansiGreen, msg))
}

// Error prints err in red.
func (p Printer) Error(err error) {
	fmt.Fprintln(p.W, p.paint(ansiRed, "error: "+err.Error()))
}

func (p Printer) field(label, value string) {
	fmt.Fprintf(p.W, "%s %s %s\n", p.paint(ansiDim, "│"), runewidth.FillRight(label, 10), value)
}

func (p Printer) fallbackMark(fell bool) string {
	if !fell {
		return ""
	}
	return p.paint(ansiRed, "*")
}

// table pads every column to its widest cell in display columns.
func (p Printer) table(header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}
	line := func(cells []string) string {
		parts := make([]string, len(cells))
		for i, c := range cells {
			if i == len(cells)-1 {
				parts[i] = c
				continue
			}
			parts[i] = runewidth.FillRight(c, widths[i])
		}
		return strings.Join(parts, "  ")
	}
	fmt.Fprintln(p.W, p.paint(ansiBold, line(header)))
	for _, row := range rows {
		fmt.Fprintln(p.W, line(row))
	}
}

// ---------------------------------------------------------------------------
// Spinner
// ---------------------------------------------------------------------------

var spinRunes = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

// Spinner animates a status line while a long operation runs. All terminal
// writes happen on the Run goroutine.
type Spinner struct {
	w       io.Writer
	mu      sync.Mutex
	status  string
	started time.Time
	doneCh  chan bool
	exited  chan struct{}
}

// NewSpinner creates a Spinner writing to w.
func NewSpinner(w io.Writer) *Spinner {
	return &Spinner{w: w, doneCh: make(chan bool, 1), exited: make(chan struct{})}
}

// SetStatus replaces the label shown next to the spinner.
func (s *Spinner) SetStatus(status string) {
	s.mu.Lock()
	s.status = clipCols(status, 60)
	s.mu.Unlock()
}

// Run animates until Stop is called or ctx is cancelled.
func (s *Spinner) Run(ctx context.Context) {
	defer close(s.exited)
	s.started = time.Now()
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()
	idx := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Fprint(s.w, "\r\033[K")
			return
		case ok := <-s.doneCh:
			icon := "✅"
			if !ok {
				icon = "❌"
			}
			s.mu.Lock()
			status := s.status
			s.mu.Unlock()
			elapsed := time.Since(s.started).Round(time.Millisecond)
			fmt.Fprintf(s.w, "\r\033[K%s %s %v\n", icon, status, elapsed)
			return
		case <-ticker.C:
			frame := spinRunes[idx%len(spinRunes)]
			idx++
			s.mu.Lock()
			status := s.status
			s.mu.Unlock()
			fmt.Fprintf(s.w, "\r%s%s%s %s", ansiCyan, string(frame), ansiReset, status)
		}
	}
}

// Stop ends the animation with a success or failure mark and waits for Run
// to return. Run must have been started.
func (s *Spinner) Stop(success bool) {
	select {
	case s.doneCh <- success:
	default:
	}
	<-s.exited
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// clipCols truncates s to at most cols display columns, appending "…" if trimmed.
func clipCols(s string, cols int) string {
	if runewidth.StringWidth(s) <= cols {
		return s
	}
	return runewidth.Truncate(s, cols, "…")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
