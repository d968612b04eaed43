package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/haricheung/nbscore/internal/service"
)

const mainPrompt = "nb> "

// queryWords open the query menu instead of being scored.
var queryWords = map[string]bool{"s": true, "search": true, "/s": true, "검색": true, "조회": true}

// runREPL reads inputs until 'q', EOF or ctx is cancelled. Each input is
// scored after asking for a bit value; the query words open a menu over the
// saved results. Logs go to <data>/debug.log so they do not interleave with
// the prompt.
func runREPL(ctx context.Context) error {
	a, err := openApp("repl", true)
	if err != nil {
		return err
	}
	defer a.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          mainPrompt,
		HistoryFile:     filepath.Join(a.cfg.DataDir, historyFile),
		InterruptPrompt: "^C",
		EOFPrompt:       "q",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()
	a.out.W = rl.Stdout()

	fmt.Fprintln(rl.Stdout(), "nbscore: enter numbers or text (q=quit, s=query saved results)")

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		input := strings.TrimSpace(line)
		switch {
		case input == "":
			continue
		case strings.EqualFold(input, "q"):
			fmt.Fprintln(rl.Stdout(), "bye")
			return nil
		case queryWords[strings.ToLower(input)]:
			queryMenu(ctx, rl, a)
			continue
		}

		req := service.Request{Input: input}
		bound, ok := askBound(rl, a.svc.Settings().Bound)
		if !ok {
			continue
		}
		req.Bound = &bound
		res, err := a.svc.Calculate(ctx, req)
		if err != nil {
			a.out.Error(err)
			continue
		}
		a.out.Result(res)
	}
}

// askBound prompts for a bit value; blank keeps def. ok is false when the
// prompt was interrupted.
func askBound(rl *readline.Instance, def float64) (float64, bool) {
	for {
		ans, err := ask(rl, fmt.Sprintf("bit (default %g): ", def))
		if err != nil {
			return 0, false
		}
		if ans == "" {
			return def, true
		}
		v, err := parseBound(ans)
		if err == nil {
			return v, true
		}
		fmt.Fprintf(rl.Stdout(), "%v\n", err)
	}
}

// parseBound reads a bit answer, refusing NaN and infinities.
func parseBound(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if err := service.CheckBound(v); err != nil {
		return 0, err
	}
	return v, nil
}

// ask reads one answer with a temporary prompt.
func ask(rl *readline.Instance, prompt string) (string, error) {
	rl.SetPrompt(prompt)
	defer rl.SetPrompt(mainPrompt)
	line, err := rl.Readline()
	return strings.TrimSpace(line), err
}

func queryMenu(ctx context.Context, rl *readline.Instance, a *app) {
	out := rl.Stdout()
	fmt.Fprintln(out, strings.Repeat("=", 60))
	if st, err := a.svc.Stats(); err == nil {
		a.out.Stats(st)
	}
	fmt.Fprintln(out, "1=recent  2=most viewed  3=search text  4=search code points  5=show id  6=organize")
	choice, err := ask(rl, "choice: ")
	if err != nil {
		return
	}
	fmt.Fprintln(out, strings.Repeat("-", 60))

	switch choice {
	case "1":
		recs, err := a.svc.Recent(10)
		if err != nil {
			a.out.Error(err)
			return
		}
		a.out.Records(recs)
	case "2":
		recs, err := a.svc.MostViewed(ctx, 10)
		if err != nil {
			a.out.Error(err)
			return
		}
		a.out.Records(recs)
	case "3", "4":
		ans, err := ask(rl, "query: ")
		if err != nil || ans == "" {
			return
		}
		q := service.Query{Text: ans}
		if choice == "4" {
			cps, err := parseCodePoints(ans)
			if err != nil {
				a.out.Error(err)
				return
			}
			q = service.Query{CodePoints: cps}
		}
		entries, err := a.svc.Search(ctx, q)
		if err != nil {
			a.out.Error(err)
			return
		}
		a.out.Entries(entries)
	case "5":
		id, err := ask(rl, "id: ")
		if err != nil || id == "" {
			return
		}
		rec, err := a.svc.Load(ctx, id, true)
		if err != nil {
			a.out.Error(err)
			return
		}
		a.out.Record(rec, a.store.Locate(rec))
	case "6":
		if err := runOrganize(ctx, a, ""); err != nil {
			a.out.Error(err)
		}
	default:
		fmt.Fprintf(out, "unknown choice %q\n", choice)
	}
	fmt.Fprintln(out, strings.Repeat("=", 60))
}
