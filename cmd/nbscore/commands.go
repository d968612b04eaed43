package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haricheung/nbscore/internal/ingest"
	"github.com/haricheung/nbscore/internal/organize"
	"github.com/haricheung/nbscore/internal/service"
	"github.com/haricheung/nbscore/internal/ui"
)

// withApp opens the app for one command and always closes it.
func withApp(source string, fn func(a *app) error) error {
	a, err := openApp(source, true)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func calcCmd() *cobra.Command {
	var (
		file     string
		bit      float64
		runs     int
		category string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "calc [input...]",
		Short: "Score numbers or text and save the result",
		Example: `  nbscore calc 1 2 3
  nbscore calc "안녕하세요" --runs 3
  nbscore calc --file notes.pdf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			input := strings.Join(args, " ")
			if file != "" {
				doc, err := ingest.ParseFile(file)
				if err != nil {
					return err
				}
				input = doc.Text
			}
			req := service.Request{Input: input, Runs: runs, Category: category}
			if cmd.Flags().Changed("bit") {
				if err := service.CheckBound(bit); err != nil {
					return err
				}
				req.Bound = &bit
			}
			return withApp("cli", func(a *app) error {
				res, err := calculate(cmd.Context(), a, req, file != "")
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(res)
				}
				a.out.Result(res)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "score the text of a .txt, .md, .pdf or .docx file")
	cmd.Flags().Float64Var(&bit, "bit", 0, "bound (default from config)")
	cmd.Flags().IntVar(&runs, "runs", 0, "runs for text input (default from config)")
	cmd.Flags().StringVar(&category, "category", "", "category stored with the result")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

// calculate runs one calculation, with a spinner for long document inputs.
func calculate(ctx context.Context, a *app, req service.Request, spin bool) (*service.Result, error) {
	if !spin || !a.out.Color {
		return a.svc.Calculate(ctx, req)
	}
	sp := ui.NewSpinner(os.Stdout)
	sp.SetStatus(fmt.Sprintf("scoring %d characters", len([]rune(req.Input))))
	go sp.Run(ctx)
	res, err := a.svc.Calculate(ctx, req)
	sp.Stop(err == nil)
	return res, err
}

// parseCodePoints reads a comma- or space-separated list of code points.
func parseCodePoints(s string) ([]float64, error) {
	fields := strings.Fields(strings.ReplaceAll(s, ",", " "))
	if len(fields) == 0 {
		return nil, errors.New("empty code point list")
	}
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid code point %q", f)
		}
		out = append(out, v)
	}
	return out, nil
}

func keyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key <score>",
		Short: "Show where a score is stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			score, err := strconv.ParseFloat(args[0], 64)
			if err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
				return fmt.Errorf("invalid score %q", args[0])
			}
			return withApp("cli", func(a *app) error {
				return printJSON(a.svc.Key(score))
			})
		},
	}
}

func searchCmd() *cobra.Command {
	var (
		unicode string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Find saved calculations by text or code points",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := service.Query{Text: strings.Join(args, " "), Limit: limit}
			if unicode != "" {
				cps, err := parseCodePoints(unicode)
				if err != nil {
					return err
				}
				q.CodePoints = cps
			}
			if q.Text == "" && q.CodePoints == nil {
				return errors.New("give text or --unicode")
			}
			return withApp("cli", func(a *app) error {
				entries, err := a.svc.Search(cmd.Context(), q)
				if err != nil {
					return err
				}
				a.out.Entries(entries)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&unicode, "unicode", "", "comma-separated code points, e.g. 72,105")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a saved calculation and count the view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp("cli", func(a *app) error {
				rec, err := a.svc.Load(cmd.Context(), args[0], true)
				if err != nil {
					return err
				}
				a.out.Record(rec, a.store.Locate(rec))
				return nil
			})
		},
	}
}

func recentCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the latest calculations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp("cli", func(a *app) error {
				recs, err := a.svc.Recent(limit)
				if err != nil {
					return err
				}
				a.out.Records(recs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum results")
	return cmd
}

func mostViewedCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "most-viewed",
		Short: "List the most viewed calculations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp("cli", func(a *app) error {
				recs, err := a.svc.MostViewed(cmd.Context(), limit)
				if err != nil {
					return err
				}
				a.out.Records(recs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum results")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show running totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp("cli", func(a *app) error {
				st, err := a.svc.Stats()
				if err != nil {
					return err
				}
				a.out.Stats(st)
				return nil
			})
		},
	}
}

func organizeCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "organize",
		Short: "Export all results as de-duplicated JSON and CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp("cli", func(a *app) error {
				return runOrganize(cmd.Context(), a, out)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output directory (default <data>/nb_results)")
	return cmd
}

func runOrganize(ctx context.Context, a *app, out string) error {
	o := organize.New(a.store, out)
	rep, err := o.Run(ctx)
	if errors.Is(err, organize.ErrNoResults) {
		fmt.Println("no results to organize")
		return nil
	}
	if err != nil {
		return err
	}
	a.out.Success(fmt.Sprintf("%d leaves scanned, %d rows, %d duplicates removed", rep.Scanned, rep.Stats.TotalCount, rep.Removed))
	a.out.Counts("by type", rep.Stats.Breakdown.ByType)
	a.out.Counts("by category", rep.Stats.Breakdown.ByCategory)
	fmt.Println(rep.JSONPath)
	fmt.Println(rep.CSVPath)
	return nil
}
