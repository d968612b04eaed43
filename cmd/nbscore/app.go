package main

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"github.com/haricheung/nbscore/internal/calclog"
	"github.com/haricheung/nbscore/internal/config"
	"github.com/haricheung/nbscore/internal/engine"
	"github.com/haricheung/nbscore/internal/index"
	"github.com/haricheung/nbscore/internal/service"
	"github.com/haricheung/nbscore/internal/store"
	"github.com/haricheung/nbscore/internal/ui"
)

// Files and directories kept under the data dir.
const (
	indexDir    = "index"
	journalDir  = "calclog"
	visitsFile  = "visits.db"
	debugLog    = "debug.log"
	historyFile = ".nbscore_history"
)

// app holds everything one command invocation needs.
type app struct {
	cfg      *config.Config
	store    *store.Store
	idx      *index.Index
	journals *calclog.Registry
	svc      *service.Service
	out      ui.Printer
	logFile  *os.File
}

// openApp loads config and opens the store, index and a journal session
// tagged with source. When quiet is set, log output goes to <data>/debug.log
// instead of stderr.
func openApp(source string, quiet bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	a := &app{cfg: cfg}
	if quiet {
		f, err := os.OpenFile(filepath.Join(cfg.DataDir, debugLog), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("debug log: %w", err)
		}
		a.logFile = f
		redirectLogs(f)
	}

	settings, err := service.SettingsFrom(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store, err = store.Open(cfg.DataDir, settings.Deriver, store.WithLatestCap(cfg.LatestCap))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.idx, err = index.Open(filepath.Join(cfg.DataDir, indexDir))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.journals = calclog.NewRegistry(filepath.Join(cfg.DataDir, journalDir))
	journal := a.journals.Open(uuid.New().String(), source)
	a.svc = service.New(engine.New(), a.store, a.idx, journal, settings)
	a.out = ui.Printer{
		W:      os.Stdout,
		Places: cfg.DecimalPlaces,
		Color:  isatty.IsTerminal(os.Stdout.Fd()),
	}
	return a, nil
}

// Close ends the journal session and releases the index lock.
func (a *app) Close() {
	a.journals.CloseAll()
	if a.idx != nil {
		if err := a.idx.Close(); err != nil {
			log.Printf("[MAIN] close index: %v", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}

func redirectLogs(w io.Writer) {
	log.SetOutput(w)
	slog.SetDefault(slog.New(slog.NewTextHandler(w, nil)))
}
