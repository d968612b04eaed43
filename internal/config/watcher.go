package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeHandler receives the newly loaded config after the file changes.
type ChangeHandler func(cfg *Config)

// Watcher reloads the config file when it changes. Bursts of events are
// debounced so editors that write in several steps trigger one reload.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	stop     chan struct{}
	once     sync.Once

	mu       sync.Mutex
	handlers []ChangeHandler
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watcher: %w", err)
	}
	return &Watcher{
		path:     path,
		watcher:  w,
		debounce: 300 * time.Millisecond,
		stop:     make(chan struct{}),
	}, nil
}

// OnChange registers a handler called after each successful reload.
func (cw *Watcher) OnChange(h ChangeHandler) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.handlers = append(cw.handlers, h)
}

// Start watches the file's directory, so atomic replace-by-rename is seen too.
func (cw *Watcher) Start() error {
	if err := cw.watcher.Add(filepath.Dir(cw.path)); err != nil {
		return fmt.Errorf("config: watch %s: %w", cw.path, err)
	}
	go cw.loop()
	slog.Info("[CONFIG] watcher started", "path", cw.path)
	return nil
}

// Stop halts the watcher. Safe to call more than once.
func (cw *Watcher) Stop() {
	cw.once.Do(func() {
		close(cw.stop)
		cw.watcher.Close()
		slog.Info("[CONFIG] watcher stopped")
	})
}

func (cw *Watcher) loop() {
	var timer *time.Timer
	target := filepath.Clean(cw.path)
	for {
		select {
		case <-cw.stop:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(cw.debounce, cw.reload)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("[CONFIG] watcher error", "error", err)
		}
	}
}

func (cw *Watcher) reload() {
	cfg, err := Load(cw.path)
	if err != nil {
		slog.Error("[CONFIG] reload failed; keeping previous settings", "path", cw.path, "error", err)
		return
	}

	cw.mu.Lock()
	handlers := make([]ChangeHandler, len(cw.handlers))
	copy(handlers, cw.handlers)
	cw.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}
	slog.Info("[CONFIG] reloaded", "path", cw.path)
}
