package pricing

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads a Table from its pricing file whenever the file changes.
// A file that fails to parse leaves the current rates in place.
type Watcher struct {
	path     string
	table    *Table
	debounce time.Duration
	logger   zerolog.Logger

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	timer   *time.Timer
	done    chan struct{}
	reloads chan struct{}
}

// NewWatcher watches path and swaps new rates into table.
func NewWatcher(path string, table *Table, logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create pricing watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are still seen.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch pricing dir: %w", err)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		table:    table,
		debounce: 100 * time.Millisecond,
		logger:   logger.With().Str("component", "pricing.watcher").Logger(),
		watcher:  fw,
		done:     make(chan struct{}),
		reloads:  make(chan struct{}, 1),
	}, nil
}

// Reloaded receives a value after each successful reload.
func (w *Watcher) Reloaded() <-chan struct{} {
	return w.reloads
}

// Run processes file events until ctx is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("pricing watcher error")
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	t, err := LoadFile(w.path)
	if err != nil {
		w.logger.Error().Err(err).Str("path", w.path).Msg("pricing reload failed, keeping previous rates")
		return
	}
	w.table.Replace(t)
	w.logger.Info().Str("path", w.path).Int("models", len(t.All())).Msg("pricing reloaded")
	select {
	case w.reloads <- struct{}{}:
	default:
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	return w.watcher.Close()
}
