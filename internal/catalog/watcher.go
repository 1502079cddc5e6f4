package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc reloads definitions, typically Store.Reload.
type ReloadFunc func(ctx context.Context) (ReloadReport, error)

// Watcher triggers a reload whenever the definitions file changes. Bursts
// of events within the debounce window collapse into a single reload.
//
// The parent directory is watched rather than the file itself so that
// editors replacing the file through a rename are still noticed.
type Watcher struct {
	file     string
	debounce time.Duration
	reload   ReloadFunc
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a watcher for file. Call Serve to start it.
func NewWatcher(file string, debounce time.Duration, reload ReloadFunc) (*Watcher, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("resolve definitions path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		file:     abs,
		debounce: debounce,
		reload:   reload,
		watcher:  fsw,
	}, nil
}

// Serve processes file events until ctx is cancelled or Close is called.
// It blocks and should run in its own goroutine.
func (w *Watcher) Serve(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Definitions watcher error", "error", err)
		case <-fire:
			fire = nil
			report, err := w.reload(ctx)
			if err != nil {
				slog.Error("Definitions reload failed", "file", w.file, "error", err)
				continue
			}
			slog.Info("Definitions reloaded", "file", w.file, "generation", report.Generation)
		}
	}
}

// Close stops watching. Serve returns once the event channels are closed.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.file {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}
