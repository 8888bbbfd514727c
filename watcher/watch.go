package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Start performs the initial scan and then follows fsnotify events until ctx
// is done or Close is called. It returns once watching is set up; the scan
// itself runs in the background and OnInitialScan fires when it completes.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w.fsw = fsw
	w.done = make(chan struct{})
	w.running = true
	w.mu.Unlock()

	if err := w.watchTree(); err != nil {
		_ = w.Close()
		return err
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.Scan(ctx); err != nil {
			w.logger.Error("initial scan failed", map[string]any{
				"error": err.Error(),
			})
		} else {
			w.logger.Info("initial scan complete", map[string]any{
				"files": w.Tracked(),
			})
		}
		if w.onInitialScan != nil {
			w.onInitialScan()
		}
		w.processEvents(ctx)
	}()
	return nil
}

// Close stops watching and blocks until the event loop has exited.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.done)
	fsw := w.fsw
	w.mu.Unlock()

	err := fsw.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// watchTree adds every non-ignored directory under root.
func (w *Watcher) watchTree() error {
	return filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == w.root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := w.rel(p); ok && w.ignored(rel) {
			return filepath.SkipDir
		}
		w.watchDir(p)
		return nil
	})
}

func (w *Watcher) watchDir(dir string) {
	w.mu.Lock()
	fsw := w.fsw
	w.mu.Unlock()
	if fsw == nil {
		return
	}
	if err := fsw.Add(dir); err != nil {
		w.logger.Warn("failed to watch directory", map[string]any{
			"dir":   dir,
			"error": err.Error(),
		})
	}
}

// processEvents collects fsnotify events and applies them after a quiet period.
func (w *Watcher) processEvents(ctx context.Context) {
	debounce := time.NewTimer(w.debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := make(map[string]struct{})

	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			rel, ok := w.rel(event.Name)
			if !ok || w.ignored(rel) {
				continue
			}
			pending[rel] = struct{}{}
			debounce.Reset(w.debounce)

		case <-debounce.C:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			pending = make(map[string]struct{})
			w.refresh(paths)
			w.logger.Debug("applied file events", map[string]any{
				"paths": len(paths),
			})

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", map[string]any{
				"error": err.Error(),
			})
		}
	}
}
