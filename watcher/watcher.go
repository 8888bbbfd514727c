// Package watcher tracks project files and the baseline of what has been
// synchronized to the remote bundle.
//
// The watcher keeps two views of the project: the current content hash of
// every tracked file, refreshed by scans and fsnotify events, and the
// baseline, the hash each file had when it was last bundled. The difference
// between the two is the pending work the sync loop reads through State.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/pithecene-io/bundlesync/log"
	"github.com/pithecene-io/bundlesync/state"
	"github.com/pithecene-io/bundlesync/types"
)

// DefaultMaxFileSize is the default size above which files are not tracked.
const DefaultMaxFileSize = 1 << 20

// DefaultDebounce is the default quiet period before fsnotify events are applied.
const DefaultDebounce = 300 * time.Millisecond

// DefaultIgnore lists patterns ignored in addition to the configured ones.
var DefaultIgnore = []string{".git", ".hg", ".svn", "node_modules", ".bundlesync"}

// Config configures a Watcher.
type Config struct {
	// Root is the project directory (required).
	Root string
	// Ignore holds glob patterns matched against the slash-separated
	// relative path and against the base name.
	Ignore []string
	// MaxFileSize skips larger files (default 1 MiB).
	MaxFileSize int64
	// Debounce is the quiet period for fsnotify events (default 300ms).
	Debounce time.Duration
	// Store receives the scanning busy flag. Optional.
	Store state.Store
	// OnInitialScan is called once the first full scan has completed.
	OnInitialScan func()
	// Logger is the watcher logger. Nil discards output.
	Logger *log.Logger
}

type fileState struct {
	hash    string
	size    int64
	modTime time.Time
}

// Watcher tracks project files. Safe for concurrent use.
type Watcher struct {
	root          string
	ignores       []glob.Glob
	maxFileSize   int64
	debounce      time.Duration
	store         state.Store
	onInitialScan func()
	logger        *log.Logger

	mu       sync.Mutex
	current  map[string]fileState
	baseline map[string]string

	fsw     *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New creates a watcher. Ignore patterns are compiled eagerly.
func New(cfg Config) (*Watcher, error) {
	if cfg.Root == "" {
		return nil, errors.New("watcher requires a project root")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", root)
	}

	patterns := append(append([]string{}, DefaultIgnore...), cfg.Ignore...)
	ignores := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", p, err)
		}
		ignores = append(ignores, g)
	}

	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	return &Watcher{
		root:          root,
		ignores:       ignores,
		maxFileSize:   cfg.MaxFileSize,
		debounce:      cfg.Debounce,
		store:         cfg.Store,
		onInitialScan: cfg.OnInitialScan,
		logger:        cfg.Logger,
		current:       make(map[string]fileState),
		baseline:      make(map[string]string),
	}, nil
}

// Root returns the absolute project root.
func (w *Watcher) Root() string {
	return w.root
}

// ignored reports whether rel (slash-separated) matches an ignore pattern.
func (w *Watcher) ignored(rel string) bool {
	base := path.Base(rel)
	for _, g := range w.ignores {
		if g.Match(rel) || g.Match(base) {
			return true
		}
	}
	return false
}

func (w *Watcher) rel(abs string) (string, bool) {
	r, err := filepath.Rel(w.root, abs)
	if err != nil || r == "." || r == ".." || len(r) > 2 && r[:3] == ".."+string(filepath.Separator) {
		return "", false
	}
	return filepath.ToSlash(r), true
}

func (w *Watcher) abs(rel string) string {
	return filepath.Join(w.root, filepath.FromSlash(rel))
}

// Scan walks the whole project and refreshes the current view. Files whose
// size and modification time are unchanged are not re-hashed. The scanning
// busy flag is held for the duration of the walk.
func (w *Watcher) Scan(ctx context.Context) error {
	w.setScanning(ctx, true)
	defer w.setScanning(context.WithoutCancel(ctx), false)

	start := time.Now()
	w.mu.Lock()
	prev := w.current
	w.mu.Unlock()

	next := make(map[string]fileState, len(prev))
	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == w.root {
				return err
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, ok := w.rel(p)
		if !ok {
			return nil
		}
		if w.ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > w.maxFileSize {
			return nil
		}
		if old, ok := prev[rel]; ok && old.size == info.Size() && old.modTime.Equal(info.ModTime()) {
			next[rel] = old
			return nil
		}
		fsState, err := w.hashFile(p, info)
		if err != nil {
			return nil
		}
		next[rel] = fsState
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", w.root, err)
	}

	w.mu.Lock()
	w.current = next
	w.mu.Unlock()

	w.logger.Debug("scan complete", map[string]any{
		"files":       len(next),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

func (w *Watcher) setScanning(ctx context.Context, on bool) {
	if w.store == nil {
		return
	}
	if err := state.SetFlag(ctx, w.store, state.KeyScanning, on); err != nil {
		w.logger.Warn("failed to set scanning flag", map[string]any{
			"on":    on,
			"error": err.Error(),
		})
	}
}

func (w *Watcher) hashFile(abs string, info fs.FileInfo) (fileState, error) {
	content, err := os.ReadFile(abs)
	if err != nil {
		return fileState{}, err
	}
	return fileState{hash: hashContent(content), size: int64(len(content)), modTime: info.ModTime()}, nil
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// refresh re-stats the given relative paths. Missing paths are dropped
// together with everything below them; directories are walked.
func (w *Watcher) refresh(paths []string) {
	for _, rel := range paths {
		if w.ignored(rel) {
			continue
		}
		abs := w.abs(rel)
		info, err := os.Stat(abs)
		switch {
		case err != nil:
			w.forget(rel)
		case info.IsDir():
			w.refreshDir(abs)
		case !info.Mode().IsRegular() || info.Size() > w.maxFileSize:
			w.forget(rel)
		default:
			st, err := w.hashFile(abs, info)
			if err != nil {
				w.forget(rel)
				continue
			}
			w.mu.Lock()
			w.current[rel] = st
			w.mu.Unlock()
		}
	}
}

func (w *Watcher) refreshDir(dir string) {
	var found []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, ok := w.rel(p)
		if !ok {
			return nil
		}
		if w.ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			w.watchDir(p)
			return nil
		}
		found = append(found, rel)
		return nil
	})
	w.refresh(found)
}

func (w *Watcher) forget(rel string) {
	prefix := rel + "/"
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.current, rel)
	for p := range w.current {
		if len(p) > len(prefix) && p[:len(prefix)] == prefix {
			delete(w.current, p)
		}
	}
}

// --- bundle.FileSource ---

// State returns the paths whose current hash differs from the baseline and
// the baseline paths that no longer exist. Both lists are sorted.
func (w *Watcher) State(context.Context) (types.LoopState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var ls types.LoopState
	for p, st := range w.current {
		if w.baseline[p] != st.hash {
			ls.ChangedFiles = append(ls.ChangedFiles, p)
		}
	}
	for p := range w.baseline {
		if _, ok := w.current[p]; !ok {
			ls.RemovedFiles = append(ls.RemovedFiles, p)
		}
	}
	sort.Strings(ls.ChangedFiles)
	sort.Strings(ls.RemovedFiles)
	return ls, nil
}

// BuildBundle hashes paths from disk. Entries carry no content.
func (w *Watcher) BuildBundle(ctx context.Context, paths []string) (types.FileMap, error) {
	return w.ProjectFiles(ctx, paths, false)
}

// ProjectFiles reads paths from disk. Missing, ignored and oversized files
// are omitted.
func (w *Watcher) ProjectFiles(ctx context.Context, paths []string, withContent bool) (types.FileMap, error) {
	files := make(types.FileMap, len(paths))
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if w.ignored(rel) {
			continue
		}
		abs := w.abs(rel)
		info, err := os.Stat(abs)
		if err != nil || !info.Mode().IsRegular() || info.Size() > w.maxFileSize {
			continue
		}
		content, err := os.ReadFile(abs)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		entry := types.FileEntry{
			Path: rel,
			Hash: hashContent(content),
			Size: int64(len(content)),
		}
		if withContent {
			entry.Content = content
		}
		files[rel] = entry
	}
	return files, nil
}

// SynchronizeBundle records changed entries in the baseline with the hash
// they were bundled with and drops removed paths from it.
func (w *Watcher) SynchronizeBundle(_ context.Context, changed types.FileMap, removed []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, e := range changed {
		w.baseline[p] = e.Hash
	}
	for _, p := range removed {
		delete(w.baseline, p)
	}
	return nil
}

// Tracked returns the number of tracked files.
func (w *Watcher) Tracked() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.current)
}
