// Package bundle implements the bundle lifecycle engine.
//
// The engine keeps one remote bundle consistent with local edits. Each call
// to Cycle decides between create, check and extend, drives the chunked upload
// of file contents, and on full success advances the watcher baseline and
// signals the downstream analyzer. Errors never escape a cycle: they are
// reported through the returned Outcome and logged.
//
// States are implicit in the state store: no stored bundle id means
// NO_BUNDLE, a stored id means BUNDLE_ACTIVE.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/bundlesync/adapter"
	"github.com/pithecene-io/bundlesync/log"
	"github.com/pithecene-io/bundlesync/metrics"
	"github.com/pithecene-io/bundlesync/state"
	"github.com/pithecene-io/bundlesync/transport"
	"github.com/pithecene-io/bundlesync/types"
	"github.com/pithecene-io/bundlesync/upload"
)

// FileSource is the file watcher as seen by the engine.
type FileSource interface {
	// State returns the pending changed and removed paths.
	State(ctx context.Context) (types.LoopState, error)
	// BuildBundle hashes paths into a file map without content.
	// Paths that no longer exist are omitted.
	BuildBundle(ctx context.Context, paths []string) (types.FileMap, error)
	// SynchronizeBundle advances the baseline: changed entries are recorded
	// with the hash they were bundled with, removed paths are forgotten.
	SynchronizeBundle(ctx context.Context, changed types.FileMap, removed []string) error
	// ProjectFiles builds a file map for paths, loading content when withContent is set.
	ProjectFiles(ctx context.Context, paths []string, withContent bool) (types.FileMap, error)
}

// Trigger signals the downstream analyzer. Signal may block; the engine
// always calls it off the cycle goroutine.
type Trigger interface {
	Signal(ctx context.Context, event *adapter.BundleReadyEvent) error
}

// Ledger records bundle operations.
type Ledger interface {
	Append(ctx context.Context, rec types.OperationRecord) error
}

// Config configures an Engine.
type Config struct {
	// Store holds the bundle id, session token and busy flags (required).
	Store state.Store
	// Files is the file watcher (required).
	Files FileSource
	// Transport performs the bundle RPCs (required).
	Transport transport.Transport
	// Queue uploads chunks. If nil, a queue with default settings over
	// Transport is used.
	Queue *upload.Queue
	// MaxPayload bounds the cumulative size of one chunk (default 4 MiB).
	MaxPayload int64
	// Trigger is the optional downstream analysis signal.
	Trigger Trigger
	// Ledger is the optional operation archive.
	Ledger Ledger
	// Collector records session metrics. Nil disables metrics.
	Collector *metrics.Collector
	// Session identifies this client session in events and records.
	Session log.Session
	// Logger is the engine logger. Nil discards output.
	Logger *log.Logger
}

// Engine is the bundle lifecycle state machine.
// Cycle must not be called concurrently; the scheduler guarantees that.
type Engine struct {
	store      state.Store
	files      FileSource
	transport  transport.Transport
	queue      *upload.Queue
	maxPayload int64
	trigger    Trigger
	ledger     Ledger
	collector  *metrics.Collector
	session    log.Session
	logger     *log.Logger
	progress   *upload.Progress

	mu   sync.Mutex
	loop types.LoopState

	// idle is set after an empty cycle has been reported at info level.
	idle bool

	signals sync.WaitGroup
}

// NewEngine creates an engine. Returns an error if a required collaborator is missing.
func NewEngine(cfg *Config) (*Engine, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("bundle engine requires a state store")
	case cfg.Files == nil:
		return nil, errors.New("bundle engine requires a file source")
	case cfg.Transport == nil:
		return nil, errors.New("bundle engine requires a transport")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	queue := cfg.Queue
	if queue == nil {
		queue = upload.NewQueue(cfg.Transport, upload.QueueConfig{}, logger)
	}
	maxPayload := cfg.MaxPayload
	if maxPayload <= 0 {
		maxPayload = upload.DefaultMaxPayload
	}

	return &Engine{
		store:      cfg.Store,
		files:      cfg.Files,
		transport:  cfg.Transport,
		queue:      queue,
		maxPayload: maxPayload,
		trigger:    cfg.Trigger,
		ledger:     cfg.Ledger,
		collector:  cfg.Collector,
		session:    cfg.Session,
		logger:     logger,
		progress:   upload.NewProgress(),
	}, nil
}

// LoopState returns the pending work mirrored at the start of the last cycle.
// It is empty after a successful bundle operation.
func (e *Engine) LoopState() types.LoopState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loop
}

// Progress returns the upload counters of the most recent upload operation.
func (e *Engine) Progress() upload.ProgressSnapshot {
	return e.progress.Snapshot()
}

// Wait blocks until every pending downstream signal has returned.
func (e *Engine) Wait() {
	e.signals.Wait()
}

func (e *Engine) setLoop(ls types.LoopState) {
	e.mu.Lock()
	e.loop = ls
	e.mu.Unlock()
}

// op accumulates what one cycle did, for logging and the ledger.
type op struct {
	name     string
	previous string
	expired  bool
	files    int
	removed  int
	bytes    int64
	chunks   int
	failed   int
	started  time.Time
}

// Cycle runs one lifecycle cycle.
//
// Flow:
//  1. Busy flag set: Deferred(ErrBlocked)
//  2. No changed files: Deferred(ErrNoChanges)
//  3. No stored bundle: create
//  4. Stored bundle: check, then extend (200), create (404) or fail
//  5. Advanced: persist the bundle id
func (e *Engine) Cycle(ctx context.Context) Outcome {
	busy, err := state.Busy(ctx, e.store)
	if err != nil {
		return e.finish(ctx, nil, fatal(err))
	}
	if busy.Any() {
		e.collector.IncCycleSkipped()
		e.logger.Debug("cycle blocked", map[string]any{
			"flags": busy.Active(),
		})
		return deferred(ErrBlocked)
	}

	ls, err := e.files.State(ctx)
	if err != nil {
		return e.finish(ctx, nil, fatal(fmt.Errorf("read watcher state: %w", err)))
	}
	e.setLoop(ls)
	if ls.Empty() {
		e.collector.IncCycleSkipped()
		fields := map[string]any{"removed": len(ls.RemovedFiles)}
		if e.idle {
			e.logger.Debug("no changed files", fields)
		} else {
			e.logger.Info("no changed files", fields)
			e.idle = true
		}
		return deferred(ErrNoChanges)
	}
	e.idle = false

	e.collector.IncCycleStarted()

	token, err := state.SessionToken(ctx, e.store)
	if err != nil {
		return e.finish(ctx, nil, fatal(fmt.Errorf("read session token: %w", err)))
	}
	bundleID, err := state.BundleID(ctx, e.store)
	if err != nil {
		return e.finish(ctx, nil, fatal(fmt.Errorf("read bundle id: %w", err)))
	}

	o := &op{started: time.Now(), previous: bundleID}
	var out Outcome
	if bundleID == "" {
		out = e.create(ctx, o, token, ls)
	} else {
		out = e.checkAndExtend(ctx, o, token, bundleID, ls)
	}
	return e.finish(ctx, o, out)
}

// finish persists, counts, logs and records a cycle outcome.
func (e *Engine) finish(ctx context.Context, o *op, out Outcome) Outcome {
	if out.Kind == Advanced {
		if err := state.SetBundleID(ctx, e.store, out.BundleID); err != nil {
			out = fatal(fmt.Errorf("persist bundle id: %w", err))
		}
	}

	fields := map[string]any{"outcome": out.Kind.String()}
	if o != nil {
		fields["op"] = o.name
		fields["files"] = o.files
		fields["duration_ms"] = time.Since(o.started).Milliseconds()
	}
	if out.Err != nil {
		fields["error"] = out.Err.Error()
	}

	switch out.Kind {
	case Advanced:
		fields["bundle_id"] = out.BundleID
		e.logger.Info("bundle advanced", fields)
	case Deferred:
		e.collector.IncCycleDeferred()
		e.logger.Info("cycle deferred", fields)
	case Fatal:
		e.collector.IncCycleFailed()
		e.logger.Error("cycle failed", fields)
	}

	if o != nil && o.name != "" {
		e.record(ctx, o, out)
	}
	return out
}

func (e *Engine) checkAndExtend(ctx context.Context, o *op, token, bundleID string, ls types.LoopState) Outcome {
	o.name = types.OpCheck
	resp, err := e.transport.CheckBundle(ctx, token, bundleID)
	if err != nil {
		return fatal(fmt.Errorf("%w: check: %w", ErrTransport, err))
	}

	switch {
	case resp.OK():
		return e.extend(ctx, o, token, bundleID, ls)

	case isAuth(resp.StatusCode):
		e.collector.IncAuthError()
		e.logger.Error("bundle check rejected credentials", map[string]any{
			"bundle_id": bundleID,
			"status":    resp.StatusCode,
		})
		return fatal(fmt.Errorf("%w: %w", ErrAuth, transport.NewStatusError("check", resp)))

	case resp.StatusCode == http.StatusNotFound:
		e.collector.IncBundleExpired()
		e.logger.Info("bundle expired, creating a new one", map[string]any{
			"bundle_id": bundleID,
		})
		o.expired = true
		if err := state.SetBundleID(ctx, e.store, ""); err != nil {
			return fatal(fmt.Errorf("clear expired bundle id: %w", err))
		}
		out := e.create(ctx, o, token, ls)
		if out.Err != nil {
			out.Err = fmt.Errorf("%w: %w", ErrBundleExpired, out.Err)
		}
		return out

	default:
		return fatal(fmt.Errorf("%w: %w", ErrTransport, transport.NewStatusError("check", resp)))
	}
}

func (e *Engine) create(ctx context.Context, o *op, token string, ls types.LoopState) Outcome {
	o.name = types.OpCreate
	files, err := e.files.BuildBundle(ctx, ls.ChangedFiles)
	if err != nil {
		return fatal(fmt.Errorf("build bundle: %w", err))
	}
	if len(files) == 0 {
		return deferred(ErrNoFiles)
	}
	o.files = len(files)
	o.bytes = files.TotalSize()

	resp, err := e.transport.CreateBundle(ctx, token, transport.BundleRequest{Files: files.Hashes()})
	if out, failed := e.classify("create", resp, err); failed {
		return out
	}
	if resp.BundleID == "" {
		return fatal(fmt.Errorf("%w: create: response carries no bundle id", ErrTransport))
	}

	if err := e.upload(ctx, o, token, resp.UploadURL, files); err != nil {
		return fatal(err)
	}
	e.collector.IncBundleCreated()
	return e.commit(ctx, o, resp.BundleID, files, ls.RemovedFiles)
}

func (e *Engine) extend(ctx context.Context, o *op, token, bundleID string, ls types.LoopState) Outcome {
	o.name = types.OpExtend
	files, err := e.files.BuildBundle(ctx, ls.ChangedFiles)
	if err != nil {
		return fatal(fmt.Errorf("build bundle: %w", err))
	}
	if len(files) == 0 {
		return advanced(bundleID)
	}
	o.files = len(files)
	o.removed = len(ls.RemovedFiles)
	o.bytes = files.TotalSize()

	resp, err := e.transport.ExtendBundle(ctx, token, bundleID, transport.BundleRequest{
		Files:        files.Hashes(),
		RemovedFiles: ls.RemovedFiles,
	})
	if out, failed := e.classify("extend", resp, err); failed {
		return out
	}
	next := resp.BundleID
	if next == "" {
		next = bundleID
	}

	if err := e.upload(ctx, o, token, resp.UploadURL, files); err != nil {
		return fatal(err)
	}
	e.collector.IncBundleExtended()
	return e.commit(ctx, o, next, files, ls.RemovedFiles)
}

// classify maps a create/extend response to a fatal outcome when it is not a 200.
func (e *Engine) classify(name string, resp *transport.Response, err error) (Outcome, bool) {
	if err != nil {
		return fatal(fmt.Errorf("%w: %s: %w", ErrTransport, name, err)), true
	}
	if resp.OK() {
		return Outcome{}, false
	}
	if isAuth(resp.StatusCode) {
		e.collector.IncAuthError()
		return fatal(fmt.Errorf("%w: %w", ErrAuth, transport.NewStatusError(name, resp))), true
	}
	return fatal(fmt.Errorf("%w: %w", ErrTransport, transport.NewStatusError(name, resp))), true
}

// upload loads content for files, plans chunks and runs the queue.
// It returns an error unless every chunk uploaded.
func (e *Engine) upload(ctx context.Context, o *op, token, uploadURL string, files types.FileMap) error {
	if uploadURL == "" {
		return fmt.Errorf("%w: %s: response carries no upload target", ErrTransport, o.name)
	}

	content, err := e.files.ProjectFiles(ctx, files.Paths(), true)
	if err != nil {
		return fmt.Errorf("load file content: %w", err)
	}
	chunks := upload.Plan(content, e.maxPayload)
	o.chunks = len(chunks)

	if err := state.SetFlag(ctx, e.store, state.KeyUploading, true); err != nil {
		return fmt.Errorf("set uploading flag: %w", err)
	}
	defer func() {
		if err := state.SetFlag(context.WithoutCancel(ctx), e.store, state.KeyUploading, false); err != nil {
			e.logger.Warn("failed to clear uploading flag", map[string]any{
				"error": err.Error(),
			})
		}
	}()

	e.progress.Reset(chunks)
	e.logger.Debug("uploading chunks", map[string]any{
		"chunks":      len(chunks),
		"files":       len(content),
		"concurrency": e.queue.Concurrency(),
	})

	results := e.queue.Run(ctx, token, uploadURL, chunks, func(r types.UploadResult) {
		if e.progress.Credit(r) {
			e.collector.RecordChunk(r.FilesCount, r.Failed())
		}
	})

	failed := upload.Failed(results)
	o.failed = len(failed)
	if len(failed) > 0 {
		return fmt.Errorf("%w: %d of %d chunks: %w", ErrChunkUpload, len(failed), len(chunks), failed[0].Err)
	}
	return nil
}

// commit advances the baseline, clears the loop state and signals the analyzer.
func (e *Engine) commit(ctx context.Context, o *op, bundleID string, files types.FileMap, removed []string) Outcome {
	if err := e.files.SynchronizeBundle(ctx, files, removed); err != nil {
		// The remote bundle is current; a stale baseline only re-sends these files.
		e.logger.Warn("failed to advance baseline", map[string]any{
			"bundle_id": bundleID,
			"error":     err.Error(),
		})
	}
	e.setLoop(types.LoopState{})
	e.signal(ctx, o, bundleID)
	return advanced(bundleID)
}

func (e *Engine) signal(ctx context.Context, o *op, bundleID string) {
	if e.trigger == nil {
		return
	}
	event := adapter.NewBundleReadyEvent(
		e.session.SessionID, e.session.Project, bundleID, o.name,
		o.files, o.removed, time.Since(o.started),
	)

	e.signals.Add(1)
	go func() {
		defer e.signals.Done()
		if err := e.trigger.Signal(context.WithoutCancel(ctx), event); err != nil {
			e.logger.Warn("analysis signal failed", map[string]any{
				"bundle_id": bundleID,
				"error":     err.Error(),
			})
		}
	}()
}

func (e *Engine) record(ctx context.Context, o *op, out Outcome) {
	if e.ledger == nil {
		return
	}
	rec := types.OperationRecord{
		ID:        uuid.NewString(),
		Project:   e.session.Project,
		Op:        o.name,
		Outcome:   out.Kind.String(),
		BundleID:  out.BundleID,
		Previous:  o.previous,
		Expired:   o.expired,
		Files:     o.files,
		Removed:   o.removed,
		Bytes:     o.bytes,
		Chunks:    o.chunks,
		Failed:    o.failed,
		Duration:  time.Since(o.started).Milliseconds(),
		Timestamp: o.started.UTC(),
	}
	if out.Err != nil {
		rec.Error = out.Err.Error()
	}

	if err := e.ledger.Append(context.WithoutCancel(ctx), rec); err != nil {
		e.collector.IncArchiveWriteFailure()
		e.logger.Warn("failed to archive operation", map[string]any{
			"op":    o.name,
			"error": err.Error(),
		})
		return
	}
	e.collector.IncArchiveWriteSuccess()
}

func isAuth(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}
