// Package metrics provides in-process counters for a sync session.
//
// The Collector accumulates counters across sync cycles. It is a leaf package
// with no internal dependencies. Upload counters are recorded per chunk as the
// queue reports completions; bundle counters are recorded per engine outcome.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Cycle lifecycle
	CyclesStarted  int64 `json:"cycles_started"`
	CyclesSkipped  int64 `json:"cycles_skipped"`
	CyclesDeferred int64 `json:"cycles_deferred"`
	CyclesFailed   int64 `json:"cycles_failed"`

	// Bundle lifecycle
	BundlesCreated  int64 `json:"bundles_created"`
	BundlesExtended int64 `json:"bundles_extended"`
	BundlesExpired  int64 `json:"bundles_expired"`
	AuthErrors      int64 `json:"auth_errors"`

	// Upload
	ChunksUploaded int64 `json:"chunks_uploaded"`
	ChunksFailed   int64 `json:"chunks_failed"`
	FilesUploaded  int64 `json:"files_uploaded"`

	// Archive
	ArchiveWriteSuccess int64 `json:"archive_write_success"`
	ArchiveWriteFailure int64 `json:"archive_write_failure"`

	// Dimensions (informational, set at construction)
	Project        string `json:"project"`
	StateBackend   string `json:"state_backend"`
	ArchiveBackend string `json:"archive_backend"`
}

// Collector accumulates metrics during a sync session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	cyclesStarted  int64
	cyclesSkipped  int64
	cyclesDeferred int64
	cyclesFailed   int64

	bundlesCreated  int64
	bundlesExtended int64
	bundlesExpired  int64
	authErrors      int64

	chunksUploaded int64
	chunksFailed   int64
	filesUploaded  int64

	archiveWriteSuccess int64
	archiveWriteFailure int64

	project        string
	stateBackend   string
	archiveBackend string
}

// NewCollector creates a Collector with dimension labels.
// archiveBackend is empty when no archive is configured.
func NewCollector(project, stateBackend, archiveBackend string) *Collector {
	return &Collector{
		project:        project,
		stateBackend:   stateBackend,
		archiveBackend: archiveBackend,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Cycles ---

// IncCycleStarted records a sync cycle that ran the engine.
func (c *Collector) IncCycleStarted() {
	if c == nil {
		return
	}
	c.add(&c.cyclesStarted, 1)
}

// IncCycleSkipped records a cycle skipped because a busy flag was set
// or there was nothing to sync.
func (c *Collector) IncCycleSkipped() {
	if c == nil {
		return
	}
	c.add(&c.cyclesSkipped, 1)
}

// IncCycleDeferred records a cycle whose outcome was Deferred.
func (c *Collector) IncCycleDeferred() {
	if c == nil {
		return
	}
	c.add(&c.cyclesDeferred, 1)
}

// IncCycleFailed records a cycle whose outcome was Fatal.
func (c *Collector) IncCycleFailed() {
	if c == nil {
		return
	}
	c.add(&c.cyclesFailed, 1)
}

// --- Bundles ---

// IncBundleCreated records a successful bundle creation.
func (c *Collector) IncBundleCreated() {
	if c == nil {
		return
	}
	c.add(&c.bundlesCreated, 1)
}

// IncBundleExtended records a successful bundle extension.
func (c *Collector) IncBundleExtended() {
	if c == nil {
		return
	}
	c.add(&c.bundlesExtended, 1)
}

// IncBundleExpired records a stored bundle the server no longer knows.
func (c *Collector) IncBundleExpired() {
	if c == nil {
		return
	}
	c.add(&c.bundlesExpired, 1)
}

// IncAuthError records a 401 from any bundle call.
func (c *Collector) IncAuthError() {
	if c == nil {
		return
	}
	c.add(&c.authErrors, 1)
}

// --- Upload ---

// RecordChunk records one finished chunk upload.
// Files are only counted for chunks that succeeded.
func (c *Collector) RecordChunk(files int, failed bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if failed {
		c.chunksFailed++
	} else {
		c.chunksUploaded++
		c.filesUploaded += int64(files)
	}
	c.mu.Unlock()
}

// --- Archive ---

// IncArchiveWriteSuccess records a successful archive write (per call).
func (c *Collector) IncArchiveWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.archiveWriteSuccess, 1)
}

// IncArchiveWriteFailure records a failed archive write (per call).
func (c *Collector) IncArchiveWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.archiveWriteFailure, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		CyclesStarted:  c.cyclesStarted,
		CyclesSkipped:  c.cyclesSkipped,
		CyclesDeferred: c.cyclesDeferred,
		CyclesFailed:   c.cyclesFailed,

		BundlesCreated:  c.bundlesCreated,
		BundlesExtended: c.bundlesExtended,
		BundlesExpired:  c.bundlesExpired,
		AuthErrors:      c.authErrors,

		ChunksUploaded: c.chunksUploaded,
		ChunksFailed:   c.chunksFailed,
		FilesUploaded:  c.filesUploaded,

		ArchiveWriteSuccess: c.archiveWriteSuccess,
		ArchiveWriteFailure: c.archiveWriteFailure,

		Project:        c.project,
		StateBackend:   c.stateBackend,
		ArchiveBackend: c.archiveBackend,
	}
}
