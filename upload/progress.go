package upload

import (
	"sync"

	"github.com/pithecene-io/bundlesync/types"
)

// Progress accounts completed files for one upload operation.
// Each chunk number is credited at most once, so duplicate completion
// notifications never inflate the counters. Safe for concurrent use.
type Progress struct {
	mu             sync.Mutex
	processed      map[int]struct{}
	filesCompleted int
	filesTotal     int
	chunksTotal    int
	chunksFailed   int
}

// ProgressSnapshot is a point-in-time view of Progress.
type ProgressSnapshot struct {
	FilesCompleted  int `json:"files_completed"`
	FilesTotal      int `json:"files_total"`
	ChunksCompleted int `json:"chunks_completed"`
	ChunksTotal     int `json:"chunks_total"`
	ChunksFailed    int `json:"chunks_failed"`
}

// NewProgress creates an empty Progress.
func NewProgress() *Progress {
	return &Progress{processed: make(map[int]struct{})}
}

// Reset clears the processed set and sets totals for a new upload operation.
func (p *Progress) Reset(chunks []types.Chunk) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed = make(map[int]struct{}, len(chunks))
	p.filesCompleted = 0
	p.filesTotal = CountFiles(chunks)
	p.chunksTotal = len(chunks)
	p.chunksFailed = 0
}

// Credit records a finished chunk. It returns false when the chunk number was
// already credited in this operation.
func (p *Progress) Credit(r types.UploadResult) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, seen := p.processed[r.ChunkNumber]; seen {
		return false
	}
	p.processed[r.ChunkNumber] = struct{}{}
	p.filesCompleted += r.FilesCount
	if r.Failed() {
		p.chunksFailed++
	}
	return true
}

// Snapshot returns the current counters.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ProgressSnapshot{
		FilesCompleted:  p.filesCompleted,
		FilesTotal:      p.filesTotal,
		ChunksCompleted: len(p.processed),
		ChunksTotal:     p.chunksTotal,
		ChunksFailed:    p.chunksFailed,
	}
}
