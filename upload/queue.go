package upload

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/bundlesync/log"
	"github.com/pithecene-io/bundlesync/transport"
	"github.com/pithecene-io/bundlesync/types"
)

// DefaultConcurrency is the default number of concurrent chunk uploads.
const DefaultConcurrency = 10

// Uploader performs the chunk upload RPC. Satisfied by transport.Transport.
type Uploader interface {
	UploadFiles(ctx context.Context, token, uploadURL string, files []transport.UploadFile) (*transport.Response, error)
}

// QueueConfig configures the upload queue.
type QueueConfig struct {
	// Concurrency bounds in-flight chunk uploads (default 10).
	Concurrency int
	// Delay is an artificial pause before each chunk upload. Zero disables it.
	Delay time.Duration
}

// ChunkError reports a failed chunk upload.
type ChunkError struct {
	Number int
	Err    error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Number, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// Queue uploads chunks with bounded concurrency.
type Queue struct {
	uploader Uploader
	config   QueueConfig
	logger   *log.Logger
}

// NewQueue creates an upload queue. A nil logger discards output.
func NewQueue(uploader Uploader, cfg QueueConfig, logger *log.Logger) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Queue{uploader: uploader, config: cfg, logger: logger}
}

// Concurrency returns the configured worker bound.
func (q *Queue) Concurrency() int {
	return q.config.Concurrency
}

// Run uploads every chunk to uploadURL and returns one result per chunk, in
// chunk order, once all of them have finished.
//
// onDone, if non-nil, is called from worker goroutines as each chunk finishes,
// whether or not it errored. It must be safe for concurrent use.
// A failed chunk never cancels the others; Run always waits for all of them.
func (q *Queue) Run(ctx context.Context, token, uploadURL string, chunks []types.Chunk, onDone func(types.UploadResult)) []types.UploadResult {
	results := make([]types.UploadResult, len(chunks))
	if len(chunks) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(q.config.Concurrency)

	for i, chunk := range chunks {
		g.Go(func() error {
			res := q.uploadChunk(ctx, token, uploadURL, chunk)
			results[i] = res
			if onDone != nil {
				onDone(res)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (q *Queue) uploadChunk(ctx context.Context, token, uploadURL string, chunk types.Chunk) types.UploadResult {
	res := types.UploadResult{
		ChunkNumber: chunk.Number,
		FilesCount:  len(chunk.Entries),
	}

	if q.config.Delay > 0 {
		select {
		case <-ctx.Done():
			res.Err = &ChunkError{Number: chunk.Number, Err: ctx.Err()}
			return res
		case <-time.After(q.config.Delay):
		}
	}

	resp, err := q.uploader.UploadFiles(ctx, token, uploadURL, Payload(chunk))
	if err != nil {
		res.Err = &ChunkError{Number: chunk.Number, Err: err}
		q.logger.Warn("chunk upload failed", map[string]any{
			"chunk": chunk.Number,
			"error": err.Error(),
		})
		return res
	}

	res.StatusCode = resp.StatusCode
	if !resp.OK() {
		res.Err = &ChunkError{Number: chunk.Number, Err: transport.NewStatusError("upload", resp)}
		q.logger.Warn("chunk upload rejected", map[string]any{
			"chunk":  chunk.Number,
			"status": resp.StatusCode,
			"error":  resp.Error,
		})
		return res
	}

	q.logger.Debug("chunk uploaded", map[string]any{
		"chunk": chunk.Number,
		"files": len(chunk.Entries),
		"bytes": chunk.Size(),
	})
	return res
}

// Payload builds the wire body for a chunk: content hash and content per entry.
func Payload(chunk types.Chunk) []transport.UploadFile {
	files := make([]transport.UploadFile, 0, len(chunk.Entries))
	for _, e := range chunk.Entries {
		files = append(files, transport.UploadFile{
			FileHash:    e.Hash,
			FileContent: string(e.Content),
		})
	}
	return files
}

// Failed returns the errored results.
func Failed(results []types.UploadResult) []types.UploadResult {
	var failed []types.UploadResult
	for _, r := range results {
		if r.Failed() {
			failed = append(failed, r)
		}
	}
	return failed
}
