package types

// Chunk is a size-bounded group of file entries uploaded as one request.
// Numbers are assigned 0..N-1 before dispatch and are stable for one upload operation.
type Chunk struct {
	Number  int
	Entries []FileEntry
}

// Size returns the cumulative byte size of the chunk's entries.
func (c Chunk) Size() int64 {
	var total int64
	for _, e := range c.Entries {
		total += e.Size
	}
	return total
}

// UploadResult is the per-chunk record produced by the upload queue.
type UploadResult struct {
	ChunkNumber int `json:"chunk_number"`
	FilesCount  int `json:"files_count"`
	// StatusCode is the HTTP status of the upload call, 0 when the call never completed.
	StatusCode int `json:"status_code,omitempty"`
	// Err is set when the chunk failed (non-200 status or transport error).
	Err error `json:"-"`
}

// Failed reports whether the chunk errored.
func (r UploadResult) Failed() bool {
	return r.Err != nil
}
