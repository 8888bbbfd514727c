// Package upload plans and executes chunked file uploads for a bundle.
//
// The planner partitions a FileMap into size-bounded chunks; the queue uploads
// them with a fixed concurrency bound and joins on completion; Progress credits
// finished chunks exactly once.
package upload

import "github.com/pithecene-io/bundlesync/types"

// DefaultMaxPayload is the default chunk payload bound (4 MiB).
const DefaultMaxPayload int64 = 4 * 1024 * 1024

// Plan partitions files into chunks whose cumulative size stays below maxPayload.
//
// Entries are taken in sorted path order. A chunk is closed as soon as adding
// the next entry would meet or exceed the limit. An entry that alone meets or
// exceeds the limit still gets a chunk of its own; files are never split.
// An empty map yields no chunks.
func Plan(files types.FileMap, maxPayload int64) []types.Chunk {
	if len(files) == 0 {
		return nil
	}
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}

	var chunks []types.Chunk
	var current []types.FileEntry
	var size int64

	flush := func() {
		chunks = append(chunks, types.Chunk{Number: len(chunks), Entries: current})
		current = nil
		size = 0
	}

	for _, entry := range files.Entries() {
		if len(current) > 0 && size+entry.Size >= maxPayload {
			flush()
		}
		current = append(current, entry)
		size += entry.Size
	}
	if len(current) > 0 {
		flush()
	}

	return chunks
}

// CountFiles returns the number of entries across chunks.
func CountFiles(chunks []types.Chunk) int {
	n := 0
	for _, c := range chunks {
		n += len(c.Entries)
	}
	return n
}
