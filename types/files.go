// Package types defines the core domain types shared by the bundlesync packages.
//
//nolint:revive // types is a common Go package naming convention
package types

import "sort"

// FileEntry is one file staged for a bundle.
type FileEntry struct {
	// Path is relative to the project root, slash-separated.
	Path string `json:"path" msgpack:"path"`
	// Hash is the hex content hash.
	Hash string `json:"hash" msgpack:"hash"`
	// Size is the content length in bytes.
	Size int64 `json:"size" msgpack:"size"`
	// Content is the raw file content. Empty when built without content.
	Content []byte `json:"-" msgpack:"-"`
}

// FileMap maps relative paths to staged file entries.
// It is rebuilt every cycle and never persisted.
type FileMap map[string]FileEntry

// Paths returns the map's paths in sorted order.
// All enumeration of a FileMap goes through Paths so that chunking is deterministic.
func (m FileMap) Paths() []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Entries returns the entries in Paths order.
func (m FileMap) Entries() []FileEntry {
	paths := m.Paths()
	entries := make([]FileEntry, 0, len(paths))
	for _, p := range paths {
		entries = append(entries, m[p])
	}
	return entries
}

// Hashes returns the path -> content hash view sent on bundle RPCs.
func (m FileMap) Hashes() map[string]string {
	out := make(map[string]string, len(m))
	for p, e := range m {
		out[p] = e.Hash
	}
	return out
}

// TotalSize returns the summed byte size of all entries.
func (m FileMap) TotalSize() int64 {
	var total int64
	for _, e := range m {
		total += e.Size
	}
	return total
}
