// Package state provides the process-wide key/value state shared by the sync
// loop, the file watcher, and the analysis subsystem.
//
// Stores are synchronous and last-write-wins. There are no transactions:
// SetMany writes its keys together but readers may interleave.
package state

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/pithecene-io/bundlesync/types"
)

// Well-known keys.
const (
	KeyBundleID     = "bundle_id"
	KeySessionToken = "session_token"
	KeyScanning     = "scanning"
	KeyUploading    = "uploading"
	KeyAnalyzing    = "analyzing"
	KeyTesting      = "testing"
)

// Store is a key/value state store. Missing keys read as "".
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	SetMany(ctx context.Context, values map[string]string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key], nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

// SetMany implements Store.
func (m *MemoryStore) SetMany(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	for k, v := range values {
		m.values[k] = v
	}
	m.mu.Unlock()
	return nil
}

// Snapshot returns a copy of every key.
func (m *MemoryStore) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// --- Typed accessors ---

// BundleID returns the stored bundle id, "" when none.
func BundleID(ctx context.Context, s Store) (string, error) {
	return s.Get(ctx, KeyBundleID)
}

// SetBundleID persists id. An empty id clears the stored bundle.
func SetBundleID(ctx context.Context, s Store, id string) error {
	return s.Set(ctx, KeyBundleID, id)
}

// SessionToken returns the stored session token.
func SessionToken(ctx context.Context, s Store) (string, error) {
	return s.Get(ctx, KeySessionToken)
}

// SetFlag stores a boolean flag.
func SetFlag(ctx context.Context, s Store, key string, on bool) error {
	return s.Set(ctx, key, strconv.FormatBool(on))
}

// Flag reads a boolean flag. Unset or unparsable values read as false.
func Flag(ctx context.Context, s Store, key string) (bool, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	on, err := strconv.ParseBool(v)
	if err != nil {
		return false, nil
	}
	return on, nil
}

// Busy reads all busy flags.
func Busy(ctx context.Context, s Store) (types.BusyFlags, error) {
	var flags types.BusyFlags
	targets := []struct {
		key string
		dst *bool
	}{
		{KeyScanning, &flags.Scanning},
		{KeyUploading, &flags.Uploading},
		{KeyAnalyzing, &flags.Analyzing},
		{KeyTesting, &flags.Testing},
	}
	for _, t := range targets {
		on, err := Flag(ctx, s, t.key)
		if err != nil {
			return types.BusyFlags{}, fmt.Errorf("read %s flag: %w", t.key, err)
		}
		*t.dst = on
	}
	return flags, nil
}

// Verify MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
