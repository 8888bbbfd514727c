package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("demo", "sqlite", "fs")

	c.IncCycleStarted()
	c.IncCycleStarted()
	c.IncCycleSkipped()
	c.IncCycleDeferred()
	c.IncCycleFailed()
	c.IncBundleCreated()
	c.IncBundleExtended()
	c.IncBundleExtended()
	c.IncBundleExpired()
	c.IncAuthError()
	c.RecordChunk(4, false)
	c.RecordChunk(3, false)
	c.RecordChunk(9, true)
	c.IncArchiveWriteSuccess()
	c.IncArchiveWriteFailure()

	s := c.Snapshot()

	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"CyclesStarted", s.CyclesStarted, 2},
		{"CyclesSkipped", s.CyclesSkipped, 1},
		{"CyclesDeferred", s.CyclesDeferred, 1},
		{"CyclesFailed", s.CyclesFailed, 1},
		{"BundlesCreated", s.BundlesCreated, 1},
		{"BundlesExtended", s.BundlesExtended, 2},
		{"BundlesExpired", s.BundlesExpired, 1},
		{"AuthErrors", s.AuthErrors, 1},
		{"ChunksUploaded", s.ChunksUploaded, 2},
		{"ChunksFailed", s.ChunksFailed, 1},
		{"FilesUploaded", s.FilesUploaded, 7},
		{"ArchiveWriteSuccess", s.ArchiveWriteSuccess, 1},
		{"ArchiveWriteFailure", s.ArchiveWriteFailure, 1},
	}
	for _, tc := range checks {
		if tc.got != tc.want {
			t.Errorf("%s = %d, want %d", tc.name, tc.got, tc.want)
		}
	}
}

func TestCollector_Dimensions(t *testing.T) {
	s := NewCollector("web", "memory", "s3").Snapshot()

	if s.Project != "web" {
		t.Errorf("Project = %q, want %q", s.Project, "web")
	}
	if s.StateBackend != "memory" {
		t.Errorf("StateBackend = %q, want %q", s.StateBackend, "memory")
	}
	if s.ArchiveBackend != "s3" {
		t.Errorf("ArchiveBackend = %q, want %q", s.ArchiveBackend, "s3")
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector

	// None of these should panic.
	c.IncCycleStarted()
	c.IncCycleSkipped()
	c.IncCycleDeferred()
	c.IncCycleFailed()
	c.IncBundleCreated()
	c.IncBundleExtended()
	c.IncBundleExpired()
	c.IncAuthError()
	c.RecordChunk(1, false)
	c.IncArchiveWriteSuccess()
	c.IncArchiveWriteFailure()

	if s := c.Snapshot(); s != (Snapshot{}) {
		t.Errorf("nil collector snapshot = %+v, want zero", s)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("demo", "memory", "")

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(3)
		go func() {
			defer wg.Done()
			c.IncCycleStarted()
		}()
		go func() {
			defer wg.Done()
			c.RecordChunk(2, false)
		}()
		go func() {
			defer wg.Done()
			_ = c.Snapshot()
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.CyclesStarted != 50 {
		t.Errorf("CyclesStarted = %d, want 50", s.CyclesStarted)
	}
	if s.FilesUploaded != 100 {
		t.Errorf("FilesUploaded = %d, want 100", s.FilesUploaded)
	}
}
