package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/bundlesync/types"
)

// failingStore is a lode.Store whose writes fail with putErr.
type failingStore struct {
	putErr error
}

func (s *failingStore) Put(context.Context, string, io.Reader) error { return s.putErr }
func (s *failingStore) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, os.ErrNotExist
}
func (s *failingStore) Exists(context.Context, string) (bool, error)       { return false, nil }
func (s *failingStore) List(context.Context, string) ([]string, error)     { return nil, nil }
func (s *failingStore) Delete(context.Context, string) error               { return nil }
func (s *failingStore) ReaderAt(context.Context, string) (io.ReaderAt, error) {
	return nil, errors.New("not implemented")
}
func (s *failingStore) ReadRange(context.Context, string, int64, int64) ([]byte, error) {
	return nil, errors.New("not implemented")
}

var _ lode.Store = (*failingStore)(nil)

func record(op, bundleID string, at time.Time) types.OperationRecord {
	return types.OperationRecord{
		ID:        bundleID + "-" + op,
		Project:   "demo",
		Op:        op,
		Outcome:   "advanced",
		BundleID:  bundleID,
		Files:     3,
		Bytes:     42,
		Chunks:    1,
		Duration:  12,
		Timestamp: at,
	}
}

func TestAppendRecent_NewestFirst(t *testing.T) {
	a, err := NewMemory()
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, op := range []string{types.OpCreate, types.OpExtend, types.OpExtend} {
		rec := record(op, "b1", base.Add(time.Duration(i)*time.Minute))
		rec.ID = string(rune('a' + i))
		if err := a.Append(t.Context(), rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := a.Recent(t.Context(), 0, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	if got[0].ID != "c" || got[2].ID != "a" {
		t.Errorf("order = %s,%s,%s; want c,b,a", got[0].ID, got[1].ID, got[2].ID)
	}
	if got[2].Op != types.OpCreate || got[2].Files != 3 || got[2].Bytes != 42 {
		t.Errorf("record not round-tripped: %+v", got[2])
	}
	if !got[0].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("timestamp = %v", got[0].Timestamp)
	}
}

func TestRecent_LimitAndFilter(t *testing.T) {
	a, _ := NewMemory()
	now := time.Now().UTC()
	_ = a.Append(t.Context(), record(types.OpCreate, "b1", now))
	_ = a.Append(t.Context(), record(types.OpExtend, "b1", now.Add(time.Second)))
	other := record(types.OpCheck, "b2", now.Add(2*time.Second))
	other.Project = "other"
	other.Outcome = "fatal"
	other.Error = "auth"
	_ = a.Append(t.Context(), other)

	got, _ := a.Recent(t.Context(), 1, Filter{})
	if len(got) != 1 || got[0].Project != "other" {
		t.Errorf("limit 1 = %+v", got)
	}

	got, _ = a.Recent(t.Context(), 0, Filter{Project: "demo"})
	if len(got) != 2 {
		t.Errorf("project filter returned %d records", len(got))
	}

	got, _ = a.Recent(t.Context(), 0, Filter{Op: types.OpCreate})
	if len(got) != 1 || got[0].BundleID != "b1" {
		t.Errorf("op filter = %+v", got)
	}
}

func TestRecent_Empty(t *testing.T) {
	a, _ := NewMemory()
	got, err := a.Recent(t.Context(), 10, Filter{})
	if err != nil {
		t.Fatalf("Recent on empty archive: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no records, got %d", len(got))
	}
}

func TestOpen_FS(t *testing.T) {
	root := t.TempDir()
	a, err := Open(t.Context(), Config{Backend: BackendFS, Path: root})
	if err != nil {
		t.Fatal(err)
	}
	if a.Backend() != BackendFS {
		t.Errorf("Backend = %q", a.Backend())
	}
	if err := a.Append(t.Context(), record(types.OpCreate, "b1", time.Now())); err != nil {
		t.Fatal(err)
	}

	// A second archive over the same root sees the record.
	b, err := Open(t.Context(), Config{Backend: BackendFS, Path: root})
	if err != nil {
		t.Fatal(err)
	}
	got, err := b.Recent(t.Context(), 0, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].BundleID != "b1" {
		t.Errorf("records = %+v", got)
	}
}

func TestOpen_FSCreatesMissingDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "state", "archive")
	a, err := Open(t.Context(), Config{Backend: BackendFS, Path: root})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Fatalf("archive directory not created: %v", err)
	}
	if err := a.Append(t.Context(), record(types.OpCreate, "b1", time.Now())); err != nil {
		t.Fatal(err)
	}
	got, err := a.Recent(t.Context(), 1, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].BundleID != "b1" {
		t.Errorf("records = %+v", got)
	}
}

func TestOpen_Validation(t *testing.T) {
	if _, err := Open(t.Context(), Config{Backend: BackendFS}); err == nil {
		t.Error("expected error for fs without path")
	}
	if _, err := Open(t.Context(), Config{Backend: "gcs"}); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := Open(t.Context(), Config{Backend: BackendS3, Path: ""}); err == nil {
		t.Error("expected error for s3 without bucket")
	}
}

func TestAppend_StorageErrorClassified(t *testing.T) {
	store := &failingStore{putErr: errors.New("open /data: permission denied")}
	a, err := New(func() (lode.Store, error) { return store, nil }, BackendFS)
	if err != nil {
		t.Fatal(err)
	}

	err = a.Append(t.Context(), record(types.OpCreate, "b1", time.Now()))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "append" {
		t.Errorf("expected StorageError for append, got %#v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"operation error S3: PutObject, AccessDenied", ErrAccessDenied},
		{"open /x: permission denied", ErrPermissionDenied},
		{"NoSuchBucket: the bucket does not exist", ErrNotFound},
		{"write /x: no space left on device", ErrDiskFull},
		{"context deadline exceeded", ErrTimeout},
		{"NoCredentialProviders: no valid providers", ErrAuth},
		{"dial tcp 127.0.0.1:9000: connection refused", ErrNetwork},
		{"something odd", ErrStorage},
	}
	for _, tt := range tests {
		if got := classify(errors.New(tt.msg)); got != tt.want {
			t.Errorf("classify(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"bucket", "bucket", ""},
		{"bucket/a/b/", "bucket", "a/b"},
		{"s3://bucket/ledger", "bucket", "ledger"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.in)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = %q, %q", tt.in, b, p)
		}
	}
}
