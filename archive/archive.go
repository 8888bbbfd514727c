// Package archive keeps a ledger of bundle operations in a lode dataset.
//
// Every cycle that reaches the bundle service appends one JSONL record,
// Hive-partitioned by project, day and op. Backends are the local
// filesystem, S3 (or any S3-compatible store) and memory. The ledger is
// write-mostly: Recent reads it back newest first for the history command.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/bundlesync/types"
)

// DatasetID is the lode dataset name of the ledger.
const DatasetID = "bundlesync"

// Backend names.
const (
	BackendFS     = "fs"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Config selects and configures an archive backend.
type Config struct {
	// Backend is fs, s3 or memory.
	Backend string
	// Path is the root directory (fs) or "bucket/prefix" (s3).
	Path string
	// Region is the AWS region (s3, optional).
	Region string
	// Endpoint overrides the S3 endpoint for S3-compatible providers.
	Endpoint string
	// UsePathStyle forces path-style S3 addressing.
	UsePathStyle bool
}

// Archive is the operation ledger.
type Archive struct {
	dataset lode.Dataset
	backend string
}

// Open creates the archive for cfg.
func Open(ctx context.Context, cfg Config) (*Archive, error) {
	switch cfg.Backend {
	case BackendFS:
		if cfg.Path == "" {
			return nil, errors.New("fs archive requires a path")
		}
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, wrap("create archive directory", err)
		}
		return New(lode.NewFSFactory(cfg.Path), BackendFS)
	case BackendS3:
		bucket, prefix := ParseS3Path(cfg.Path)
		factory, err := newS3Factory(ctx, S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return New(factory, BackendS3)
	case BackendMemory:
		return NewMemory()
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}

// New creates an archive over a lode store factory.
func New(factory lode.StoreFactory, backend string) (*Archive, error) {
	ds, err := lode.NewDataset(
		lode.DatasetID(DatasetID),
		factory,
		lode.WithHiveLayout("project", "day", "op"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, wrap("open", err)
	}
	return &Archive{dataset: ds, backend: backend}, nil
}

// NewMemory creates an in-memory archive.
func NewMemory() (*Archive, error) {
	store := lode.NewMemory()
	return New(func() (lode.Store, error) { return store, nil }, BackendMemory)
}

// Backend returns the backend name.
func (a *Archive) Backend() string {
	return a.backend
}

// Append writes one operation record.
func (a *Archive) Append(ctx context.Context, rec types.OperationRecord) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	if _, err := a.dataset.Write(ctx, []any{row}, lode.Metadata{}); err != nil {
		return wrap("append", err)
	}
	return nil
}

// Filter narrows Recent. Empty fields match everything.
type Filter struct {
	Project string
	Op      string
}

func (f Filter) match(rec types.OperationRecord) bool {
	return (f.Project == "" || rec.Project == f.Project) && (f.Op == "" || rec.Op == f.Op)
}

// Recent returns up to limit records, newest first. A non-positive limit
// returns everything.
func (a *Archive) Recent(ctx context.Context, limit int, filter Filter) ([]types.OperationRecord, error) {
	snapshots, err := a.dataset.Snapshots(ctx)
	if err != nil {
		return nil, wrap("read", err)
	}

	var out []types.OperationRecord
	for i := len(snapshots) - 1; i >= 0; i-- {
		data, err := a.dataset.Read(ctx, snapshots[i].ID)
		if err != nil {
			return nil, wrap("read", err)
		}
		for j := len(data) - 1; j >= 0; j-- {
			rec, ok := fromRow(data[j])
			if !ok || !filter.match(rec) {
				continue
			}
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// toRow flattens a record into the map shape the Hive layout partitions on.
func toRow(rec types.OperationRecord) (map[string]any, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode operation record: %w", err)
	}
	var row map[string]any
	if err := json.Unmarshal(b, &row); err != nil {
		return nil, fmt.Errorf("encode operation record: %w", err)
	}
	row["day"] = rec.Timestamp.UTC().Format("2006-01-02")
	return row, nil
}

func fromRow(item any) (types.OperationRecord, bool) {
	row, ok := item.(map[string]any)
	if !ok {
		return types.OperationRecord{}, false
	}
	b, err := json.Marshal(row)
	if err != nil {
		return types.OperationRecord{}, false
	}
	var rec types.OperationRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return types.OperationRecord{}, false
	}
	return rec, true
}
