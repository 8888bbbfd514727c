package types

import "time"

// Bundle operations recorded in the archive.
const (
	OpCreate = "create"
	OpExtend = "extend"
	OpCheck  = "check"
)

// OperationRecord describes one lifecycle cycle that reached the bundle service.
type OperationRecord struct {
	ID        string    `json:"id"`
	Project   string    `json:"project"`
	Op        string    `json:"op"`
	Outcome   string    `json:"outcome"`
	BundleID  string    `json:"bundle_id,omitempty"`
	Previous  string    `json:"previous_bundle_id,omitempty"`
	Expired   bool      `json:"expired,omitempty"`
	Files     int       `json:"files"`
	Removed   int       `json:"removed"`
	Bytes     int64     `json:"bytes"`
	Chunks    int       `json:"chunks"`
	Failed    int       `json:"chunks_failed"`
	Error     string    `json:"error,omitempty"`
	Duration  int64     `json:"duration_ms"`
	Timestamp time.Time `json:"timestamp"`
}
