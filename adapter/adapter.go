// Package adapter defines the downstream notification boundary.
//
// Adapters publish bundle-ready notifications so an external analyzer can
// start against the freshly uploaded bundle. The sync loop never awaits the
// analysis itself; Trigger wraps an Adapter into a bounded fire-and-forget call.
package adapter

import (
	"context"
	"fmt"
	"time"
)

// EventTypeBundleReady is the only event type published today.
const EventTypeBundleReady = "bundle_ready"

// ContractVersion is the payload schema version.
const ContractVersion = "1"

// BundleReadyEvent is the payload published when a bundle has been advanced
// and every chunk uploaded.
type BundleReadyEvent struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"` // always "bundle_ready"
	SessionID       string `json:"session_id"`
	Project         string `json:"project"`
	BundleID        string `json:"bundle_id"`
	Op              string `json:"op"` // create or extend
	Timestamp       string `json:"timestamp"` // RFC 3339
	Files           int    `json:"files"`
	RemovedFiles    int    `json:"removed_files"`
	DurationMs      int64  `json:"duration_ms"`
}

// NewBundleReadyEvent fills in the fixed fields of an event.
func NewBundleReadyEvent(sessionID, project, bundleID, op string, files, removed int, took time.Duration) *BundleReadyEvent {
	return &BundleReadyEvent{
		ContractVersion: ContractVersion,
		EventType:       EventTypeBundleReady,
		SessionID:       sessionID,
		Project:         project,
		BundleID:        bundleID,
		Op:              op,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Files:           files,
		RemovedFiles:    removed,
		DurationMs:      took.Milliseconds(),
	}
}

// Adapter publishes bundle-ready events to a downstream system.
type Adapter interface {
	// Publish sends a bundle-ready event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *BundleReadyEvent) error

	// Close releases adapter resources.
	Close() error
}

// DefaultSignalTimeout bounds one Trigger.Signal call including retries.
const DefaultSignalTimeout = 30 * time.Second

// Trigger adapts an Adapter to the engine's downstream signal.
type Trigger struct {
	adapter Adapter
	timeout time.Duration
}

// NewTrigger wraps a. A non-positive timeout uses DefaultSignalTimeout.
func NewTrigger(a Adapter, timeout time.Duration) *Trigger {
	if timeout <= 0 {
		timeout = DefaultSignalTimeout
	}
	return &Trigger{adapter: a, timeout: timeout}
}

// Signal publishes event, giving up after the trigger timeout.
// Cancellation of ctx does not cut the publish short; only the timeout does.
func (t *Trigger) Signal(ctx context.Context, event *BundleReadyEvent) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()
	if err := t.adapter.Publish(ctx, event); err != nil {
		return fmt.Errorf("signal bundle %s: %w", event.BundleID, err)
	}
	return nil
}

// Close closes the wrapped adapter.
func (t *Trigger) Close() error {
	return t.adapter.Close()
}
