package bundle

import (
	"errors"
	"fmt"
)

// Cycle deferral reasons. A deferred cycle is not an error: the scheduler
// simply re-arms and the next tick tries again.
var (
	// ErrBlocked means a busy flag was set at the start of the cycle.
	ErrBlocked = errors.New("cycle blocked by busy flag")
	// ErrNoChanges means the watcher reported no changed files.
	ErrNoChanges = errors.New("no changed files")
	// ErrNoFiles means the changed paths produced an empty file map.
	ErrNoFiles = errors.New("no files staged")
)

// Fatal reasons. Fatal is scoped to one cycle; the loop keeps running.
var (
	// ErrAuth means the service answered 401 or 403. The stored bundle is
	// kept; re-authentication has to happen outside the loop.
	ErrAuth = errors.New("bundle service rejected credentials")
	// ErrBundleExpired means the stored bundle is unknown to the service.
	ErrBundleExpired = errors.New("bundle expired")
	// ErrTransport means a bundle RPC failed or returned an unexpected status.
	ErrTransport = errors.New("bundle transport error")
	// ErrChunkUpload means at least one chunk of an upload operation failed.
	ErrChunkUpload = errors.New("chunk upload failed")
)

// Kind classifies a cycle outcome.
type Kind int

const (
	// Deferred means nothing happened this cycle.
	Deferred Kind = iota
	// Advanced means the remote bundle is current for the staged files.
	Advanced
	// Fatal means the cycle failed.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Deferred:
		return "deferred"
	case Advanced:
		return "advanced"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of one lifecycle cycle.
type Outcome struct {
	Kind Kind
	// BundleID is set for Advanced outcomes.
	BundleID string
	// Err is the deferral or failure reason. Nil for Advanced.
	Err error
}

func advanced(id string) Outcome {
	return Outcome{Kind: Advanced, BundleID: id}
}

func deferred(reason error) Outcome {
	return Outcome{Kind: Deferred, Err: reason}
}

func fatal(reason error) Outcome {
	return Outcome{Kind: Fatal, Err: reason}
}

// IsAdvanced reports whether the outcome advanced the bundle.
func (o Outcome) IsAdvanced() bool {
	return o.Kind == Advanced
}

func (o Outcome) String() string {
	switch o.Kind {
	case Advanced:
		return "advanced(" + o.BundleID + ")"
	case Deferred, Fatal:
		if o.Err != nil {
			return o.Kind.String() + "(" + o.Err.Error() + ")"
		}
	}
	return o.Kind.String()
}
