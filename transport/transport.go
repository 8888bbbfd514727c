// Package transport defines the bundle service RPCs and an HTTP implementation.
//
// Every call is single-shot: the client never retries. A non-2xx status is
// not an error at this layer; it is reported through Response.StatusCode so
// the lifecycle engine can classify it (401/403 auth, 404 expired, ...).
// A returned error means the call never produced a status (network, encoding).
package transport

import (
	"context"
	"fmt"
	"net/http"
)

// BundleRequest is the body of create and extend calls.
type BundleRequest struct {
	// Files maps relative path to content hash.
	Files map[string]string `json:"files" msgpack:"files"`
	// RemovedFiles lists paths dropped from the bundle (extend only).
	RemovedFiles []string `json:"removedFiles,omitempty" msgpack:"removedFiles,omitempty"`
}

// UploadFile is one entry of a chunk upload body.
type UploadFile struct {
	FileHash    string `json:"fileHash" msgpack:"fileHash"`
	FileContent string `json:"fileContent" msgpack:"fileContent"`
}

// Response is the outcome of any bundle RPC.
type Response struct {
	// StatusCode is the HTTP status.
	StatusCode int `json:"-" msgpack:"-"`
	// Error is the server's error text for non-2xx responses.
	Error string `json:"error,omitempty" msgpack:"error,omitempty"`
	// BundleID is set by create and extend on success.
	BundleID string `json:"bundleId,omitempty" msgpack:"bundleId,omitempty"`
	// UploadURL is the chunk upload target returned by create and extend.
	UploadURL string `json:"uploadURL,omitempty" msgpack:"uploadURL,omitempty"`
}

// OK reports whether the call returned 200.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode == http.StatusOK
}

// Transport performs the bundle service RPCs.
type Transport interface {
	// CreateBundle registers a new bundle for the given files.
	CreateBundle(ctx context.Context, token string, req BundleRequest) (*Response, error)
	// CheckBundle validates that bundleID still exists remotely.
	CheckBundle(ctx context.Context, token, bundleID string) (*Response, error)
	// ExtendBundle derives a new bundle from bundleID with changed and removed files.
	ExtendBundle(ctx context.Context, token, bundleID string, req BundleRequest) (*Response, error)
	// UploadFiles uploads one chunk of file contents to uploadURL.
	UploadFiles(ctx context.Context, token, uploadURL string, files []UploadFile) (*Response, error)
}

// StatusError describes a non-2xx response for callers that want an error value.
// Wrapping the status code allows errors.As classification upstream.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Code, e.Body)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Code)
}

// IsAuth reports whether the status is an access error (401/403).
func (e *StatusError) IsAuth() bool {
	return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
}

// NewStatusError builds a StatusError from a response.
func NewStatusError(op string, resp *Response) *StatusError {
	return &StatusError{Op: op, Code: resp.StatusCode, Body: resp.Error}
}
