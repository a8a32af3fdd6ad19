// Package userdata defines the contract between sync features and the remote
// user-data store: opaque blobs addressed by resource name, versioned by a ref.
package userdata

import (
	"context"
	"errors"
)

// NoRef is the ref the store reports for a resource that has never been written.
const NoRef = "0"

// ErrPreconditionFailed is returned by Write when the presented ref is no longer
// the latest one for the resource.
var ErrPreconditionFailed = errors.New("precondition failed: ref is stale")

// UserData is a single resource blob as last seen from the store.
// Content is nil when the resource does not exist.
type UserData struct {
	Ref     string
	Content *string
}

// Store reads and writes whole resource blobs.
type Store interface {
	// Read returns the latest blob for resource. previous is the caller's cached
	// copy (may be nil); when the store reports it unchanged, previous is returned.
	Read(ctx context.Context, resource string, previous *UserData) (*UserData, error)

	// Write replaces the blob for resource if ref is still current and returns
	// the new ref.
	Write(ctx context.Context, resource, content, ref string) (string, error)
}

// RefOf returns the ref of d, or NoRef when d is nil.
func RefOf(d *UserData) string {
	if d == nil || d.Ref == "" {
		return NoRef
	}
	return d.Ref
}
