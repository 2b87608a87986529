// Package storage persists raw image bytes addressed by their content digest.
// Writes go through a private staging file and are published by an atomic
// rename, so readers never observe a partially written blob.
package storage

import (
	"context"
	"io"
	"time"
)

// Backend is a content-addressed blob store.
type Backend interface {
	// Exists reports whether a blob with the given id is present.
	Exists(ctx context.Context, id string) (bool, error)

	// Put stores the content of r under id. It is idempotent: when id is
	// already present the existing file is kept, its modification time is
	// refreshed and r is not read.
	// The caller is responsible for id being the digest of r's content.
	Put(ctx context.Context, id string, r io.Reader) error

	// Open returns a stream over the blob. The caller must close it.
	// Returns ErrBlobNotFound if the blob does not exist.
	Open(ctx context.Context, id string) (io.ReadCloser, error)

	// Stat returns size and modification time of a blob.
	Stat(ctx context.Context, id string) (BlobInfo, error)

	// Delete removes a blob. Returns ErrBlobNotFound if it does not exist.
	Delete(ctx context.Context, id string) error

	// Reclaim moves the blob out of the published tree, then asks keep
	// whether it is still wanted. A kept blob is restored; otherwise it is
	// removed. Writers that find id already present refresh its modification
	// time, so keep sees a recent ModTime for a blob claimed concurrently.
	// Returns whether the blob was removed, or ErrBlobNotFound.
	Reclaim(ctx context.Context, id string, keep func(BlobInfo) (bool, error)) (bool, error)

	// List returns every published blob.
	List(ctx context.Context) ([]BlobInfo, error)

	// NewStaging creates a private staging file on the same filesystem as
	// the published blobs.
	NewStaging(ctx context.Context) (Staging, error)

	// PurgeStaging removes staging files older than maxAge, left behind by
	// crashed writers. Returns the number of files removed.
	PurgeStaging(ctx context.Context, maxAge time.Duration) (int, error)

	// GetPath returns the filesystem path a blob is (or would be) stored at.
	GetPath(id string) string
}

// Staging is a write-once file that becomes a blob on Commit.
type Staging interface {
	io.Writer

	// Commit publishes the staged bytes under id. If id already exists the
	// staged file is removed and the existing blob is kept with a refreshed
	// modification time.
	Commit(id string) error

	// Discard removes the staging file. It is safe to call after Commit.
	Discard() error
}

// BlobInfo describes a stored blob.
type BlobInfo struct {
	ID      string
	Size    int64
	ModTime time.Time
}
