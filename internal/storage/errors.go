package storage

import "errors"

var (
	// ErrBlobNotFound indicates the requested blob does not exist.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrInvalidDigest indicates an id that is not a well-formed digest.
	ErrInvalidDigest = errors.New("invalid blob digest")

	// ErrStagingClosed indicates a write to a committed or discarded staging file.
	ErrStagingClosed = errors.New("staging file already closed")
)

// IsNotFound reports whether err means the blob is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBlobNotFound)
}
