// Package service implements the TagSoup operations: ingestion, thumbnail
// derivation, tag queries and orphan sweeping.
package service

import (
	"errors"
	"fmt"
)

// Common service errors.
var (
	// ErrInternalError wraps unexpected storage, index and codec failures.
	ErrInternalError = errors.New("internal server error")
)

// internalError wraps err as an ErrInternalError, keeping its message.
func internalError(err error) error {
	return fmt.Errorf("%w: %v", ErrInternalError, err)
}
