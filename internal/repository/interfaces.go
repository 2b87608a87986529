// Package repository defines the metadata index: objects and their tags.
// Implementations (SQLite, PostgreSQL) must enforce referential integrity
// between tags and objects and cascade tag removal on object deletion.
package repository

import (
	"context"

	"github.com/prn-tf/tagsoup/internal/domain"
	"github.com/prn-tf/tagsoup/internal/pagination"
)

// =============================================================================
// Object Repository
// =============================================================================

// ObjectRepository defines data access for objects and tags.
type ObjectRepository interface {
	// Exists reports whether an object row with the given id is present.
	Exists(ctx context.Context, id string) (bool, error)

	// Register inserts obj unless a row with obj.ID already exists, and
	// attaches initialTags in the same transaction. created is false when
	// the row existed; the existing row and its tags are left untouched.
	Register(ctx context.Context, obj *domain.Object, initialTags []string) (created bool, err error)

	// Get returns an object with its sorted tags.
	// Returns domain.ErrObjectNotFound if absent.
	Get(ctx context.Context, id string) (*domain.Object, error)

	// AddTag attaches label to an object. Re-adding is a no-op.
	// Returns domain.ErrObjectNotFound if the object does not exist.
	AddTag(ctx context.Context, id, label string) error

	// RemoveTag detaches label from an object. Removing an absent pair is a no-op.
	RemoveTag(ctx context.Context, id, label string) error

	// ListTags returns all distinct labels in ascending order.
	ListTags(ctx context.Context) ([]string, error)

	// Query returns objects carrying every tag in opts.Tags, ordered by
	// (original_name, id), strictly after opts.After, at most opts.Limit rows.
	Query(ctx context.Context, opts QueryOptions) ([]*domain.Object, error)

	// Delete removes an object; its tags are removed by cascade.
	// Returns domain.ErrObjectNotFound if absent.
	Delete(ctx context.Context, id string) error

	// Count returns the number of objects and tag pairs.
	Count(ctx context.Context) (*Stats, error)
}

// QueryOptions parameterizes ObjectRepository.Query.
type QueryOptions struct {
	// Tags is the required label set; empty matches every object.
	// Implementations deduplicate it.
	Tags []string

	// After resumes strictly after this position; nil starts at the beginning.
	After *pagination.Cursor

	// Limit is the maximum number of rows returned. Callers probing for a
	// further page pass page_size+1.
	Limit int
}

// Stats summarizes the index contents.
type Stats struct {
	Objects int64 `json:"objects"`
	Tags    int64 `json:"tags"`
	Labels  int64 `json:"labels"`
	Bytes   int64 `json:"bytes"`
}

// DatabaseHealth is an interface for database health checks.
type DatabaseHealth interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}

// Migrator applies and reports embedded schema migrations.
type Migrator interface {
	MigrationStatus(ctx context.Context) (MigrationStatus, error)
	Migrate(ctx context.Context) error
}

// UniqueLabels deduplicates labels, preserving first occurrence order.
func UniqueLabels(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
