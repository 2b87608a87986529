package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/prn-tf/tagsoup/internal/domain"
	"github.com/prn-tf/tagsoup/internal/repository"
)

// objectRepository implements repository.ObjectRepository for SQLite.
type objectRepository struct {
	db *DB
}

// NewObjectRepository creates a new SQLite object repository.
func NewObjectRepository(db *DB) repository.ObjectRepository {
	return &objectRepository{db: db}
}

// Exists reports whether an object row is present.
func (r *objectRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM objects WHERE id = ?)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return exists == 1, nil
}

// Register inserts the object if absent and attaches its initial tags.
func (r *objectRepository) Register(ctx context.Context, obj *domain.Object, initialTags []string) (bool, error) {
	var created bool

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO objects (id, mime_type, size, original_name, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING
		`,
			obj.ID,
			obj.MimeType,
			obj.Size,
			obj.OriginalName,
			obj.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("failed to insert object: %w", err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		created = n == 1
		if !created {
			return nil
		}

		for _, label := range repository.UniqueLabels(initialTags) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tags (object_id, label) VALUES (?, ?) ON CONFLICT DO NOTHING`,
				obj.ID, label,
			); err != nil {
				return fmt.Errorf("failed to insert initial tag: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	return created, nil
}

// Get retrieves an object with its tags.
func (r *objectRepository) Get(ctx context.Context, id string) (*domain.Object, error) {
	obj := &domain.Object{}
	var createdAt string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, mime_type, size, original_name, created_at
		FROM objects
		WHERE id = ?
	`, id).Scan(&obj.ID, &obj.MimeType, &obj.Size, &obj.OriginalName, &createdAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	obj.CreatedAt = parseTime(createdAt)

	tags, err := r.tagsFor(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	obj.Tags = nonNil(tags[id])

	return obj, nil
}

// AddTag attaches a label; duplicates are ignored.
func (r *objectRepository) AddTag(ctx context.Context, id, label string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tags (object_id, label) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		id, label,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrObjectNotFound
		}
		return fmt.Errorf("failed to add tag: %w", err)
	}
	return nil
}

// RemoveTag detaches a label; absent pairs are ignored.
func (r *objectRepository) RemoveTag(ctx context.Context, id, label string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM tags WHERE object_id = ? AND label = ?`, id, label); err != nil {
		return fmt.Errorf("failed to remove tag: %w", err)
	}
	return nil
}

// ListTags returns the distinct labels in ascending order.
func (r *objectRepository) ListTags(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT label FROM tags ORDER BY label`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	labels := []string{}
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		labels = append(labels, label)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tags: %w", err)
	}
	return labels, nil
}

// Query runs the tag-intersection keyset query.
func (r *objectRepository) Query(ctx context.Context, opts repository.QueryOptions) ([]*domain.Object, error) {
	if opts.Limit <= 0 {
		return []*domain.Object{}, nil
	}

	var sb strings.Builder
	args := make([]interface{}, 0, len(opts.Tags)+5)

	sb.WriteString(`SELECT o.id, o.mime_type, o.size, o.original_name, o.created_at FROM objects o`)

	tags := repository.UniqueLabels(opts.Tags)
	if len(tags) > 0 {
		sb.WriteString(` JOIN (SELECT object_id FROM tags WHERE label IN (`)
		sb.WriteString(placeholders(len(tags)))
		sb.WriteString(`) GROUP BY object_id HAVING COUNT(DISTINCT label) = ?) m ON m.object_id = o.id`)
		for _, t := range tags {
			args = append(args, t)
		}
		args = append(args, len(tags))
	}

	if opts.After != nil {
		sb.WriteString(` WHERE (o.original_name > ? OR (o.original_name = ? AND o.id > ?))`)
		args = append(args, opts.After.Name, opts.After.Name, opts.After.ID)
	}

	sb.WriteString(` ORDER BY o.original_name, o.id LIMIT ?`)
	args = append(args, opts.Limit)

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query objects: %w", err)
	}

	objects := []*domain.Object{}
	ids := []string{}
	for rows.Next() {
		obj := &domain.Object{}
		var createdAt string
		if err := rows.Scan(&obj.ID, &obj.MimeType, &obj.Size, &obj.OriginalName, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan object: %w", err)
		}
		obj.CreatedAt = parseTime(createdAt)
		objects = append(objects, obj)
		ids = append(ids, obj.ID)
	}
	err = rows.Err()
	// Release the connection before the tag lookup; the pool holds one.
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error iterating objects: %w", err)
	}

	if len(ids) == 0 {
		return objects, nil
	}

	tagsByID, err := r.tagsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, obj := range objects {
		obj.Tags = nonNil(tagsByID[obj.ID])
	}

	return objects, nil
}

// Delete removes an object; tags go with it.
func (r *objectRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM objects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrObjectNotFound
	}
	return nil
}

// Count summarizes the index.
func (r *objectRepository) Count(ctx context.Context) (*repository.Stats, error) {
	stats := &repository.Stats{}
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM objects),
			(SELECT COALESCE(SUM(size), 0) FROM objects),
			(SELECT COUNT(*) FROM tags),
			(SELECT COUNT(DISTINCT label) FROM tags)
	`).Scan(&stats.Objects, &stats.Bytes, &stats.Tags, &stats.Labels)
	if err != nil {
		return nil, fmt.Errorf("failed to count objects: %w", err)
	}
	return stats, nil
}

// tagsFor loads the sorted labels of the given objects.
func (r *objectRepository) tagsFor(ctx context.Context, ids []string) (map[string][]string, error) {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT object_id, label FROM tags WHERE object_id IN (`+placeholders(len(ids))+`) ORDER BY object_id, label`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]string, len(ids))
	for rows.Next() {
		var id, label string
		if err := rows.Scan(&id, &label); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		result[id] = append(result[id], label)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tags: %w", err)
	}
	return result, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

var _ repository.ObjectRepository = (*objectRepository)(nil)
