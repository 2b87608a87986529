package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/tagsoup/internal/domain"
	"github.com/prn-tf/tagsoup/internal/repository"
)

// objectRepository implements repository.ObjectRepository for PostgreSQL.
type objectRepository struct {
	db *DB
}

// NewObjectRepository creates a new PostgreSQL object repository.
func NewObjectRepository(db *DB) repository.ObjectRepository {
	return &objectRepository{db: db}
}

// Exists reports whether an object row is present.
func (r *objectRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM objects WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return exists, nil
}

// Register inserts the object if absent and attaches its initial tags.
func (r *objectRepository) Register(ctx context.Context, obj *domain.Object, initialTags []string) (bool, error) {
	var created bool

	err := r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO objects (id, mime_type, size, original_name, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, obj.ID, obj.MimeType, obj.Size, obj.OriginalName, obj.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert object: %w", err)
		}

		created = tag.RowsAffected() == 1
		if !created {
			return nil
		}

		labels := repository.UniqueLabels(initialTags)
		if len(labels) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO tags (object_id, label)
			SELECT $1, unnest($2::text[])
			ON CONFLICT DO NOTHING
		`, obj.ID, labels); err != nil {
			return fmt.Errorf("failed to insert initial tags: %w", err)
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
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, mime_type, size, original_name, created_at
		FROM objects
		WHERE id = $1
	`, id).Scan(&obj.ID, &obj.MimeType, &obj.Size, &obj.OriginalName, &obj.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}

	tags, err := r.tagsFor(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	obj.Tags = nonNil(tags[id])

	return obj, nil
}

// AddTag attaches a label; duplicates are ignored.
func (r *objectRepository) AddTag(ctx context.Context, id, label string) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO tags (object_id, label) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
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
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM tags WHERE object_id = $1 AND label = $2`, id, label); err != nil {
		return fmt.Errorf("failed to remove tag: %w", err)
	}
	return nil
}

// ListTags returns the distinct labels in byte order.
func (r *objectRepository) ListTags(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT DISTINCT label COLLATE "C" AS label FROM tags ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}

	labels, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan tags: %w", err)
	}
	return nonNil(labels), nil
}

// Query runs the tag-intersection keyset query.
func (r *objectRepository) Query(ctx context.Context, opts repository.QueryOptions) ([]*domain.Object, error) {
	if opts.Limit <= 0 {
		return []*domain.Object{}, nil
	}

	var sb strings.Builder
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sb.WriteString(`SELECT o.id, o.mime_type, o.size, o.original_name, o.created_at FROM objects o`)

	tags := repository.UniqueLabels(opts.Tags)
	if len(tags) > 0 {
		fmt.Fprintf(&sb,
			` JOIN (SELECT object_id FROM tags WHERE label = ANY(%s::text[]) GROUP BY object_id HAVING COUNT(DISTINCT label) = %s) m ON m.object_id = o.id`,
			arg(tags), arg(len(tags)),
		)
	}

	if opts.After != nil {
		fmt.Fprintf(&sb, ` WHERE (o.original_name, o.id) > (%s, %s)`, arg(opts.After.Name), arg(opts.After.ID))
	}

	fmt.Fprintf(&sb, ` ORDER BY o.original_name, o.id LIMIT %s`, arg(opts.Limit))

	rows, err := r.db.Pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query objects: %w", err)
	}

	objects, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Object, error) {
		obj := &domain.Object{}
		err := row.Scan(&obj.ID, &obj.MimeType, &obj.Size, &obj.OriginalName, &obj.CreatedAt)
		return obj, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan objects: %w", err)
	}
	if len(objects) == 0 {
		return []*domain.Object{}, nil
	}

	ids := make([]string, len(objects))
	for i, obj := range objects {
		ids[i] = obj.ID
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
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM objects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrObjectNotFound
	}
	return nil
}

// Count summarizes the index.
func (r *objectRepository) Count(ctx context.Context) (*repository.Stats, error) {
	stats := &repository.Stats{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM objects),
			(SELECT COALESCE(SUM(size), 0)::bigint FROM objects),
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
	rows, err := r.db.Pool.Query(ctx, `
		SELECT object_id, label
		FROM tags
		WHERE object_id = ANY($1::text[])
		ORDER BY object_id, label COLLATE "C"
	`, ids)
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

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

var _ repository.ObjectRepository = (*objectRepository)(nil)
