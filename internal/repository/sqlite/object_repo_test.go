package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/tagsoup/internal/domain"
	"github.com/prn-tf/tagsoup/internal/pagination"
	"github.com/prn-tf/tagsoup/internal/pkg/crypto"
	"github.com/prn-tf/tagsoup/internal/repository"
)

func newTestRepo(t *testing.T) (repository.ObjectRepository, *DB) {
	t.Helper()
	ctx := context.Background()

	db, err := NewDB(ctx, DefaultConfig(filepath.Join(t.TempDir(), "index.db")), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(ctx))
	return NewObjectRepository(db), db
}

func testObject(seed, name string) *domain.Object {
	id := crypto.ComputeHash(crypto.SHA256, []byte(seed))
	return domain.NewObject(id, "image/jpeg", int64(len(seed)), name)
}

func register(t *testing.T, repo repository.ObjectRepository, obj *domain.Object, tags ...string) {
	t.Helper()
	created, err := repo.Register(context.Background(), obj, tags)
	require.NoError(t, err)
	require.True(t, created)
}

func ids(objs []*domain.Object) []string {
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = o.ID
	}
	return out
}

func TestMigrate_Idempotent(t *testing.T) {
	_, db := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx))

	status, err := db.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Current)
	assert.Equal(t, 1, status.Latest)
	assert.Empty(t, status.Pending)
}

func TestObjectRepository_RegisterInsertIfAbsent(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	obj := testObject("a", "a.jpg")

	created, err := repo.Register(ctx, obj, []string{"untagged", "untagged"})
	require.NoError(t, err)
	assert.True(t, created)

	// Second registration neither fails nor merges.
	dup := *obj
	dup.OriginalName = "renamed.jpg"
	created, err = repo.Register(ctx, &dup, []string{"other"})
	require.NoError(t, err)
	assert.False(t, created)

	got, err := repo.Get(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.jpg", got.OriginalName)
	assert.Equal(t, []string{"untagged"}, got.Tags)
	assert.Equal(t, obj.Size, got.Size)
	assert.False(t, got.CreatedAt.IsZero())

	exists, err := repo.Exists(ctx, obj.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestObjectRepository_ConcurrentRegister(t *testing.T) {
	repo, _ := newTestRepo(t)
	obj := testObject("race", "race.jpg")

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := *obj
			created, err := repo.Register(context.Background(), &o, nil)
			assert.NoError(t, err)
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount)
}

func TestObjectRepository_GetNotFound(t *testing.T) {
	repo, _ := newTestRepo(t)
	_, err := repo.Get(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrObjectNotFound)
}

func TestObjectRepository_Tags(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	obj := testObject("t", "t.jpg")
	register(t, repo, obj)

	require.NoError(t, repo.AddTag(ctx, obj.ID, "cat"))
	require.NoError(t, repo.AddTag(ctx, obj.ID, "cat"))
	require.NoError(t, repo.AddTag(ctx, obj.ID, "animal"))

	got, err := repo.Get(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"animal", "cat"}, got.Tags)

	labels, err := repo.ListTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"animal", "cat"}, labels)

	require.NoError(t, repo.RemoveTag(ctx, obj.ID, "cat"))
	require.NoError(t, repo.RemoveTag(ctx, obj.ID, "cat"))

	got, err = repo.Get(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"animal"}, got.Tags)

	err = repo.AddTag(ctx, "missing", "cat")
	require.ErrorIs(t, err, domain.ErrObjectNotFound)
}

func TestObjectRepository_DeleteCascades(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	obj := testObject("d", "d.jpg")
	register(t, repo, obj, "x", "y")

	require.NoError(t, repo.Delete(ctx, obj.ID))
	require.ErrorIs(t, repo.Delete(ctx, obj.ID), domain.ErrObjectNotFound)

	labels, err := repo.ListTags(ctx)
	require.NoError(t, err)
	assert.Empty(t, labels)

	stats, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Objects)
	assert.Equal(t, int64(0), stats.Tags)
}

func TestObjectRepository_QueryTagIntersection(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	a := testObject("a", "a.jpg")
	b := testObject("b", "b.jpg")
	c := testObject("c", "c.jpg")
	register(t, repo, a, "A")
	register(t, repo, b, "B")
	register(t, repo, c, "A", "B")

	tests := []struct {
		name string
		tags []string
		want []string
	}{
		{"both", []string{"A", "B"}, []string{c.ID}},
		{"duplicates ignored", []string{"A", "B", "A"}, []string{c.ID}},
		{"single", []string{"A"}, []string{a.ID, c.ID}},
		{"none", nil, []string{a.ID, b.ID, c.ID}},
		{"unknown", []string{"Z"}, []string{}},
		{"known and unknown", []string{"A", "Z"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.Query(ctx, repository.QueryOptions{Tags: tt.tags, Limit: 10})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}

	got, err := repo.Query(ctx, repository.QueryOptions{Tags: []string{"A", "B"}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"A", "B"}, got[0].Tags)
}

func TestObjectRepository_QueryKeysetWithDuplicateNames(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	all := map[string]bool{}
	for i := 0; i < 25; i++ {
		obj := testObject(fmt.Sprintf("img-%d", i), "test.jpg")
		register(t, repo, obj, "untagged")
		all[obj.ID] = true
	}

	seen := map[string]bool{}
	var after *pagination.Cursor
	var sizes []int
	for {
		got, err := repo.Query(ctx, repository.QueryOptions{Tags: []string{"untagged"}, After: after, Limit: 11})
		require.NoError(t, err)

		page, more := pagination.Trim(got, 10)
		sizes = append(sizes, len(page))
		for _, o := range page {
			require.False(t, seen[o.ID], "object delivered twice")
			seen[o.ID] = true
		}
		if !more {
			break
		}
		c := pagination.After(page[len(page)-1])
		after = &c
	}

	assert.Equal(t, []int{10, 10, 5}, sizes)
	assert.Equal(t, all, seen)
}

func TestObjectRepository_QueryOrdersByName(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	z := testObject("1", "zebra.png")
	a := testObject("2", "aardvark.png")
	m := testObject("3", "Moose.png")
	register(t, repo, z)
	register(t, repo, a)
	register(t, repo, m)

	got, err := repo.Query(ctx, repository.QueryOptions{Limit: 10})
	require.NoError(t, err)
	// Byte order: uppercase sorts before lowercase.
	assert.Equal(t, []string{m.ID, a.ID, z.ID}, ids(got))

	got, err = repo.Query(ctx, repository.QueryOptions{Limit: 0})
	require.NoError(t, err)
	assert.Empty(t, got)
}
