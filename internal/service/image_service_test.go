package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/tagsoup/internal/domain"
	"github.com/prn-tf/tagsoup/internal/pagination"
)

func TestListImages_PagesWithoutGapsOrRepeats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var want []string
	for i := 0; i < 25; i++ {
		obj := env.upload(t, []byte(fmt.Sprintf("image-%02d", i)), "image/png", "same.png")
		want = append(want, obj.ID)
	}
	sort.Strings(want)

	var got []string
	var sizes []int
	cursor := ""
	for {
		page, err := env.images.ListImages(ctx, ListImagesInput{Cursor: cursor, PageSize: 10})
		require.NoError(t, err)
		sizes = append(sizes, len(page.Items))
		for _, obj := range page.Items {
			got = append(got, obj.ID)
		}
		if page.NextCursor == nil {
			assert.False(t, page.HasMore)
			break
		}
		assert.True(t, page.HasMore)
		cursor = *page.NextCursor
	}

	assert.Equal(t, []int{10, 10, 5}, sizes)
	assert.Equal(t, want, got, "ties on name are broken by id")
}

func TestListImages_OrderedByName(t *testing.T) {
	env := newTestEnv(t)

	env.upload(t, []byte("c"), "image/png", "charlie.png")
	env.upload(t, []byte("a"), "image/png", "alpha.png")
	env.upload(t, []byte("b"), "image/png", "bravo.png")

	page, err := env.images.ListImages(context.Background(), ListImagesInput{PageSize: 10})
	require.NoError(t, err)

	var names []string
	for _, obj := range page.Items {
		names = append(names, obj.OriginalName)
	}
	assert.Equal(t, []string{"alpha.png", "bravo.png", "charlie.png"}, names)
	assert.Nil(t, page.NextCursor)
}

func TestListImages_ExactPageHasNoNextCursor(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 10; i++ {
		env.upload(t, []byte(fmt.Sprintf("n-%d", i)), "image/png", "n.png")
	}

	page, err := env.images.ListImages(context.Background(), ListImagesInput{PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, page.Items, 10)
	assert.Nil(t, page.NextCursor)
	assert.False(t, page.HasMore)
}

func TestListImages_TagFilterIsConjunctive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	both := env.upload(t, []byte("both"), "image/png", "both.png")
	onlyA := env.upload(t, []byte("a"), "image/png", "a.png")
	onlyB := env.upload(t, []byte("b"), "image/png", "b.png")

	require.NoError(t, env.images.AddTag(ctx, both.ID, "A"))
	require.NoError(t, env.images.AddTag(ctx, both.ID, "B"))
	require.NoError(t, env.images.AddTag(ctx, onlyA.ID, "A"))
	require.NoError(t, env.images.AddTag(ctx, onlyB.ID, "B"))

	tests := []struct {
		name string
		tags []string
		want []string
	}{
		{"both tags", []string{"A", "B"}, []string{both.ID}},
		{"order does not matter", []string{"B", "A"}, []string{both.ID}},
		{"repeated tag", []string{"A", " A "}, []string{onlyA.ID, both.ID}},
		{"single tag", []string{"B"}, []string{onlyB.ID, both.ID}},
		{"unknown tag", []string{"A", "missing"}, nil},
		{"case sensitive", []string{"a"}, nil},
		{"no filter", nil, []string{onlyA.ID, onlyB.ID, both.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := env.images.ListImages(ctx, ListImagesInput{Tags: tt.tags, PageSize: 50})
			require.NoError(t, err)

			var got []string
			for _, obj := range page.Items {
				got = append(got, obj.ID)
				for _, tag := range tt.tags {
					assert.True(t, obj.HasTag(strings.TrimSpace(tag)), "%s lacks %q", obj.ID, tag)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListImages_InvalidInput(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		input ListImagesInput
	}{
		{"zero page size", ListImagesInput{PageSize: 0}},
		{"negative page size", ListImagesInput{PageSize: -1}},
		{"page size over maximum", ListImagesInput{PageSize: 51}},
		{"malformed cursor", ListImagesInput{PageSize: 10, Cursor: "%%%"}},
		{"cursor of wrong shape", ListImagesInput{PageSize: 10, Cursor: "bm90IGpzb24"}},
		{"empty tag", ListImagesInput{PageSize: 10, Tags: []string{"  "}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.images.ListImages(context.Background(), tt.input)
			require.ErrorIs(t, err, domain.ErrInvalidArgument)
			assert.Equal(t, "InvalidArgument", domain.Kind(err))
		})
	}
}

func TestListImages_CursorPastEndIsEmpty(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, []byte("only"), "image/png", "a.png")

	cursor := pagination.Encode(pagination.Cursor{Name: "zzz", ID: "f"})
	page, err := env.images.ListImages(context.Background(), ListImagesInput{Cursor: cursor, PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Nil(t, page.NextCursor)
}

func TestTags_AddIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	obj := env.upload(t, []byte("x"), "image/png", "x.png")

	require.NoError(t, env.images.AddTag(ctx, obj.ID, "cat"))
	before := env.stats(t)
	require.NoError(t, env.images.AddTag(ctx, obj.ID, " cat "))
	assert.Equal(t, before, env.stats(t))

	stored, err := env.images.Get(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "untagged"}, stored.Tags)
}

func TestTags_AddToMissingObject(t *testing.T) {
	env := newTestEnv(t)

	err := env.images.AddTag(context.Background(), "deadbeef", "cat")
	require.ErrorIs(t, err, domain.ErrObjectNotFound)
	assert.Equal(t, int64(0), env.stats(t).Tags)
}

func TestTags_AddRejectsInvalidLabel(t *testing.T) {
	env := newTestEnv(t)
	obj := env.upload(t, []byte("x"), "image/png", "x.png")

	tests := []string{"", "   ", string(make([]rune, domain.MaxTagLength+1))}
	for _, label := range tests {
		err := env.images.AddTag(context.Background(), obj.ID, label)
		require.ErrorIs(t, err, domain.ErrInvalidArgument)
	}
}

func TestTags_RemoveIsNoOpWhenAbsent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	obj := env.upload(t, []byte("x"), "image/png", "x.png")

	require.NoError(t, env.images.RemoveTag(ctx, obj.ID, "untagged"))
	require.NoError(t, env.images.RemoveTag(ctx, obj.ID, "untagged"))
	require.NoError(t, env.images.RemoveTag(ctx, "deadbeef", "anything"))

	stored, err := env.images.Get(ctx, obj.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Tags)
}

func TestTags_ListIsDistinctAndSorted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.upload(t, []byte("a"), "image/png", "a.png")
	b := env.upload(t, []byte("b"), "image/png", "b.png")
	require.NoError(t, env.images.AddTag(ctx, a.ID, "zebra"))
	require.NoError(t, env.images.AddTag(ctx, b.ID, "zebra"))
	require.NoError(t, env.images.AddTag(ctx, b.ID, "Apple"))

	labels, err := env.images.ListTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Apple", "untagged", "zebra"}, labels)
}

func TestGet_MissingObject(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.images.Get(context.Background(), "deadbeef")
	require.ErrorIs(t, err, domain.ErrObjectNotFound)
	assert.Equal(t, "NotFound", domain.Kind(err))

	_, _, err = env.images.Open(context.Background(), "deadbeef")
	require.ErrorIs(t, err, domain.ErrObjectNotFound)
}

func TestDelete_RemovesRowBlobAndThumbnail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	obj := env.upload(t, pngBytes(t, 40, 40, false), "image/png", "gone.png")
	require.NoError(t, env.images.AddTag(ctx, obj.ID, "doomed"))
	require.Len(t, listBlobs(t, env.thumbs), 1)

	require.NoError(t, env.images.Delete(ctx, obj.ID))

	_, err := env.images.Get(ctx, obj.ID)
	require.ErrorIs(t, err, domain.ErrObjectNotFound)
	assert.Empty(t, listBlobs(t, env.originals))
	assert.Empty(t, listBlobs(t, env.thumbs))

	labels, err := env.images.ListTags(ctx)
	require.NoError(t, err)
	assert.Empty(t, labels)

	err = env.images.Delete(ctx, obj.ID)
	require.ErrorIs(t, err, domain.ErrObjectNotFound)
}

func TestDelete_ReuploadAfterDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	data := pngBytes(t, 10, 10, false)

	obj := env.upload(t, data, "image/png", "back.png")
	require.NoError(t, env.images.Delete(ctx, obj.ID))

	again := env.upload(t, data, "image/png", "back.png")
	assert.Equal(t, obj.ID, again.ID)

	stored, err := env.images.Get(ctx, again.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"untagged"}, stored.Tags)
	assert.Len(t, listBlobs(t, env.thumbs), 1)
}

func TestDelete_ConcurrentReuploadKeepsBlob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	data := pngBytes(t, 12, 12, false)

	obj := env.upload(t, data, "image/png", "race.png")
	backdate(t, env.originals, obj.ID, time.Hour)

	repo := &racingRepository{
		ObjectRepository: env.repo,
		id:               obj.ID,
		afterDelete:      true,
		race:             func() { env.upload(t, data, "image/png", "race.png") },
	}
	svc := NewImageService(repo, env.originals, env.thumbnails, env.metrics, zerolog.Nop(), PaginationConfig{DefaultPageSize: 10, MaxPageSize: 50})

	require.NoError(t, svc.Delete(ctx, obj.ID))
	require.True(t, repo.raced)

	_, rc, err := env.images.Open(ctx, obj.ID)
	require.NoError(t, err)
	rc.Close()
	assert.True(t, blobExists(t, env.thumbs, obj.ID))
}

func TestImageService_RepositoryFailuresAreInternal(t *testing.T) {
	env := newTestEnv(t)
	repo := new(mockObjectRepository)
	svc := NewImageService(repo, env.originals, env.thumbnails, nil, zerolog.Nop(), PaginationConfig{})
	ctx := context.Background()
	boom := errors.New("database is locked")

	repo.On("Get", mock.Anything, "x").Return(nil, boom)
	repo.On("Query", mock.Anything, mock.Anything).Return(nil, boom)
	repo.On("ListTags", mock.Anything).Return(nil, boom)
	repo.On("RemoveTag", mock.Anything, "x", "t").Return(boom)

	_, err := svc.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrInternalError)
	_, err = svc.ListImages(ctx, ListImagesInput{PageSize: 5})
	assert.ErrorIs(t, err, ErrInternalError)
	_, err = svc.ListTags(ctx)
	assert.ErrorIs(t, err, ErrInternalError)
	assert.ErrorIs(t, svc.RemoveTag(ctx, "x", "t"), ErrInternalError)

	repo.AssertExpectations(t)
}

func TestImageService_PageSizeDefaults(t *testing.T) {
	svc := NewImageService(nil, nil, nil, nil, zerolog.Nop(), PaginationConfig{})
	assert.Equal(t, 20, svc.DefaultPageSize())

	svc = NewImageService(nil, nil, nil, nil, zerolog.Nop(), PaginationConfig{DefaultPageSize: 500, MaxPageSize: 50})
	assert.Equal(t, 20, svc.DefaultPageSize())

	svc = NewImageService(nil, nil, nil, nil, zerolog.Nop(), PaginationConfig{DefaultPageSize: 5, MaxPageSize: 8})
	assert.Equal(t, 5, svc.DefaultPageSize())
}
