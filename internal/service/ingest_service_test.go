package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/tagsoup/internal/domain"
	"github.com/prn-tf/tagsoup/internal/pkg/crypto"
	"github.com/prn-tf/tagsoup/internal/repository"
)

// countingReader records how many bytes were pulled from it.
type countingReader struct {
	r    io.Reader
	read int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	return n, err
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestIngest_DedupIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	data := pngBytes(t, 20, 10, false)

	first := env.upload(t, data, "image/png", "a.png")
	before := env.stats(t)

	second := env.upload(t, data, "image/png", "renamed.png")
	after := env.stats(t)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, crypto.ComputeHash(crypto.SHA256, data), first.ID)
	assert.Equal(t, before, after)
	assert.Equal(t, int64(1), after.Objects)
	assert.Equal(t, int64(1), after.Tags)

	// The duplicate reports its own declared name and the bytes it read.
	assert.Equal(t, "renamed.png", second.OriginalName)
	assert.Equal(t, int64(len(data)), second.Size)
	assert.Empty(t, second.Tags)

	stored, err := env.images.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.png", stored.OriginalName)
	assert.Equal(t, []string{"untagged"}, stored.Tags)

	assert.Len(t, listBlobs(t, env.originals), 1)
	assert.Empty(t, env.stagingFiles(t))
}

func TestIngest_DistinctContentDistinctIDs(t *testing.T) {
	env := newTestEnv(t)

	a := env.upload(t, []byte("first image"), "image/jpeg", "a.jpg")
	b := env.upload(t, []byte("second image"), "image/jpeg", "a.jpg")

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, int64(2), env.stats(t).Objects)
}

func TestIngest_SizeMatchesBytesRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Spans several chunks with a partial last one.
	data := bytes.Repeat([]byte("x"), 3*1024+17)
	obj := env.upload(t, data, "image/gif", "big.gif")

	exists, err := env.repo.Exists(ctx, obj.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	stored, err := env.images.Get(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), stored.Size)
	assert.Equal(t, "image/gif", stored.MimeType)

	_, rc, err := env.images.Open(ctx, obj.ID)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestIngest_UnsupportedTypeWritesNothing(t *testing.T) {
	env := newTestEnv(t)

	tests := []string{"text/plain", "application/pdf", "", "not a type"}
	for _, ct := range tests {
		t.Run(ct, func(t *testing.T) {
			_, err := env.ingest.Ingest(context.Background(), IngestInput{
				Body:        strings.NewReader("hello"),
				ContentType: ct,
				Filename:    "a.txt",
			})
			require.ErrorIs(t, err, domain.ErrUnsupportedType)
			assert.Equal(t, "UnsupportedType", domain.Kind(err))
		})
	}

	assert.Empty(t, listBlobs(t, env.originals))
	assert.Empty(t, env.stagingFiles(t))
	assert.Equal(t, int64(0), env.stats(t).Objects)
}

func TestIngest_ContentTypeIsNormalized(t *testing.T) {
	env := newTestEnv(t)
	obj := env.upload(t, []byte("png"), "Image/PNG; charset=binary", "x.png")
	assert.Equal(t, "image/png", obj.MimeType)
}

func TestIngest_TooLargeAbortsEarly(t *testing.T) {
	env := newTestEnvWith(t, func(ic *IngestConfig, _ *ThumbnailConfig) {
		ic.MaxSize = 4096
		ic.ChunkSize = 1024
	})

	src := &countingReader{r: bytes.NewReader(bytes.Repeat([]byte("y"), 1<<20))}
	_, err := env.ingest.Ingest(context.Background(), IngestInput{
		Body:        src,
		ContentType: "image/jpeg",
		Filename:    "huge.jpg",
	})

	require.ErrorIs(t, err, domain.ErrTooLarge)
	assert.Equal(t, "TooLarge", domain.Kind(err))
	assert.Less(t, src.read, int64(8192), "stream must not be drained")

	assert.Empty(t, listBlobs(t, env.originals))
	assert.Empty(t, env.stagingFiles(t))
	assert.Equal(t, int64(0), env.stats(t).Objects)
}

func TestIngest_ExactlyMaxSizeIsAccepted(t *testing.T) {
	env := newTestEnvWith(t, func(ic *IngestConfig, _ *ThumbnailConfig) {
		ic.MaxSize = 2048
	})
	obj := env.upload(t, bytes.Repeat([]byte("z"), 2048), "image/bmp", "edge.bmp")
	assert.Equal(t, int64(2048), obj.Size)
}

func TestIngest_ReadErrorLeavesNoStaging(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.ingest.Ingest(context.Background(), IngestInput{
		Body:        failingReader{},
		ContentType: "image/png",
		Filename:    "broken.png",
	})
	require.ErrorIs(t, err, ErrInternalError)
	assert.Empty(t, env.stagingFiles(t))
}

func TestIngest_FilenameIsCleaned(t *testing.T) {
	env := newTestEnv(t)

	obj := env.upload(t, []byte("a"), "image/png", "../../etc/passwd.png")
	assert.Equal(t, "passwd.png", obj.OriginalName)

	obj = env.upload(t, []byte("b"), "image/png", "")
	assert.Equal(t, obj.ID, obj.OriginalName)
}

func TestIngest_CorruptImageStillSucceeds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	obj := env.upload(t, []byte("\x89PNG\r\n\x1a\nthis is not really a png"), "image/png", "corrupt.png")

	stored, err := env.images.Get(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, "corrupt.png", stored.OriginalName)

	_, _, err = env.images.OpenThumbnail(ctx, obj.ID)
	require.ErrorIs(t, err, domain.ErrThumbnailNotFound)
}

func TestIngest_DerivesThumbnailOnce(t *testing.T) {
	env := newTestEnv(t)
	deriver := new(mockDeriver)
	ingest := NewIngestService(env.repo, env.originals, deriver, nil, zerolog.Nop(), IngestConfig{
		MaxSize:      1 << 20,
		AllowedTypes: []string{"image/png"},
	})

	data := []byte("same bytes")
	id := crypto.ComputeHash(crypto.SHA256, data)
	deriver.On("Derive", mock.Anything, id).Return().Once()

	for i := 0; i < 3; i++ {
		_, err := ingest.Ingest(context.Background(), IngestInput{Body: bytes.NewReader(data), ContentType: "image/png", Filename: "s.png"})
		require.NoError(t, err)
	}

	deriver.AssertExpectations(t)

	stored, err := env.repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, stored.Tags, "no default tags configured")
}

// cancelAfterRegister cancels the request context once the row is written,
// as a client hanging up right after the upload would.
type cancelAfterRegister struct {
	repository.ObjectRepository
	cancel context.CancelFunc
}

func (r cancelAfterRegister) Register(ctx context.Context, obj *domain.Object, initialTags []string) (bool, error) {
	created, err := r.ObjectRepository.Register(ctx, obj, initialTags)
	r.cancel()
	return created, err
}

func TestIngest_ThumbnailSurvivesClientHangup(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := cancelAfterRegister{ObjectRepository: env.repo, cancel: cancel}
	ingest := NewIngestService(repo, env.originals, env.thumbnails, env.metrics, zerolog.Nop(), IngestConfig{
		MaxSize:      1 << 20,
		AllowedTypes: []string{"image/png"},
	})

	obj, err := ingest.Ingest(ctx, IngestInput{Body: bytes.NewReader(pngBytes(t, 30, 30, false)), ContentType: "image/png", Filename: "gone.png"})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	assert.True(t, blobExists(t, env.thumbs, obj.ID))
}

func TestIngest_ConcurrentIdenticalUploads(t *testing.T) {
	env := newTestEnv(t)
	data := pngBytes(t, 8, 8, false)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			obj, err := env.ingest.Ingest(context.Background(), IngestInput{
				Body:        bytes.NewReader(data),
				ContentType: "image/png",
				Filename:    fmt.Sprintf("copy-%d.png", i),
			})
			assert.NoError(t, err)
			if obj != nil {
				ids[i] = obj.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, int64(1), env.stats(t).Objects)
	assert.Len(t, listBlobs(t, env.originals), 1)
	assert.Empty(t, env.stagingFiles(t))
}

func TestIngest_IndexFailureIsInternal(t *testing.T) {
	env := newTestEnv(t)
	repo := new(mockObjectRepository)
	ingest := NewIngestService(repo, env.originals, nil, nil, zerolog.Nop(), IngestConfig{
		MaxSize:      1 << 20,
		AllowedTypes: []string{"image/png"},
		DefaultTags:  []string{"untagged"},
	})

	repo.On("Exists", mock.Anything, mock.Anything).Return(false, nil)
	repo.On("Register", mock.Anything, mock.Anything, []string{"untagged"}).Return(false, errors.New("disk I/O error"))

	_, err := ingest.Ingest(context.Background(), IngestInput{Body: strings.NewReader("abc"), ContentType: "image/png"})
	require.ErrorIs(t, err, ErrInternalError)
	assert.Equal(t, "InternalError", domain.Kind(err))

	// The published blob stays; the next identical upload registers it.
	assert.Len(t, listBlobs(t, env.originals), 1)
	repo.AssertExpectations(t)
}

func TestIngest_KnownObjectSkipsRegister(t *testing.T) {
	env := newTestEnv(t)
	repo := new(mockObjectRepository)
	ingest := NewIngestService(repo, env.originals, nil, nil, zerolog.Nop(), IngestConfig{
		MaxSize:      1 << 20,
		AllowedTypes: []string{"image/png"},
	})

	repo.On("Exists", mock.Anything, mock.Anything).Return(true, nil)

	obj, err := ingest.Ingest(context.Background(), IngestInput{Body: strings.NewReader("abc"), ContentType: "image/png", Filename: "k.png"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), obj.Size)

	repo.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything)
	exists, err := env.originals.Exists(context.Background(), obj.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}
