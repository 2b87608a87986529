package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/tagsoup/internal/config"
	"github.com/prn-tf/tagsoup/internal/domain"
	"github.com/prn-tf/tagsoup/internal/metrics"
	"github.com/prn-tf/tagsoup/internal/pkg/crypto"
	"github.com/prn-tf/tagsoup/internal/repository"
	"github.com/prn-tf/tagsoup/internal/repository/sqlite"
	"github.com/prn-tf/tagsoup/internal/storage"
)

// =============================================================================
// Test Environment
// =============================================================================

// testEnv wires the services onto a temporary SQLite index and blob stores.
type testEnv struct {
	repo       repository.ObjectRepository
	root       string
	originals  *storage.FSBackend
	thumbs     *storage.FSBackend
	metrics    *metrics.Metrics
	thumbnails *ThumbnailService
	ingest     *IngestService
	images     *ImageService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, func(*IngestConfig, *ThumbnailConfig) {})
}

func newTestEnvWith(t *testing.T, tweak func(*IngestConfig, *ThumbnailConfig)) *testEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	logger := zerolog.Nop()

	db, err := sqlite.NewDB(ctx, sqlite.DefaultConfig(filepath.Join(dir, "index.db")), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	originals, err := storage.NewFSBackend(storage.FSConfig{Root: filepath.Join(dir, "images"), Algorithm: crypto.SHA256}, logger)
	require.NoError(t, err)
	thumbs, err := storage.NewFSBackend(storage.FSConfig{Root: filepath.Join(dir, "thumbnails"), Algorithm: crypto.SHA256}, logger)
	require.NoError(t, err)

	ingestCfg := IngestConfig{
		MaxSize:      1 << 20,
		ChunkSize:    1024,
		AllowedTypes: config.DefaultAllowedTypes,
		DefaultTags:  []string{"untagged"},
		Algorithm:    crypto.SHA256,
	}
	thumbCfg := DefaultThumbnailConfig()
	thumbCfg.Size = 100
	tweak(&ingestCfg, &thumbCfg)

	m := metrics.New(prometheus.NewRegistry())
	repo := sqlite.NewObjectRepository(db)
	thumbnails := NewThumbnailService(originals, thumbs, m, logger, thumbCfg)

	return &testEnv{
		repo:       repo,
		root:       dir,
		originals:  originals,
		thumbs:     thumbs,
		metrics:    m,
		thumbnails: thumbnails,
		ingest:     NewIngestService(repo, originals, thumbnails, m, logger, ingestCfg),
		images:     NewImageService(repo, originals, thumbnails, m, logger, PaginationConfig{DefaultPageSize: 10, MaxPageSize: 50}),
	}
}

func (e *testEnv) upload(t *testing.T, data []byte, contentType, name string) *domain.Object {
	t.Helper()
	obj, err := e.ingest.Ingest(context.Background(), IngestInput{
		Body:        bytes.NewReader(data),
		ContentType: contentType,
		Filename:    name,
	})
	require.NoError(t, err)
	return obj
}

func (e *testEnv) stats(t *testing.T) *repository.Stats {
	t.Helper()
	stats, err := e.repo.Count(context.Background())
	require.NoError(t, err)
	return stats
}

func listBlobs(t *testing.T, b *storage.FSBackend) []storage.BlobInfo {
	t.Helper()
	blobs, err := b.List(context.Background())
	require.NoError(t, err)
	return blobs
}

func (e *testEnv) stagingDir() string {
	return storage.DefaultLayout(filepath.Join(e.root, "images")).StagingDir()
}

// stagingFiles lists in-flight writes of the originals store.
func (e *testEnv) stagingFiles(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(e.stagingDir())
	require.NoError(t, err)
	return entries
}

// pngBytes encodes a w x h image. With transparent set the left half is
// fully transparent.
func pngBytes(t *testing.T, w, h int, transparent bool) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{R: 200, G: 30, B: 30, A: 255}
			if transparent && x < w/2 {
				c = color.NRGBA{}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// =============================================================================
// Mocks
// =============================================================================

type mockObjectRepository struct {
	mock.Mock
}

func (m *mockObjectRepository) Exists(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockObjectRepository) Register(ctx context.Context, obj *domain.Object, initialTags []string) (bool, error) {
	args := m.Called(ctx, obj, initialTags)
	return args.Bool(0), args.Error(1)
}

func (m *mockObjectRepository) Get(ctx context.Context, id string) (*domain.Object, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Object), args.Error(1)
}

func (m *mockObjectRepository) AddTag(ctx context.Context, id, label string) error {
	return m.Called(ctx, id, label).Error(0)
}

func (m *mockObjectRepository) RemoveTag(ctx context.Context, id, label string) error {
	return m.Called(ctx, id, label).Error(0)
}

func (m *mockObjectRepository) ListTags(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockObjectRepository) Query(ctx context.Context, opts repository.QueryOptions) ([]*domain.Object, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Object), args.Error(1)
}

func (m *mockObjectRepository) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockObjectRepository) Count(ctx context.Context) (*repository.Stats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Stats), args.Error(1)
}

type mockDeriver struct {
	mock.Mock
}

func (m *mockDeriver) Derive(ctx context.Context, id string) {
	m.Called(ctx, id)
}

// racingRepository lets a concurrent writer slip in at a chosen point. After
// the inner repository answers the existsCall-th Exists for id (or, with
// afterDelete, after Delete of id) it runs race once and returns the answer
// it had before the race.
type racingRepository struct {
	repository.ObjectRepository
	id          string
	existsCall  int
	afterDelete bool
	race        func()

	calls int
	raced bool
}

func (r *racingRepository) fire() {
	if !r.raced {
		r.raced = true
		r.race()
	}
}

func (r *racingRepository) Exists(ctx context.Context, id string) (bool, error) {
	exists, err := r.ObjectRepository.Exists(ctx, id)
	if id == r.id {
		r.calls++
		if r.calls == r.existsCall {
			r.fire()
		}
	}
	return exists, err
}

func (r *racingRepository) Delete(ctx context.Context, id string) error {
	err := r.ObjectRepository.Delete(ctx, id)
	if id == r.id && r.afterDelete {
		r.fire()
	}
	return err
}
