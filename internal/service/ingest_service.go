package service

import (
	"context"
	"errors"
	"io"
	"mime"
	"strings"

	"github.com/rs/zerolog"

	"github.com/prn-tf/tagsoup/internal/config"
	"github.com/prn-tf/tagsoup/internal/domain"
	"github.com/prn-tf/tagsoup/internal/metrics"
	"github.com/prn-tf/tagsoup/internal/pkg/crypto"
	"github.com/prn-tf/tagsoup/internal/repository"
	"github.com/prn-tf/tagsoup/internal/storage"
)

// Deriver derives assets for a newly registered object.
type Deriver interface {
	Derive(ctx context.Context, id string)
}

// IngestConfig contains upload settings.
type IngestConfig struct {
	// MaxSize is the largest accepted upload in bytes.
	MaxSize int64

	// ChunkSize is the read buffer size while streaming.
	ChunkSize int

	// AllowedTypes is the content type allow-list.
	AllowedTypes []string

	// DefaultTags are attached to newly registered objects.
	DefaultTags []string

	// Algorithm is the content digest.
	Algorithm crypto.Algorithm
}

// IngestConfigFrom builds an IngestConfig from application configuration.
func IngestConfigFrom(cfg *config.Config) IngestConfig {
	return IngestConfig{
		MaxSize:      cfg.Ingest.MaxSize,
		ChunkSize:    cfg.Ingest.ChunkSize,
		AllowedTypes: cfg.Ingest.AllowedTypes,
		DefaultTags:  cfg.Ingest.DefaultTags,
		Algorithm:    cfg.Storage.DigestAlgorithm(),
	}
}

// IngestService stores uploads and registers them in the index.
type IngestService struct {
	objectRepo repository.ObjectRepository
	blobs      storage.Backend
	deriver    Deriver
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	config     IngestConfig
	allowed    map[string]bool
}

// NewIngestService creates a new IngestService. deriver may be nil.
func NewIngestService(
	objectRepo repository.ObjectRepository,
	blobs storage.Backend,
	deriver Deriver,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config IngestConfig,
) *IngestService {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 8 * 1024
	}
	if config.Algorithm == "" {
		config.Algorithm = crypto.SHA256
	}

	allowed := make(map[string]bool, len(config.AllowedTypes))
	for _, t := range config.AllowedTypes {
		allowed[strings.ToLower(t)] = true
	}

	return &IngestService{
		objectRepo: objectRepo,
		blobs:      blobs,
		deriver:    deriver,
		metrics:    m,
		logger:     logger.With().Str("service", "ingest").Logger(),
		config:     config,
		allowed:    allowed,
	}
}

// =============================================================================
// Input/Output Structs
// =============================================================================

// IngestInput contains an upload.
type IngestInput struct {
	Body        io.Reader
	ContentType string
	Filename    string
}

// =============================================================================
// Service Methods
// =============================================================================

// Ingest streams an upload into the blob store and registers it on first
// sight. The returned view carries the declared metadata and the number of
// bytes read; its tag list is empty.
func (s *IngestService) Ingest(ctx context.Context, input IngestInput) (*domain.Object, error) {
	mimeType, ok := s.normalizeType(input.ContentType)
	if !ok {
		s.metrics.RecordIngest(metrics.IngestUnsupported, 0)
		return nil, domain.NewDomainError(domain.ErrUnsupportedType, "content type is not allowed", input.ContentType)
	}

	staging, err := s.blobs.NewStaging(ctx)
	if err != nil {
		s.metrics.RecordIngest(metrics.IngestError, 0)
		return nil, internalError(err)
	}
	// Discard is a no-op after a successful Commit.
	defer staging.Discard()

	hr := crypto.NewHashReader(input.Body, s.config.Algorithm)
	if err := s.stream(ctx, hr, staging); err != nil {
		if errors.Is(err, domain.ErrTooLarge) {
			s.metrics.RecordIngest(metrics.IngestTooLarge, 0)
			s.logger.Info().
				Str("filename", input.Filename).
				Int64("max_size", s.config.MaxSize).
				Msg("upload rejected: too large")
			return nil, err
		}
		s.metrics.RecordIngest(metrics.IngestError, 0)
		return nil, internalError(err)
	}

	id := hr.Sum()
	size := hr.Size()

	if err := staging.Commit(id); err != nil {
		s.metrics.RecordIngest(metrics.IngestError, 0)
		return nil, internalError(err)
	}

	obj := domain.NewObject(id, mimeType, size, domain.CleanFilename(input.Filename, id))

	created, err := s.register(ctx, obj)
	if err != nil {
		s.metrics.RecordIngest(metrics.IngestError, 0)
		return nil, internalError(err)
	}

	if created {
		s.metrics.RecordIngest(metrics.IngestNew, size)
		s.logger.Info().
			Str("id", id).
			Str("mime_type", mimeType).
			Int64("size", size).
			Str("filename", obj.OriginalName).
			Msg("object registered")

		if s.deriver != nil {
			// The object is registered; its only derivation must not die with the request.
			s.deriver.Derive(context.WithoutCancel(ctx), id)
		}
	} else {
		s.metrics.RecordIngest(metrics.IngestDuplicate, size)
		s.logger.Debug().Str("id", id).Msg("duplicate upload")
	}

	return obj, nil
}

// stream copies r into w in chunks, failing with ErrTooLarge as soon as the
// byte count passes the limit.
func (s *IngestService) stream(ctx context.Context, r *crypto.HashReader, w io.Writer) error {
	buf := make([]byte, s.config.ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := r.Read(buf)
		if r.Size() > s.config.MaxSize {
			return domain.NewDomainError(domain.ErrTooLarge, "upload exceeds size limit", "")
		}
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// register inserts obj unless its id is already indexed. The Exists check is
// the fast path for duplicates; Register itself is insert-if-absent, so
// racing uploads still register once.
func (s *IngestService) register(ctx context.Context, obj *domain.Object) (bool, error) {
	exists, err := s.objectRepo.Exists(ctx, obj.ID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	return s.objectRepo.Register(ctx, obj, s.config.DefaultTags)
}

func (s *IngestService) normalizeType(contentType string) (string, bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", false
	}
	mediaType = strings.ToLower(mediaType)
	return mediaType, s.allowed[mediaType]
}
