package service

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/tagsoup/internal/domain"
	"github.com/prn-tf/tagsoup/internal/metrics"
	"github.com/prn-tf/tagsoup/internal/pagination"
	"github.com/prn-tf/tagsoup/internal/repository"
	"github.com/prn-tf/tagsoup/internal/storage"
)

// PaginationConfig bounds list page sizes.
type PaginationConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

// ImageService answers lookups and tag queries and mutates tags.
type ImageService struct {
	objectRepo repository.ObjectRepository
	blobs      storage.Backend
	thumbnails Thumbnails
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	config     PaginationConfig
}

// NewImageService creates a new ImageService.
func NewImageService(
	objectRepo repository.ObjectRepository,
	blobs storage.Backend,
	thumbnails Thumbnails,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config PaginationConfig,
) *ImageService {
	if config.MaxPageSize <= 0 {
		config.MaxPageSize = 100
	}
	if config.DefaultPageSize <= 0 || config.DefaultPageSize > config.MaxPageSize {
		config.DefaultPageSize = min(20, config.MaxPageSize)
	}

	return &ImageService{
		objectRepo: objectRepo,
		blobs:      blobs,
		thumbnails: thumbnails,
		metrics:    m,
		logger:     logger.With().Str("service", "image").Logger(),
		config:     config,
	}
}

// =============================================================================
// Input/Output Structs
// =============================================================================

// ListImagesInput contains a tag query.
type ListImagesInput struct {
	// Tags are required labels; every result carries all of them.
	Tags []string

	// Cursor is the token from a previous page, empty for the first.
	Cursor string

	// PageSize is the maximum number of items, 1 to the configured maximum.
	PageSize int
}

// ImagePage is one page of a tag query.
type ImagePage struct {
	Items      []*domain.Object `json:"items"`
	NextCursor *string          `json:"next_cursor"`
	PageSize   int              `json:"page_size"`
	HasMore    bool             `json:"has_more"`
}

// =============================================================================
// Service Methods
// =============================================================================

// DefaultPageSize returns the page size used when a caller supplies none.
func (s *ImageService) DefaultPageSize() int {
	return s.config.DefaultPageSize
}

// Get returns an object with its tags.
func (s *ImageService) Get(ctx context.Context, id string) (*domain.Object, error) {
	obj, err := s.objectRepo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrObjectNotFound) {
			return nil, err
		}
		return nil, internalError(err)
	}
	return obj, nil
}

// Open returns an object and a stream over its bytes. The caller must close
// the stream.
func (s *ImageService) Open(ctx context.Context, id string) (*domain.Object, io.ReadCloser, error) {
	obj, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	rc, err := s.blobs.Open(ctx, id)
	if err != nil {
		// A registered object without its blob breaks the store invariant.
		s.logger.Error().Err(err).Str("id", id).Msg("indexed object has no blob")
		return nil, nil, internalError(err)
	}
	return obj, rc, nil
}

// OpenThumbnail returns an object and a stream over its thumbnail.
// Returns domain.ErrThumbnailNotFound if none was derived.
func (s *ImageService) OpenThumbnail(ctx context.Context, id string) (*domain.Object, io.ReadCloser, error) {
	obj, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	rc, err := s.thumbnails.Open(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return obj, rc, nil
}

// ListImages returns one page of objects carrying every requested tag,
// ordered by (original_name, id).
func (s *ImageService) ListImages(ctx context.Context, input ListImagesInput) (*ImagePage, error) {
	if input.PageSize < 1 || input.PageSize > s.config.MaxPageSize {
		return nil, domain.NewDomainError(domain.ErrInvalidArgument, "page_size out of range", "")
	}

	// Repeated labels would inflate the match count the query requires.
	tags, err := domain.NormalizeTags(input.Tags)
	if err != nil {
		return nil, err
	}

	after, err := pagination.DecodeOptional(input.Cursor)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	objects, err := s.objectRepo.Query(ctx, repository.QueryOptions{
		Tags:  tags,
		After: after,
		Limit: input.PageSize + 1,
	})
	s.metrics.RecordQuery(time.Since(start))
	if err != nil {
		return nil, internalError(err)
	}

	items, hasMore := pagination.Trim(objects, input.PageSize)
	if items == nil {
		items = []*domain.Object{}
	}
	page := &ImagePage{
		Items:    items,
		PageSize: input.PageSize,
		HasMore:  hasMore,
	}
	if hasMore {
		next := pagination.Encode(pagination.After(items[len(items)-1]))
		page.NextCursor = &next
	}
	return page, nil
}

// AddTag attaches a label to an object. Re-adding is a no-op.
func (s *ImageService) AddTag(ctx context.Context, id, label string) error {
	label, err := domain.NormalizeTag(label)
	if err != nil {
		return err
	}

	if err := s.objectRepo.AddTag(ctx, id, label); err != nil {
		if errors.Is(err, domain.ErrObjectNotFound) {
			return err
		}
		return internalError(err)
	}

	s.metrics.RecordTagMutation("add")
	s.logger.Debug().Str("id", id).Str("tag", label).Msg("tag added")
	return nil
}

// RemoveTag detaches a label from an object. Removing an absent pair,
// including one whose object does not exist, is a no-op.
func (s *ImageService) RemoveTag(ctx context.Context, id, label string) error {
	label, err := domain.NormalizeTag(label)
	if err != nil {
		return err
	}

	if err := s.objectRepo.RemoveTag(ctx, id, label); err != nil {
		return internalError(err)
	}

	s.metrics.RecordTagMutation("remove")
	s.logger.Debug().Str("id", id).Str("tag", label).Msg("tag removed")
	return nil
}

// ListTags returns every distinct label in ascending order.
func (s *ImageService) ListTags(ctx context.Context) ([]string, error) {
	labels, err := s.objectRepo.ListTags(ctx)
	if err != nil {
		return nil, internalError(err)
	}
	return labels, nil
}

// Delete removes an object from the index, then its blob and thumbnail.
// Blob removal failures are logged; the orphan sweep reclaims leftovers.
func (s *ImageService) Delete(ctx context.Context, id string) error {
	start := time.Now()
	if err := s.objectRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrObjectNotFound) {
			return err
		}
		return internalError(err)
	}

	// An upload of the same bytes racing the delete refreshes the blob or
	// registers the id again; either way the blob must stay.
	removed, err := s.blobs.Reclaim(ctx, id, func(blob storage.BlobInfo) (bool, error) {
		if !blob.ModTime.Before(start) {
			return true, nil
		}
		return s.objectRepo.Exists(ctx, id)
	})
	switch {
	case err != nil && !storage.IsNotFound(err):
		s.logger.Warn().Err(err).Str("id", id).Msg("failed to delete blob")
	case err == nil && !removed:
		s.logger.Info().Str("id", id).Msg("object re-uploaded during delete, blob kept")
		return nil
	}
	if err := s.thumbnails.Remove(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("id", id).Msg("failed to delete thumbnail")
	}

	s.logger.Info().Str("id", id).Msg("object deleted")
	return nil
}

// Stats summarizes the index.
func (s *ImageService) Stats(ctx context.Context) (*repository.Stats, error) {
	stats, err := s.objectRepo.Count(ctx)
	if err != nil {
		return nil, internalError(err)
	}
	return stats, nil
}
