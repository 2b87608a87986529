package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"

	"github.com/prn-tf/tagsoup/internal/domain"
	"github.com/prn-tf/tagsoup/internal/metrics"
	"github.com/prn-tf/tagsoup/internal/storage"
)

// Thumbnails derives and serves preview images.
type Thumbnails interface {
	// Derive renders and stores the thumbnail of id. Failures are logged,
	// never returned.
	Derive(ctx context.Context, id string)

	// Open returns the stored thumbnail of id, or domain.ErrThumbnailNotFound.
	Open(ctx context.Context, id string) (io.ReadCloser, error)

	// Remove deletes the thumbnail of id if one exists.
	Remove(ctx context.Context, id string) error
}

// ThumbnailConfig contains thumbnail derivation settings.
type ThumbnailConfig struct {
	// Enabled turns derivation on. Open and Remove work either way.
	Enabled bool

	// Size is the edge of the square box the thumbnail is fitted into.
	Size int

	// Quality is the JPEG encoder quality.
	Quality int

	// MaxSourcePixels rejects sources larger than width*height pixels
	// before they are decoded. Zero disables the check.
	MaxSourcePixels int64
}

// DefaultThumbnailConfig returns sensible defaults.
func DefaultThumbnailConfig() ThumbnailConfig {
	return ThumbnailConfig{
		Enabled:         true,
		Size:            300,
		Quality:         80,
		MaxSourcePixels: 100_000_000,
	}
}

// ThumbnailService renders JPEG previews of stored originals.
type ThumbnailService struct {
	originals storage.Backend
	thumbs    storage.Backend
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	config    ThumbnailConfig
}

// NewThumbnailService creates a new ThumbnailService.
func NewThumbnailService(
	originals storage.Backend,
	thumbs storage.Backend,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config ThumbnailConfig,
) *ThumbnailService {
	return &ThumbnailService{
		originals: originals,
		thumbs:    thumbs,
		metrics:   m,
		logger:    logger.With().Str("service", "thumbnail").Logger(),
		config:    config,
	}
}

// Derive renders the thumbnail of id and stores it under the same id.
func (s *ThumbnailService) Derive(ctx context.Context, id string) {
	if !s.config.Enabled {
		return
	}

	start := time.Now()
	err := s.derive(ctx, id)
	s.metrics.RecordThumbnail(err == nil, time.Since(start))

	if err != nil {
		s.logger.Warn().Err(err).Str("id", id).Msg("thumbnail derivation failed")
		return
	}
	s.logger.Debug().Str("id", id).Dur("duration", time.Since(start)).Msg("thumbnail derived")
}

func (s *ThumbnailService) derive(ctx context.Context, id string) error {
	if err := s.checkDimensions(ctx, id); err != nil {
		return err
	}

	src, err := s.originals.Open(ctx, id)
	if err != nil {
		return fmt.Errorf("open original: %w", err)
	}
	defer src.Close()

	var buf bytes.Buffer
	if err := s.render(src, &buf); err != nil {
		return err
	}

	if err := s.thumbs.Put(ctx, id, &buf); err != nil {
		return fmt.Errorf("store thumbnail: %w", err)
	}
	return nil
}

// checkDimensions reads only the image header so oversized sources are
// rejected before any pixel buffer is allocated.
func (s *ThumbnailService) checkDimensions(ctx context.Context, id string) error {
	if s.config.MaxSourcePixels <= 0 {
		return nil
	}

	src, err := s.originals.Open(ctx, id)
	if err != nil {
		return fmt.Errorf("open original: %w", err)
	}
	defer src.Close()

	cfg, format, err := image.DecodeConfig(src)
	if err != nil {
		return fmt.Errorf("read image header: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > s.config.MaxSourcePixels {
		return fmt.Errorf("%s source %dx%d exceeds %d pixels", format, cfg.Width, cfg.Height, s.config.MaxSourcePixels)
	}
	return nil
}

// render decodes r, applies EXIF orientation, flattens transparency onto
// white, fits the result into the configured box and encodes it as JPEG.
func (s *ThumbnailService) render(r io.Reader, w io.Writer) error {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}

	if hasAlpha(img) {
		b := img.Bounds()
		bg := imaging.New(b.Dx(), b.Dy(), color.White)
		img = imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
	}

	thumb := imaging.Fit(img, s.config.Size, s.config.Size, imaging.Lanczos)

	if err := imaging.Encode(w, thumb, imaging.JPEG, imaging.JPEGQuality(s.config.Quality)); err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	return nil
}

// hasAlpha reports whether img's pixel model can carry transparency.
func hasAlpha(img image.Image) bool {
	switch img.(type) {
	case *image.Paletted, *image.NRGBA, *image.NRGBA64, *image.RGBA, *image.RGBA64, *image.Alpha, *image.Alpha16:
		return true
	default:
		return false
	}
}

// Open returns the stored thumbnail of id.
func (s *ThumbnailService) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	rc, err := s.thumbs.Open(ctx, id)
	if err != nil {
		if storage.IsNotFound(err) || errors.Is(err, storage.ErrInvalidDigest) {
			return nil, domain.ErrThumbnailNotFound
		}
		return nil, internalError(err)
	}
	return rc, nil
}

// Remove deletes the thumbnail of id. A missing thumbnail is not an error.
func (s *ThumbnailService) Remove(ctx context.Context, id string) error {
	if err := s.thumbs.Delete(ctx, id); err != nil && !storage.IsNotFound(err) {
		return err
	}
	return nil
}

var _ Thumbnails = (*ThumbnailService)(nil)
