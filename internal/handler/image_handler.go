package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/tagsoup/internal/domain"
	"github.com/prn-tf/tagsoup/internal/service"
)

// uploadFormField is the multipart field carrying the image.
const uploadFormField = "file"

// maxTagBody bounds tag mutation request bodies.
const maxTagBody = 64 * 1024

// ImageHandler serves the image API.
type ImageHandler struct {
	images *service.ImageService
	ingest *service.IngestService
	logger zerolog.Logger

	// maxBody caps the whole upload request, multipart framing included.
	maxBody int64
}

// ImageHandlerConfig contains the dependencies of an ImageHandler.
type ImageHandlerConfig struct {
	Images *service.ImageService
	Ingest *service.IngestService
	Logger zerolog.Logger

	// MaxUploadSize is the configured ingest limit. The request body may
	// exceed it by a fixed allowance for multipart framing.
	MaxUploadSize int64
}

// NewImageHandler creates a new ImageHandler.
func NewImageHandler(cfg ImageHandlerConfig) *ImageHandler {
	return &ImageHandler{
		images:  cfg.Images,
		ingest:  cfg.Ingest,
		logger:  cfg.Logger.With().Str("handler", "image").Logger(),
		maxBody: cfg.MaxUploadSize + 1<<20,
	}
}

// RegisterRoutes registers image routes on r.
func (h *ImageHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/image", func(r chi.Router) {
		r.Post("/uploadImage", h.handleUpload)
		r.Get("/getImage/{id}", h.handleGetImage)
		r.Get("/getImageInfo/{id}", h.handleGetImageInfo)
		r.Get("/getImageThumbnail/{id}", h.handleGetThumbnail)
		r.Get("/getImagesInfo", h.handleListImages)
		r.Post("/addImageTag/{id}", h.handleAddTag)
		r.Delete("/deleteImageTag/{id}", h.handleDeleteTag)
		r.Get("/getImageTags", h.handleListTags)
	})
}

// =============================================================================
// Ingestion
// =============================================================================

func (h *ImageHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, h.logger, badRequest("expected a multipart/form-data body"))
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, h.logger, badRequest("missing form field \"file\""))
			return
		}
		if err != nil {
			if isBodyCap(err) {
				writeError(w, h.logger, asTooLarge(err))
				return
			}
			writeError(w, h.logger, badRequest("malformed multipart body"))
			return
		}

		if part.FormName() != uploadFormField {
			part.Close()
			continue
		}

		obj, err := h.ingest.Ingest(r.Context(), service.IngestInput{
			Body:        cappedPart{part},
			ContentType: part.Header.Get("Content-Type"),
			Filename:    part.FileName(),
		})
		part.Close()
		if err != nil {
			writeError(w, h.logger, err)
			return
		}

		w.Header().Set("Location", "/api/image/getImageInfo/"+obj.ID)
		writeJSON(w, http.StatusCreated, obj)
		return
	}
}

// cappedPart reports the request body cap as an oversized upload.
type cappedPart struct{ r io.Reader }

func (p cappedPart) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	return n, asTooLarge(err)
}

// asTooLarge maps the request body cap to ErrTooLarge and returns any other
// error unchanged.
func asTooLarge(err error) error {
	if isBodyCap(err) {
		return domain.NewDomainError(domain.ErrTooLarge, "upload exceeds size limit", "")
	}
	return err
}

func isBodyCap(err error) bool {
	var capErr *http.MaxBytesError
	return errors.As(err, &capErr)
}

// =============================================================================
// Retrieval
// =============================================================================

func (h *ImageHandler) handleGetImage(w http.ResponseWriter, r *http.Request) {
	obj, rc, err := h.images.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer rc.Close()

	// Content never changes for a digest, so the id is a strong validator.
	w.Header().Set("ETag", `"`+obj.ID+`"`)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	h.serveBlob(w, r, rc, obj.MimeType, obj.OriginalName, obj.CreatedAt)
}

func (h *ImageHandler) handleGetImageInfo(w http.ResponseWriter, r *http.Request) {
	obj, err := h.images.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

func (h *ImageHandler) handleGetThumbnail(w http.ResponseWriter, r *http.Request) {
	obj, rc, err := h.images.OpenThumbnail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer rc.Close()

	h.serveBlob(w, r, rc, "image/jpeg", obj.ThumbnailName(), obj.CreatedAt)
}

// serveBlob writes a stored file inline. Seekable sources get range and
// conditional request support.
func (h *ImageHandler) serveBlob(w http.ResponseWriter, r *http.Request, rc io.Reader, contentType, filename string, modTime time.Time) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": filename}))

	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, "", modTime, rs)
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Debug().Err(err).Msg("client went away during download")
	}
}

// =============================================================================
// Queries
// =============================================================================

func (h *ImageHandler) handleListImages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	pageSize := h.images.DefaultPageSize()
	if raw := q.Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, h.logger, badRequest("page_size must be an integer"))
			return
		}
		pageSize = n
	}

	page, err := h.images.ListImages(r.Context(), service.ListImagesInput{
		Tags:     q["tag"],
		Cursor:   q.Get("cursor"),
		PageSize: pageSize,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ImageHandler) handleListTags(w http.ResponseWriter, r *http.Request) {
	labels, err := h.images.ListTags(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, labels)
}

// =============================================================================
// Tag Mutation
// =============================================================================

type addTagRequest struct {
	Tag string `json:"tag"`
}

func (h *ImageHandler) handleAddTag(w http.ResponseWriter, r *http.Request) {
	var req addTagRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTagBody)).Decode(&req); err != nil {
		writeError(w, h.logger, badRequest("request body must be {\"tag\": \"...\"}"))
		return
	}

	if err := h.images.AddTag(r.Context(), chi.URLParam(r, "id"), req.Tag); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ImageHandler) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	tag, ok := r.URL.Query()["tag"]
	if !ok || len(tag) != 1 {
		writeError(w, h.logger, badRequest("exactly one tag parameter is required"))
		return
	}

	if err := h.images.RemoveTag(r.Context(), chi.URLParam(r, "id"), tag[0]); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
