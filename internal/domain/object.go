// Package domain contains the core entities of the TagSoup image store.
package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// Object is a stored image, identified by the digest of its bytes.
// Objects are immutable once registered; only their tags change.
type Object struct {
	// ID is the lowercase hex content digest.
	ID string `json:"id"`

	// MimeType is the content type declared at ingestion.
	MimeType string `json:"mime_type"`

	// Size is the number of bytes read during ingestion.
	Size int64 `json:"size"`

	// OriginalName is the filename supplied by the first uploader.
	OriginalName string `json:"original_name"`

	// Tags is the sorted set of labels attached to the object.
	Tags []string `json:"tags"`

	// CreatedAt is when the object was first registered.
	CreatedAt time.Time `json:"created_at"`
}

// NewObject creates an Object for a freshly ingested blob.
func NewObject(id, mimeType string, size int64, originalName string) *Object {
	return &Object{
		ID:           id,
		MimeType:     mimeType,
		Size:         size,
		OriginalName: originalName,
		Tags:         []string{},
		CreatedAt:    time.Now().UTC(),
	}
}

// HasTag reports whether the object carries the given label.
func (o *Object) HasTag(label string) bool {
	for _, t := range o.Tags {
		if t == label {
			return true
		}
	}
	return false
}

// ThumbnailName returns the download filename used for the object's thumbnail.
func (o *Object) ThumbnailName() string {
	stem := strings.TrimSuffix(o.OriginalName, filepath.Ext(o.OriginalName))
	if stem == "" {
		stem = o.ID
	}
	return stem + "_thumb.jpg"
}

// CleanFilename strips directory components from a client supplied name.
// An empty or meaningless name falls back to the given default.
func CleanFilename(name, fallback string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == "/" || base == "" {
		return fallback
	}
	return base
}
