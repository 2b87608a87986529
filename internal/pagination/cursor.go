// Package pagination encodes resume positions for keyset paginated queries.
//
// A cursor names the last item delivered on a page by its ordering key
// (original name, then id). Tokens are opaque to clients: base64url over a
// small JSON document. They are not signed and do not expire.
package pagination

import (
	"encoding/base64"
	"encoding/json"

	"github.com/prn-tf/tagsoup/internal/domain"
)

// Cursor is a position in the (original_name, id) ordering.
type Cursor struct {
	Name string `json:"n"`
	ID   string `json:"i"`
}

// After returns the cursor positioned on obj.
func After(obj *domain.Object) Cursor {
	return Cursor{Name: obj.OriginalName, ID: obj.ID}
}

// Encode returns the opaque token for c.
func Encode(c Cursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses a token produced by Encode.
// Any malformed token yields domain.ErrInvalidCursor.
func Decode(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, domain.ErrInvalidCursor
	}

	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, domain.ErrInvalidCursor
	}
	if c.ID == "" {
		return Cursor{}, domain.ErrInvalidCursor
	}
	return c, nil
}

// DecodeOptional decodes token, treating the empty string as "start from the
// beginning".
func DecodeOptional(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	c, err := Decode(token)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Trim cuts a result fetched with limit pageSize+1 down to pageSize and
// reports whether the lookahead row was present.
func Trim[T any](items []T, pageSize int) ([]T, bool) {
	if len(items) > pageSize {
		return items[:pageSize], true
	}
	return items, false
}
