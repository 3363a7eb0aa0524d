// Package pagination implements the opaque keyset cursors of the posts API.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tgwatch/collector/internal/models"
)

const (
	cursorSeparator = ","
	timeFormat      = time.RFC3339Nano
)

// Cursor is the position after the last post of a page: posts are ordered by
// ingestion time, ties broken by row id.
type Cursor struct {
	CreatedAt time.Time
	ID        int64
}

// After returns the cursor positioned just after post.
func After(post models.Post) Cursor {
	return Cursor{CreatedAt: post.CreatedAt.UTC(), ID: post.ID}
}

// Encode returns the URL-safe opaque form of c.
func (c Cursor) Encode() string {
	key := c.CreatedAt.UTC().Format(timeFormat) + cursorSeparator + strconv.FormatInt(c.ID, 10)
	return base64.URLEncoding.EncodeToString([]byte(key))
}

// EncodeCursor creates an opaque cursor string from timestamp and ID.
func EncodeCursor(ts time.Time, id int64) string {
	return Cursor{CreatedAt: ts, ID: id}.Encode()
}

// DecodeCursor parses an opaque cursor string back into timestamp and ID.
func DecodeCursor(encoded string) (time.Time, int64, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	ts, idStr, ok := strings.Cut(string(raw), cursorSeparator)
	if !ok {
		return time.Time{}, 0, fmt.Errorf("invalid cursor format")
	}

	createdAt, err := time.Parse(timeFormat, ts)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("invalid timestamp in cursor: %w", err)
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("invalid id in cursor: %w", err)
	}
	if id < 0 {
		return time.Time{}, 0, fmt.Errorf("invalid id in cursor: %d", id)
	}

	return createdAt.UTC(), id, nil
}
