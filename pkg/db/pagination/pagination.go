package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor marks the last item of a page. Pages continue strictly after it.
type Cursor struct {
	ID string `json:"id"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return nil, ErrInvalidCursor
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil || cursor.ID == "" {
		return nil, ErrInvalidCursor
	}
	return &cursor, nil
}

// Trim cuts a result fetched with limit+1 rows back to limit and reports whether
// more rows exist.
func Trim[T any](items []T, limit int) ([]T, bool) {
	if limit < 0 || len(items) <= limit {
		return items, false
	}
	return items[:limit], true
}
