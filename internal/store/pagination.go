package store

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

// CursorPage is a keyset page. NextCursor is empty on the last page.
type CursorPage[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

type OffsetPage[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

func newOffsetPage[T any](items []T, total int64, page, pageSize int) *OffsetPage[T] {
	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}
	return &OffsetPage[T]{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
}

// keysetPage trims the limit+1 probe row and derives the next cursor from the
// last kept row.
func keysetPage[T any](rows []T, limit int, key func(T) OrderCursor) *CursorPage[T] {
	page := &CursorPage[T]{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		page.HasMore = true
		page.NextCursor = EncodeCursor(key(page.Items[len(page.Items)-1]))
	}
	return page
}

// OrderCursor is the (created_at, id) position of the last order on a page.
type OrderCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        int64     `json:"id"`
}

var errEmptyCursor = errors.New("cursor has no position")

// First reports whether c is the start of the list.
func (c OrderCursor) First() bool {
	return c.ID == 0 && c.CreatedAt.IsZero()
}

// bound returns the keyset arguments for c. The first page binds NULL so the
// keyset predicate drops out of the query.
func (c OrderCursor) bound() (any, any) {
	if c.First() {
		return nil, nil
	}
	return c.CreatedAt, c.ID
}

func EncodeCursor(cursor OrderCursor) string {
	data, err := json.Marshal(cursor)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses a cursor. The empty string decodes to the zero cursor,
// which marks the first page.
func DecodeCursor(encoded string) (OrderCursor, error) {
	if encoded == "" {
		return OrderCursor{}, nil
	}

	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return OrderCursor{}, err
	}

	var cursor OrderCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return OrderCursor{}, err
	}
	if cursor.ID <= 0 || cursor.CreatedAt.IsZero() {
		return OrderCursor{}, errEmptyCursor
	}
	return cursor, nil
}
