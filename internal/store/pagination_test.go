package store

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	want := OrderCursor{CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), ID: 42}

	got, err := DecodeCursor(EncodeCursor(want))
	require.NoError(t, err)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, want.ID, got.ID)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, raw := range []string{
		"!!",
		base64.RawURLEncoding.EncodeToString([]byte("not json")),
		base64.RawURLEncoding.EncodeToString([]byte(`{"id":0}`)),
	} {
		_, err := DecodeCursor(raw)
		assert.Error(t, err, raw)
	}
}

func TestDecodeEmptyCursorIsFirstPage(t *testing.T) {
	c, err := DecodeCursor("")
	require.NoError(t, err)
	assert.True(t, c.First())

	afterTime, afterID := c.bound()
	assert.Nil(t, afterTime)
	assert.Nil(t, afterID)

	future := OrderCursor{CreatedAt: time.Now().Add(48 * time.Hour), ID: 3}
	assert.False(t, future.First())
	afterTime, afterID = future.bound()
	assert.Equal(t, future.CreatedAt, afterTime)
	assert.Equal(t, int64(3), afterID)
}

func TestKeysetPage(t *testing.T) {
	key := func(id int64) OrderCursor { return OrderCursor{CreatedAt: time.Unix(id, 0), ID: id} }

	page := keysetPage([]int64{9, 8, 7}, 2, key)
	assert.Equal(t, []int64{9, 8}, page.Items)
	assert.True(t, page.HasMore)

	next, err := DecodeCursor(page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, int64(8), next.ID)

	last := keysetPage([]int64{7}, 2, key)
	assert.False(t, last.HasMore)
	assert.Empty(t, last.NextCursor)
}

func TestOffsetPageCountsPages(t *testing.T) {
	assert.Equal(t, 3, newOffsetPage([]int{1}, 41, 3, 20).TotalPages)
	assert.Equal(t, 2, newOffsetPage([]int{1}, 40, 2, 20).TotalPages)
	assert.Equal(t, 0, newOffsetPage([]int{}, 0, 1, 20).TotalPages)
}
