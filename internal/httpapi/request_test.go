package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/go-marketplace/internal/apperr"
)

func TestDayRange(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 4, 5, 0, time.UTC)

	cases := []struct {
		name     string
		query    string
		from, to time.Time
		wantErr  bool
	}{
		{name: "defaults to now", query: "", from: now, to: now},
		{name: "single day", query: "?day=2024-03-01", from: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), to: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{name: "open end", query: "?from=2024-03-01", from: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), to: now},
		{name: "bad from", query: "?from=yesterday", wantErr: true},
		{name: "bad to", query: "?to=2024/03/01", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/"+tc.query, nil)
			from, to, err := dayRange(req, now)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.from, from)
			assert.Equal(t, tc.to, to)
		})
	}
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=15&page=x", nil)

	v, err := queryInt(req, "limit", 20)
	require.NoError(t, err)
	assert.Equal(t, 15, v)

	v, err = queryInt(req, "missing", 20)
	require.NoError(t, err)
	assert.Equal(t, 20, v)

	_, err = queryInt(req, "page", 1)
	assert.Error(t, err)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(apperr.KindValidation))
	assert.Equal(t, http.StatusConflict, statusFor(apperr.KindContention))
	assert.Equal(t, http.StatusConflict, statusFor(apperr.KindIntegrity))
	assert.Equal(t, http.StatusForbidden, statusFor(apperr.KindAuthorization))
	assert.Equal(t, http.StatusNotFound, statusFor(apperr.KindNotFound))
	assert.Equal(t, http.StatusInternalServerError, statusFor(apperr.KindInternal))
}
