package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cnerrors "github.com/aaronshaf/cn/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestListPagesPagination(t *testing.T) {
	batches := [][]map[string]any{
		{
			{"id": "1", "title": "Home", "status": "current", "version": map[string]any{"number": 3}},
			{"id": "2", "title": "Child", "status": "current", "version": map[string]any{"number": 1},
				"ancestors": []map[string]any{{"id": "1"}}},
		},
		{
			{"id": "3", "title": "Old", "status": "archived", "version": map[string]any{"number": 9}},
		},
	}

	call := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "me@example.com", user)
		assert.Equal(t, "tok", pass)

		resp := map[string]any{"results": batches[call]}
		if call == 0 {
			resp["_links"] = map[string]any{"next": "/rest/api/content?start=2"}
		}

		call++

		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "me@example.com", "tok", testLogger())

	pages, err := c.ListPages(context.Background(), "ENG")
	require.NoError(t, err)
	require.Len(t, pages, 3)

	assert.Equal(t, "1", pages[0].ID)
	assert.Equal(t, 3, pages[0].Version)
	assert.True(t, pages[0].Current())

	assert.Equal(t, "1", pages[1].ParentID)

	assert.Equal(t, "archived", pages[2].Status)
	assert.False(t, pages[2].Current())
}

func TestGetPageBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/content/42", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("expand"), "body.storage")

		fmt.Fprint(w, `{
			"id": "42", "title": "Doc", "status": "current",
			"version": {"number": 5, "when": "2025-06-01T00:00:00Z"},
			"body": {"storage": {"value": "<p>hello</p>"}}
		}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "e", "t", testLogger())

	p, err := c.GetPage(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, "<p>hello</p>", p.Body)
	assert.Equal(t, 5, p.Version)
	assert.Equal(t, "2025-06-01T00:00:00Z", p.UpdatedAt)
}

func TestUpdatePageSendsVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		version := payload["version"].(map[string]any)
		assert.Equal(t, float64(6), version["number"])

		fmt.Fprint(w, `{"id": "42", "title": "Doc", "status": "current", "version": {"number": 6}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "e", "t", testLogger())

	p, err := c.UpdatePage(context.Background(), "42", PageSpec{Title: "Doc", Body: "<p/>"}, 6)
	require.NoError(t, err)
	assert.Equal(t, 6, p.Version)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, cnerrors.ErrNotFound},
		{http.StatusConflict, cnerrors.ErrVersionConflict},
		{http.StatusForbidden, cnerrors.ErrAPIResponse},
		{http.StatusInternalServerError, cnerrors.ErrAPIResponse},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"message": "nope"}`)
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "e", "t", testLogger())

			_, err := c.GetPage(context.Background(), "1")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
