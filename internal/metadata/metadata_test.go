package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cnerrors "github.com/aaronshaf/cn/internal/errors"
)

func TestParse(t *testing.T) {
	content := []byte(`---
id: "12345"
title: Release Notes
version: 4
parentId: "99"
updatedAt: "2025-06-01T10:00:00Z"
syncedAt: "2025-06-01T10:05:00Z"
labels:
  - docs
  - release
---
# Release Notes

Body text.
`)

	b, body, err := Parse(content)
	require.NoError(t, err)

	assert.Equal(t, "12345", b.ID)
	assert.Equal(t, "Release Notes", b.Title)
	assert.Equal(t, 4, b.Version)
	assert.Equal(t, "99", b.ParentID)
	assert.Equal(t, "2025-06-01T10:00:00Z", b.UpdatedAt)
	assert.Equal(t, "2025-06-01T10:05:00Z", b.SyncedAt)
	assert.Contains(t, b.Extra, "labels")
	assert.Equal(t, "# Release Notes\n\nBody text.\n", string(body))
}

func TestParseDefaults(t *testing.T) {
	content := []byte("---\nid: \"7\"\n---\nbody\n")

	b, body, err := Parse(content)
	require.NoError(t, err)

	assert.Equal(t, "", b.Title)
	assert.Equal(t, 1, b.Version)
	assert.Empty(t, b.UpdatedAt)
	assert.Empty(t, b.SyncedAt)
	assert.Equal(t, "body\n", string(body))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "no frontmatter", content: "# Just markdown\n"},
		{name: "unterminated", content: "---\nid: \"1\"\n"},
		{name: "missing id", content: "---\ntitle: T\n---\nbody\n"},
		{name: "bad yaml", content: "---\nid: [unclosed\n---\nbody\n"},
		{name: "non-integer version", content: "---\nid: \"1\"\nversion: often\n---\nbody\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse([]byte(tt.content))
			assert.ErrorIs(t, err, cnerrors.ErrParse)
		})
	}
}

func TestRenderRoundTrip(t *testing.T) {
	b := &Block{
		ID:       "42",
		Title:    "Page: with punctuation",
		Version:  7,
		ParentID: "1",
		SyncedAt: "2025-06-02T00:00:00Z",
		Extra:    map[string]any{"author": "jdoe", "labels": []any{"a"}},
	}
	body := []byte("content line\n")

	out := Render(b, body)

	parsed, gotBody, err := Parse(out)
	require.NoError(t, err)

	assert.Equal(t, b.ID, parsed.ID)
	assert.Equal(t, b.Title, parsed.Title)
	assert.Equal(t, b.Version, parsed.Version)
	assert.Equal(t, b.ParentID, parsed.ParentID)
	assert.Equal(t, b.SyncedAt, parsed.SyncedAt)
	assert.Equal(t, "jdoe", parsed.Extra["author"])
	assert.Equal(t, string(body), string(gotBody))
}

func TestRenderDeterministic(t *testing.T) {
	b := &Block{
		ID:      "1",
		Title:   "T",
		Version: 2,
		Extra:   map[string]any{"zeta": 1, "alpha": 2, "mid": 3},
	}

	first := Render(b, []byte("x\n"))

	for range 10 {
		assert.Equal(t, string(first), string(Render(b, []byte("x\n"))))
	}
}

func TestRenderPreservesBodyExactly(t *testing.T) {
	body := []byte("line1\r\n\nline3 with --- dashes\n")

	b := &Block{ID: "9", Title: "t", Version: 1}

	_, gotBody, err := Parse(Render(b, body))
	require.NoError(t, err)
	assert.Equal(t, body, gotBody)
}
