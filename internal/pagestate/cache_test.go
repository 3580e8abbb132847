package pagestate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePage(t *testing.T, root, rel, frontmatter string) {
	t.Helper()

	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("---\n"+frontmatter+"---\nbody\n"), 0o644))
}

func TestBuild(t *testing.T) {
	root := t.TempDir()

	writePage(t, root, "home.md", "id: \"1\"\ntitle: Home\nversion: 3\nsyncedAt: \"2025-01-01T00:00:00Z\"\n")
	writePage(t, root, "docs/index.md", "id: \"2\"\ntitle: Docs\nversion: 1\n")

	cache, warnings := Build(root, map[string]string{
		"1": "home.md",
		"2": "docs/index.md",
	})

	assert.Empty(t, warnings)
	require.Len(t, cache.Pages, 2)

	home := cache.Pages["1"]
	assert.Equal(t, "home.md", home.Path)
	assert.Equal(t, "Home", home.Title)
	assert.Equal(t, 3, home.Version)
	assert.Equal(t, "2025-01-01T00:00:00Z", home.SyncedAt)

	assert.Equal(t, "1", cache.PathToID["home.md"])
	assert.Equal(t, "2", cache.PathToID["docs/index.md"])
}

func TestBuildWarningCauses(t *testing.T) {
	root := t.TempDir()

	writePage(t, root, "ok.md", "id: \"1\"\ntitle: OK\nversion: 1\n")
	writePage(t, root, "wrong-id.md", "id: \"999\"\ntitle: Wrong\nversion: 2\n")
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.md"), []byte("no frontmatter"), 0o644))

	cache, warnings := Build(root, map[string]string{
		"1": "ok.md",
		"2": "wrong-id.md",
		"3": "broken.md",
		"4": "missing.md",
		"5": "../escape.md",
	})

	causes := map[string]string{}
	for _, w := range warnings {
		causes[w.ID] = w.Cause
	}

	assert.Equal(t, map[string]string{
		"2": CauseIDMismatch,
		"3": CauseParse,
		"4": CauseNotFound,
		"5": CauseTraversal,
	}, causes)

	// Clean entry plus the flagged mismatch entry.
	require.Len(t, cache.Pages, 2)
	assert.False(t, cache.Pages["1"].IDMismatch)

	// The mismatch registers under the mapping key, trusting the index.
	mismatch, ok := cache.Pages["2"]
	require.True(t, ok)
	assert.True(t, mismatch.IDMismatch)
	assert.Equal(t, 2, mismatch.Version)
	assert.Equal(t, "2", cache.PathToID["wrong-id.md"])
}

func TestBuildReadOnly(t *testing.T) {
	root := t.TempDir()
	writePage(t, root, "a.md", "id: \"1\"\ntitle: A\nversion: 1\n")

	before, err := os.ReadFile(filepath.Join(root, "a.md"))
	require.NoError(t, err)

	Build(root, map[string]string{"1": "a.md", "2": "gone.md"})

	after, err := os.ReadFile(filepath.Join(root, "a.md"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestTitleLookup(t *testing.T) {
	cache := &Cache{Pages: map[string]PageInfo{
		"1": {Path: "b/page.md", Title: "Shared Title"},
		"2": {Path: "a/page.md", Title: "Shared Title"},
		"3": {Path: "other.md", Title: "Other"},
		"4": {Path: "untitled.md", Title: ""},
	}}

	lookup := cache.TitleLookup()

	assert.Equal(t, "a/page.md", lookup["shared title"])
	assert.Equal(t, "other.md", lookup["other"])
	assert.NotContains(t, lookup, "")
	assert.Len(t, lookup, 2)
}

func TestVersionNilCache(t *testing.T) {
	var c *Cache
	assert.Equal(t, 0, c.Version("1"))
}
