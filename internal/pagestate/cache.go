// Package pagestate builds the in-memory view of all tracked pages from
// the mapping index plus each file's frontmatter. The cache is derived
// state: built fresh per operation, never persisted, never mutated once
// built. The second link-resolution pass rebuilds it instead of patching.
package pagestate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aaronshaf/cn/internal/metadata"
)

// Warning causes reported by Build. Warnings exclude the entry from the
// cache (except id-mismatch, see below) but never fail the whole build.
const (
	CauseNotFound   = "not-found"
	CauseParse      = "parse-failure"
	CauseIDMismatch = "id-mismatch"
	CauseTraversal  = "path-traversal"
)

// Warning describes one mapped entry that could not be loaded cleanly.
type Warning struct {
	ID    string
	Path  string
	Cause string
	Err   error
}

func (w Warning) String() string {
	if w.Err != nil {
		return fmt.Sprintf("page %s (%s): %s: %v", w.ID, w.Path, w.Cause, w.Err)
	}

	return fmt.Sprintf("page %s (%s): %s", w.ID, w.Path, w.Cause)
}

// PageInfo is the cached view of one tracked page.
type PageInfo struct {
	Path      string
	Title     string
	Version   int
	UpdatedAt string
	SyncedAt  string

	// IDMismatch is set when the file's embedded id disagrees with the
	// mapping key. The entry is registered under the mapping key (the
	// index is trusted over the file) but flagged for the caller.
	IDMismatch bool
}

// Cache holds the per-operation page state view and its inverse.
type Cache struct {
	Pages    map[string]PageInfo
	PathToID map[string]string
}

// Version returns the cached local version for an id, or 0 when the id
// is not in the cache.
func (c *Cache) Version(id string) int {
	if c == nil {
		return 0
	}

	return c.Pages[id].Version
}

// TitleLookup returns a case-insensitive title-to-path map for link
// resolution. When two pages share a title, the lexically smaller path
// wins so the result is deterministic.
func (c *Cache) TitleLookup() map[string]string {
	lookup := make(map[string]string, len(c.Pages))

	ids := make([]string, 0, len(c.Pages))
	for id := range c.Pages {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	for _, id := range ids {
		info := c.Pages[id]
		if info.Title == "" {
			continue
		}

		key := NormalizeTitle(info.Title)
		if existing, ok := lookup[key]; !ok || info.Path < existing {
			lookup[key] = info.Path
		}
	}

	return lookup
}

// NormalizeTitle is the canonical form used for title-based link lookup.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// Build scans every mapped file's frontmatter and assembles the cache.
// Entries that cannot be loaded generate one warning per cause and are
// excluded; an id-mismatch is included under the mapping key but flagged.
// Build performs no writes.
func Build(root string, pages map[string]string) (*Cache, []Warning) {
	cache := &Cache{
		Pages:    make(map[string]PageInfo, len(pages)),
		PathToID: make(map[string]string, len(pages)),
	}

	var warnings []Warning

	// Deterministic scan order keeps warning output stable across runs.
	ids := make([]string, 0, len(pages))
	for id := range pages {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	for _, id := range ids {
		rel := pages[id]

		if !filepath.IsLocal(filepath.FromSlash(rel)) {
			warnings = append(warnings, Warning{ID: id, Path: rel, Cause: CauseTraversal})
			continue
		}

		content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			warnings = append(warnings, Warning{ID: id, Path: rel, Cause: CauseNotFound, Err: err})
			continue
		}

		block, _, err := metadata.Parse(content)
		if err != nil {
			warnings = append(warnings, Warning{ID: id, Path: rel, Cause: CauseParse, Err: err})
			continue
		}

		info := PageInfo{
			Path:      rel,
			Title:     block.Title,
			Version:   block.Version,
			UpdatedAt: block.UpdatedAt,
			SyncedAt:  block.SyncedAt,
		}

		if block.ID != id {
			info.IDMismatch = true

			warnings = append(warnings, Warning{
				ID:    id,
				Path:  rel,
				Cause: CauseIDMismatch,
				Err:   fmt.Errorf("file declares id %q", block.ID),
			})
		}

		cache.Pages[id] = info
		cache.PathToID[rel] = id
	}

	return cache, warnings
}
