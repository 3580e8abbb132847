package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronshaf/cn/internal/mapping"
	"github.com/aaronshaf/cn/internal/pagestate"
	"github.com/aaronshaf/cn/internal/remote"
)

func currentPage(id, title string, version int) remote.Page {
	return remote.Page{ID: id, Title: title, Version: version, Status: remote.StatusCurrent}
}

func mappingWith(pages map[string]string) *mapping.Mapping {
	m := mapping.New("s1", "KEY", "Space")
	for id, p := range pages {
		m.Pages[id] = p
	}

	return m
}

func cacheWith(pages map[string]pagestate.PageInfo) *pagestate.Cache {
	c := &pagestate.Cache{
		Pages:    pages,
		PathToID: make(map[string]string, len(pages)),
	}

	for id, info := range pages {
		c.PathToID[info.Path] = id
	}

	return c
}

func ids(changes []Change) []string {
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.ID)
	}

	return out
}

func TestDiffEmptyMappingAllAdded(t *testing.T) {
	// Scenario A: remote has two pages, nothing mapped.
	snapshot := []remote.Page{
		currentPage("P1", "One", 1),
		currentPage("P2", "Two", 1),
	}

	d := ComputeDiff(snapshot, mappingWith(nil), cacheWith(nil))

	assert.Equal(t, []string{"P1", "P2"}, ids(d.Added))
	assert.Empty(t, d.Modified)
	assert.Empty(t, d.Deleted)
}

func TestDiffVersionAheadIsModified(t *testing.T) {
	// Scenario B: remote v3, local cache v1.
	snapshot := []remote.Page{currentPage("P1", "One", 3)}
	m := mappingWith(map[string]string{"P1": "one.md"})
	cache := cacheWith(map[string]pagestate.PageInfo{
		"P1": {Path: "one.md", Title: "One", Version: 1},
	})

	d := ComputeDiff(snapshot, m, cache)

	require.Len(t, d.Modified, 1)
	assert.Equal(t, "P1", d.Modified[0].ID)
	assert.Equal(t, "one.md", d.Modified[0].Path)
	assert.Empty(t, d.Added)
	assert.Empty(t, d.Deleted)
}

func TestDiffEqualVersionOmitted(t *testing.T) {
	snapshot := []remote.Page{currentPage("P1", "One", 2)}
	m := mappingWith(map[string]string{"P1": "one.md"})
	cache := cacheWith(map[string]pagestate.PageInfo{
		"P1": {Path: "one.md", Title: "One", Version: 2},
	})

	d := ComputeDiff(snapshot, m, cache)

	assert.True(t, d.Empty())
}

func TestDiffArchivedMappedIsDeleted(t *testing.T) {
	// Scenario C: archival wins over any version comparison.
	snapshot := []remote.Page{
		{ID: "P1", Title: "One", Version: 99, Status: remote.StatusArchived},
	}
	m := mappingWith(map[string]string{"P1": "one.md"})
	cache := cacheWith(map[string]pagestate.PageInfo{
		"P1": {Path: "one.md", Title: "One", Version: 1},
	})

	d := ComputeDiff(snapshot, m, cache)

	assert.Empty(t, d.Added)
	assert.Empty(t, d.Modified)
	require.Len(t, d.Deleted, 1)
	assert.Equal(t, "P1", d.Deleted[0].ID)
	assert.Equal(t, "one.md", d.Deleted[0].Path)
}

func TestDiffNonCurrentUnmappedNeverAdded(t *testing.T) {
	for _, status := range []string{remote.StatusArchived, remote.StatusTrashed, remote.StatusDraft} {
		snapshot := []remote.Page{{ID: "P1", Title: "One", Version: 1, Status: status}}

		d := ComputeDiff(snapshot, mappingWith(nil), cacheWith(nil))

		assert.True(t, d.Empty(), status)
	}
}

func TestDiffMissingRemoteIsDeleted(t *testing.T) {
	m := mappingWith(map[string]string{"GONE": "gone.md"})
	cache := cacheWith(map[string]pagestate.PageInfo{
		"GONE": {Path: "gone.md", Title: "Gone", Version: 1},
	})

	d := ComputeDiff(nil, m, cache)

	require.Len(t, d.Deleted, 1)
	assert.Equal(t, "Gone", d.Deleted[0].Title)
}

func TestDiffNilCacheRefreshesAllMapped(t *testing.T) {
	// Without a cache, mapped versions cannot be confirmed; every
	// mapped page compares against version 0 and comes back modified.
	snapshot := []remote.Page{
		currentPage("P1", "One", 1),
		currentPage("P2", "Two", 5),
	}
	m := mappingWith(map[string]string{"P1": "one.md", "P2": "two.md"})

	d := ComputeDiff(snapshot, m, nil)

	assert.Equal(t, []string{"P1", "P2"}, ids(d.Modified))
	assert.Empty(t, d.Added)
	assert.Empty(t, d.Deleted)
}

func TestDiffIdempotent(t *testing.T) {
	snapshot := []remote.Page{
		currentPage("P1", "One", 2),
		currentPage("P2", "Two", 4),
	}
	m := mappingWith(map[string]string{"P1": "one.md", "P2": "two.md"})
	cache := cacheWith(map[string]pagestate.PageInfo{
		"P1": {Path: "one.md", Title: "One", Version: 2},
		"P2": {Path: "two.md", Title: "Two", Version: 4},
	})

	first := ComputeDiff(snapshot, m, cache)
	second := ComputeDiff(snapshot, m, cache)

	assert.True(t, first.Empty())
	assert.Equal(t, first, second)
}
