// Package sync holds the reconciliation engine: the diff computation,
// the per-page pull/push paths, conflict classification, and the rename
// cascade. Decision logic is kept pure and side-effect free; the Engine
// performs the I/O the decisions call for.
package sync

import (
	"sort"

	"github.com/aaronshaf/cn/internal/mapping"
	"github.com/aaronshaf/cn/internal/pagestate"
	"github.com/aaronshaf/cn/internal/remote"
)

// Change identifies one page in a diff list. Path is set for modified
// and deleted entries (the tracked location); added entries have no
// path until the resolver assigns one.
type Change struct {
	ID    string
	Title string
	Path  string
}

// Diff is the outcome of comparing a remote snapshot against local
// state: three disjoint lists, consumed exactly once per run.
type Diff struct {
	Added    []Change
	Modified []Change
	Deleted  []Change
}

// Empty reports whether the diff calls for no work.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

// ComputeDiff compares a remote snapshot against the mapping and the
// page state cache. Only pages with status "current" count as present
// remotely; a mapped page that is archived or trashed is deleted, never
// modified, regardless of versions. A mapped page is modified iff the
// remote version is strictly greater than the cached local version.
//
// cache may be nil as an internal fallback for callers that cannot
// observe local versions; every mapped page then compares against
// version 0 and comes back as modified, an unconditional refresh. The
// cache-bearing call is the semantics external callers should rely on.
//
// ComputeDiff reads nothing and writes nothing; the same three inputs
// always produce the same diff.
func ComputeDiff(snapshot []remote.Page, m *mapping.Mapping, cache *pagestate.Cache) Diff {
	current := make(map[string]remote.Page, len(snapshot))

	for _, p := range snapshot {
		if p.Current() {
			current[p.ID] = p
		}
	}

	var d Diff

	for id, p := range current {
		path, tracked := m.Pages[id]
		if !tracked {
			d.Added = append(d.Added, Change{ID: id, Title: p.Title})
			continue
		}

		if p.Version > cache.Version(id) {
			d.Modified = append(d.Modified, Change{ID: id, Title: p.Title, Path: path})
		}
	}

	for id, path := range m.Pages {
		if _, present := current[id]; !present {
			title := ""
			if cache != nil {
				title = cache.Pages[id].Title
			}

			d.Deleted = append(d.Deleted, Change{ID: id, Title: title, Path: path})
		}
	}

	sortChanges(d.Added)
	sortChanges(d.Modified)
	sortChanges(d.Deleted)

	return d
}

func sortChanges(changes []Change) {
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].ID < changes[j].ID
	})
}
