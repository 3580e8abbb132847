// Package dupes finds local files that carry the same remote page id.
// At steady state exactly one file exists per id; duplicates appear
// after interrupted renames or manual copies. The detector only ranks;
// it never deletes.
package dupes

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aaronshaf/cn/internal/metadata"
)

// scanParallelism bounds concurrent frontmatter reads. The scan is
// read-only and runs outside the sequential sync loop.
const scanParallelism = 8

// File is one scanned markdown file's identifying metadata.
type File struct {
	Path     string
	ID       string
	Version  int
	SyncedAt string
}

// Set is one group of files sharing an id.
type Set struct {
	ID string

	// Keeper is the file to keep, nil when Undecided.
	Keeper *File

	// Stale are the files recommended for deletion, best first.
	Stale []File

	// Undecided is set when no deterministic keeper exists (equal
	// versions and no usable syncedAt ordering). The caller must be
	// told rather than the detector guessing.
	Undecided bool
}

// Scan walks every markdown file under root, groups them by embedded
// id, and ranks each group with more than one member. Files without a
// parseable frontmatter block are skipped silently: untracked notes
// are legitimate.
func Scan(ctx context.Context, root string) ([]Set, error) {
	var paths []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		name := d.Name()

		if d.IsDir() {
			if strings.HasPrefix(name, ".") && p != root {
				return filepath.SkipDir
			}

			return nil
		}

		if strings.HasSuffix(name, ".md") {
			paths = append(paths, p)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		files []File
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(scanParallelism)

	for _, p := range paths {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			content, err := os.ReadFile(p)
			if err != nil {
				return nil //nolint:nilerr // unreadable file is not a scan failure
			}

			block, _, err := metadata.Parse(content)
			if err != nil {
				return nil //nolint:nilerr // untracked markdown is legitimate
			}

			rel, err := filepath.Rel(root, p)
			if err != nil {
				rel = p
			}

			mu.Lock()
			files = append(files, File{
				Path:     filepath.ToSlash(rel),
				ID:       block.ID,
				Version:  block.Version,
				SyncedAt: block.SyncedAt,
			})
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string][]File)
	for _, f := range files {
		byID[f.ID] = append(byID[f.ID], f)
	}

	var sets []Set

	for id, group := range byID {
		if len(group) < 2 {
			continue
		}

		sets = append(sets, rank(id, group))
	}

	sort.Slice(sets, func(i, j int) bool {
		return sets[i].ID < sets[j].ID
	})

	return sets, nil
}

// rank orders a duplicate group: higher version wins, then more recent
// syncedAt. RFC 3339 timestamps compare correctly as strings. A tie at
// the top with no usable tiebreaker leaves the set undecided.
func rank(id string, group []File) Set {
	sort.Slice(group, func(i, j int) bool {
		if group[i].Version != group[j].Version {
			return group[i].Version > group[j].Version
		}

		if group[i].SyncedAt != group[j].SyncedAt {
			return group[i].SyncedAt > group[j].SyncedAt
		}

		return group[i].Path < group[j].Path
	})

	set := Set{ID: id}

	top, second := group[0], group[1]
	if top.Version == second.Version && top.SyncedAt == second.SyncedAt {
		set.Undecided = true
		set.Stale = group

		return set
	}

	set.Keeper = &group[0]
	set.Stale = group[1:]

	return set
}
