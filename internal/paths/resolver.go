// Package paths computes canonical local file paths for remote pages.
// A page with children becomes <slug>/index.md so its children nest as
// a subdirectory; a childless page becomes a sibling <slug>.md with no
// placeholder directory.
package paths

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/aaronshaf/cn/internal/mapping"
)

// ErrReserved is returned when a page's slug collides with a
// tool-convention filename. The page is skipped rather than silently
// renamed, which would break round-trip identity.
var ErrReserved = errors.New("slug collides with a reserved filename")

// maxSuffix bounds the collision suffix search. Hitting it means
// thousands of same-titled siblings, which is a data problem, not a
// naming problem.
const maxSuffix = 10_000

// IndexFileName names the file a page with children materializes as
// inside its own directory.
const IndexFileName = "index.md"

// reservedSlugs are bare slugs that can never be assigned. "index" is
// the convention file for pages with children; the rest collide with
// common repository files.
var reservedSlugs = map[string]struct{}{
	"index":  {},
	"readme": {},
	".git":   {},
}

// foldTransformer strips diacritics: decompose, drop combining marks,
// recompose.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify converts a page title into a filesystem-safe slug: diacritics
// folded, lowercased, runs of non-alphanumerics collapsed to single
// hyphens. An empty result (punctuation-only titles) becomes "untitled".
func Slugify(title string) string {
	folded, _, err := transform.String(foldTransformer, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder

	lastHyphen := true // suppress a leading hyphen

	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)

			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')

				lastHyphen = true
			}
		}
	}

	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "untitled"
	}

	return slug
}

// Entity is one page to assign a path for.
type Entity struct {
	ID          string
	Title       string
	ParentID    string
	HasChildren bool
}

// Warning reports a page that could not be assigned a path.
type Warning struct {
	ID    string
	Title string
	Err   error
}

func (w Warning) String() string {
	return fmt.Sprintf("page %s (%q): %v", w.ID, w.Title, w.Err)
}

// Resolver assigns collision-free paths. It is seeded with the already
// assigned paths from the mapping so new assignments never clobber
// existing ones, and assignments made during one run are visible to
// later calls in the same run.
type Resolver struct {
	taken    map[string]string // path -> id
	idToPath map[string]string // id -> path
}

// NewResolver seeds a resolver from the mapping's pages table. Both maps
// are copied; the resolver never mutates its inputs.
func NewResolver(pages map[string]string) *Resolver {
	r := &Resolver{
		taken:    make(map[string]string, len(pages)),
		idToPath: make(map[string]string, len(pages)),
	}

	for id, p := range pages {
		r.taken[p] = id
		r.idToPath[id] = p
	}

	return r
}

// PathOf returns the currently assigned path for an id.
func (r *Resolver) PathOf(id string) (string, bool) {
	p, ok := r.idToPath[id]
	return p, ok
}

// ChildDir returns the directory children of a page nest under, given
// the page's own path. An index file's children share its directory; a
// leaf page's children go into a directory named after its slug.
func ChildDir(pagePath string) string {
	if path.Base(pagePath) == IndexFileName {
		return path.Dir(pagePath)
	}

	return strings.TrimSuffix(pagePath, ".md")
}

// PathFor computes and records the path for a single page. parentDir is
// "" or "." for top-level pages. Collisions with a different id get the
// first free numeric suffix; the same id keeps its slot.
func (r *Resolver) PathFor(id, title, parentDir string, hasChildren bool) (string, error) {
	slug := Slugify(title)

	if _, reserved := reservedSlugs[slug]; reserved {
		return "", fmt.Errorf("%w: %q", ErrReserved, slug)
	}

	for n := 1; n <= maxSuffix; n++ {
		candidate := slug
		if n > 1 {
			candidate = fmt.Sprintf("%s-%d", slug, n)
		}

		p := pagePath(parentDir, candidate, hasChildren)
		if p == mapping.FileName {
			continue
		}

		owner, occupied := r.taken[p]
		if occupied && owner != id {
			continue
		}

		r.record(id, p)

		return p, nil
	}

	return "", fmt.Errorf("no free path for slug %q under %q", slug, parentDir)
}

// Claim records an assignment made outside the resolver, such as
// restoring an id's previous path after an aborted rename.
func (r *Resolver) Claim(id, p string) {
	r.record(id, p)
}

// Release forgets an id's current assignment so a rename can reassign
// it. The old path becomes available to other pages.
func (r *Resolver) Release(id string) {
	if p, ok := r.idToPath[id]; ok {
		delete(r.taken, p)
		delete(r.idToPath, id)
	}
}

func (r *Resolver) record(id, p string) {
	if prev, ok := r.idToPath[id]; ok && prev != p {
		delete(r.taken, prev)
	}

	r.taken[p] = id
	r.idToPath[id] = p
}

func pagePath(parentDir, slug string, hasChildren bool) string {
	if hasChildren {
		return path.Join(parentDir, slug, IndexFileName)
	}

	return path.Join(parentDir, slug+".md")
}

// AssignAll assigns paths for a batch of new pages. Parents are placed
// before children, and contenders for the same slug are ordered by id,
// so the resulting path set does not depend on the caller's slice order.
func (r *Resolver) AssignAll(entities []Entity) (map[string]string, []Warning) {
	ordered := make([]Entity, len(entities))
	copy(ordered, entities)

	inBatch := make(map[string]Entity, len(ordered))
	for _, e := range ordered {
		inBatch[e.ID] = e
	}

	depth := func(e Entity) int {
		d := 0
		for cur := e; ; {
			parent, ok := inBatch[cur.ParentID]
			if !ok || cur.ParentID == "" {
				return d
			}

			d++
			cur = parent

			if d > len(ordered) {
				// Parent cycle in the input; treat as top-level.
				return 0
			}
		}
	}

	sort.Slice(ordered, func(i, j int) bool {
		di, dj := depth(ordered[i]), depth(ordered[j])
		if di != dj {
			return di < dj
		}

		return ordered[i].ID < ordered[j].ID
	})

	assigned := make(map[string]string, len(ordered))

	var warnings []Warning

	for _, e := range ordered {
		parentDir := ""

		if e.ParentID != "" {
			if parentPath, ok := r.idToPath[e.ParentID]; ok {
				parentDir = ChildDir(parentPath)
			}
		}

		p, err := r.PathFor(e.ID, e.Title, parentDir, e.HasChildren)
		if err != nil {
			warnings = append(warnings, Warning{ID: e.ID, Title: e.Title, Err: err})
			continue
		}

		assigned[e.ID] = p
	}

	return assigned, warnings
}
