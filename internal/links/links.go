// Package links converts between remote page links and local relative
// markdown links. Resolution runs in two passes: per-document during
// conversion against the pre-run page state, then once over the whole
// tree against the post-sync state to catch forward references.
package links

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/aaronshaf/cn/internal/mapping"
	"github.com/aaronshaf/cn/internal/pagestate"
)

// Scheme marks a link whose target could not be resolved to a local
// path yet. The marker keeps the remote representation (the target's
// title) so a later pass can retry resolution.
const Scheme = "confluence://"

// markerRe matches an unresolved-link marker: a markdown link whose
// target is the confluence scheme followed by the URL-escaped title.
var markerRe = regexp.MustCompile(`\[([^\]]*)\]\(confluence://([^)\s]+)\)`)

// Lookup maps normalized page titles to sync-root-relative paths.
type Lookup map[string]string

// NewLookup builds a title lookup from a page state cache.
func NewLookup(cache *pagestate.Cache) Lookup {
	if cache == nil {
		return Lookup{}
	}

	return Lookup(cache.TitleLookup())
}

// Marker renders the unresolved form of a link to the given title.
func Marker(text, title string) string {
	return fmt.Sprintf("[%s](%s%s)", text, Scheme, url.PathEscape(title))
}

// Resolve translates a target title into a link relative to the
// directory of the referencing document. The second return is false
// when the title is unknown.
func (l Lookup) Resolve(title, fromDir string) (string, bool) {
	target, ok := l[pagestate.NormalizeTitle(title)]
	if !ok {
		return "", false
	}

	return Relative(fromDir, target), true
}

// Relative computes the relative link from a document directory to a
// root-relative target path, in slash form.
func Relative(fromDir, target string) string {
	if fromDir == "" || fromDir == "." {
		return path.Clean(target)
	}

	rel, err := filepath.Rel(filepath.FromSlash(fromDir), filepath.FromSlash(target))
	if err != nil {
		return target
	}

	return filepath.ToSlash(rel)
}

// SecondPassResult reports what one second-pass run did.
type SecondPassResult struct {
	// FilesRewritten counts documents that had at least one marker
	// resolved and were written back.
	FilesRewritten int

	// Resolved counts individual markers rewritten.
	Resolved int

	// Warnings lists per-file oddities (unreadable file, failed write).
	Warnings []string
}

// SecondPass scans every tracked document for unresolved-link markers
// and retries resolution against the post-sync page state. Only files
// actually containing a marker are re-opened for writing, so the I/O
// cost scales with the number of dangling links. Markers whose target
// still cannot be resolved are left in place; with no intervening
// changes a repeated run resolves nothing and writes nothing.
func SecondPass(root string, m *mapping.Mapping) (*SecondPassResult, error) {
	cache, _ := pagestate.Build(root, m.Pages)
	lookup := NewLookup(cache)

	result := &SecondPassResult{}

	for _, rel := range sortedPaths(m.Pages) {
		// Mapping files are user-editable; a path escaping the root
		// must never be read or rewritten.
		if !filepath.IsLocal(filepath.FromSlash(rel)) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: path escapes sync root, skipped", rel))
			continue
		}

		abs := filepath.Join(root, filepath.FromSlash(rel))

		content, err := os.ReadFile(abs)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", rel, err))
			continue
		}

		if !bytes.Contains(content, []byte(Scheme)) {
			continue
		}

		resolved := 0

		fromDir := path.Dir(rel)

		rewritten := markerRe.ReplaceAllFunc(content, func(match []byte) []byte {
			sub := markerRe.FindSubmatch(match)

			text := string(sub[1])

			title, err := url.PathUnescape(string(sub[2]))
			if err != nil {
				return match
			}

			target, ok := lookup.Resolve(title, fromDir)
			if !ok {
				// The target genuinely does not exist locally
				// (cross-space or deleted). Leave the marker.
				return match
			}

			resolved++

			return fmt.Appendf(nil, "[%s](%s)", text, target)
		})

		if resolved == 0 {
			continue
		}

		if err := writeAtomic(abs, rewritten); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", rel, err))
			continue
		}

		result.FilesRewritten++
		result.Resolved += resolved
	}

	return result, nil
}

// writeAtomic replaces a file via temp-then-rename so a crash never
// leaves a truncated document.
func writeAtomic(abs string, content []byte) error {
	dir := filepath.Dir(abs)

	tmp, err := os.CreateTemp(dir, ".cn-link-*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, abs)
}

func sortedPaths(pages map[string]string) []string {
	out := make([]string, 0, len(pages))
	for _, p := range pages {
		out = append(out, p)
	}

	// Stable order for deterministic warning output.
	sort.Strings(out)

	return out
}
