package sync

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	cnerrors "github.com/aaronshaf/cn/internal/errors"
	"github.com/aaronshaf/cn/internal/links"
)

// RenameResult reports what a cascade did.
type RenameResult struct {
	// Moved is false when the rename was a no-op or was aborted.
	Moved bool

	// RewrittenFiles counts referencing documents whose links were
	// updated to the new path.
	RewrittenFiles int

	// Warnings lists referencing documents that could not be rewritten.
	// The rename itself stands; broken links are recoverable by the
	// second link-resolution pass, a half-renamed file is not.
	Warnings []string
}

// renameCascade moves a tracked file from oldPath to newPath and then
// rewrites every tracked document that linked to the old path. The scan
// covers the whole tree, not a subtree: any document anywhere may
// reference the renamed page.
//
// The move is an atomic replace: content is written to a temporary file
// beside the destination and swapped in before the old copy is removed,
// so a crash mid-operation never leaves zero copies.
//
// tracked maps every tracked relative path to its page id; it is used
// both to detect that the destination belongs to a different page
// (ErrPathCollision, rename aborted) and to enumerate the documents to
// scan for references.
func renameCascade(root, id, oldPath, newPath string, tracked map[string]string) (*RenameResult, error) {
	result := &RenameResult{}

	if oldPath == newPath {
		return result, nil
	}

	if owner, occupied := tracked[newPath]; occupied && owner != id {
		return result, fmt.Errorf("%w: %s is tracked as page %s", cnerrors.ErrPathCollision, newPath, owner)
	}

	absOld := filepath.Join(root, filepath.FromSlash(oldPath))
	absNew := filepath.Join(root, filepath.FromSlash(newPath))

	content, err := os.ReadFile(absOld)
	if err != nil {
		return result, fmt.Errorf("reading %s: %w", oldPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(absNew), 0o755); err != nil {
		return result, fmt.Errorf("creating %s: %w", filepath.Dir(newPath), err)
	}

	if err := writeFileAtomic(absNew, content); err != nil {
		return result, fmt.Errorf("writing %s: %w", newPath, err)
	}

	if err := os.Remove(absOld); err != nil {
		// Both copies exist at this point; the duplicate is reported,
		// not fatal.
		result.Warnings = append(result.Warnings, fmt.Sprintf("removing old copy %s: %v", oldPath, err))
	}

	removeEmptyParents(root, oldPath)

	result.Moved = true

	rewritten, warnings := rewriteReferences(root, id, oldPath, newPath, tracked)
	result.RewrittenFiles = rewritten
	result.Warnings = append(result.Warnings, warnings...)

	return result, nil
}

// rewriteReferences scans every tracked document for relative links to
// oldPath and points them at newPath. Failures are per-file warnings.
func rewriteReferences(root, renamedID, oldPath, newPath string, tracked map[string]string) (int, []string) {
	var (
		rewritten int
		warnings  []string
	)

	docs := make([]string, 0, len(tracked))

	for rel, id := range tracked {
		if id == renamedID {
			continue
		}

		if !filepath.IsLocal(filepath.FromSlash(rel)) {
			warnings = append(warnings, fmt.Sprintf("%s: path escapes sync root, skipped", rel))
			continue
		}

		docs = append(docs, rel)
	}

	sort.Strings(docs)

	for _, rel := range docs {
		fromDir := path.Dir(rel)

		oldRel := links.Relative(fromDir, oldPath)
		newRel := links.Relative(fromDir, newPath)

		needle := []byte("(" + oldRel + ")")

		abs := filepath.Join(root, filepath.FromSlash(rel))

		content, err := os.ReadFile(abs)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("scanning %s: %v", rel, err))
			continue
		}

		if !bytes.Contains(content, needle) {
			continue
		}

		updated := bytes.ReplaceAll(content, needle, []byte("("+newRel+")"))

		if err := writeFileAtomic(abs, updated); err != nil {
			warnings = append(warnings, fmt.Sprintf("rewriting links in %s: %v", rel, err))
			continue
		}

		rewritten++
	}

	return rewritten, warnings
}

// writeFileAtomic writes content to a temporary file in the target's
// directory and renames it over the destination.
func writeFileAtomic(abs string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".cn-write-*")
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

// removeEmptyParents prunes directories left empty after a move, up to
// but excluding the sync root.
func removeEmptyParents(root, rel string) {
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		abs := filepath.Join(root, filepath.FromSlash(dir))

		entries, err := os.ReadDir(abs)
		if err != nil || len(entries) > 0 {
			return
		}

		if err := os.Remove(abs); err != nil {
			return
		}
	}
}
