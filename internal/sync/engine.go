package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aaronshaf/cn/internal/convert"
	cnerrors "github.com/aaronshaf/cn/internal/errors"
	"github.com/aaronshaf/cn/internal/links"
	"github.com/aaronshaf/cn/internal/mapping"
	"github.com/aaronshaf/cn/internal/metadata"
	"github.com/aaronshaf/cn/internal/pagestate"
	"github.com/aaronshaf/cn/internal/paths"
	"github.com/aaronshaf/cn/internal/remote"
)

// Outcome is the distinguishable result class of a run, used by the
// CLI layer for exit signaling.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeSuccessWithWarnings
	OutcomePartialFailure
	OutcomeFullFailure
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeSuccessWithWarnings:
		return "success-with-warnings"
	case OutcomePartialFailure:
		return "partial-failure"
	case OutcomeFullFailure:
		return "full-failure"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// EntityError records one page that failed outright during a run.
type EntityError struct {
	ID    string
	Title string
	Err   error
}

func (e EntityError) String() string {
	return fmt.Sprintf("page %s (%q): %v", e.ID, e.Title, e.Err)
}

// RunResult is what one sync run reports: counts of applied changes, a
// warnings list (recoverable oddities), and an errors list (pages that
// failed outright). Success is independent of the warning count.
type RunResult struct {
	Added    int
	Modified int
	Deleted  int

	Warnings []string
	Errors   []EntityError

	Cancelled bool
}

// Outcome classifies the run for exit signaling. Structural failures
// never produce a RunResult; callers map those to OutcomeFullFailure.
func (r *RunResult) Outcome() Outcome {
	switch {
	case r.Cancelled:
		return OutcomeCancelled
	case len(r.Errors) > 0:
		return OutcomePartialFailure
	case len(r.Warnings) > 0:
		return OutcomeSuccessWithWarnings
	default:
		return OutcomeSuccess
	}
}

// Options tune engine behavior.
type Options struct {
	// Force lets a push override a version conflict.
	Force bool

	// SpaceKey initializes the mapping when the sync directory has
	// none yet. Ignored once a mapping exists.
	SpaceKey string
}

// Engine drives reconciliation for one sync directory. Pages are
// processed strictly one at a time: a child's path depends on its
// parent's being known, and collision suffixes depend on earlier
// assignments in the same run.
type Engine struct {
	root   string
	client remote.API
	conv   convert.Converter
	logger *slog.Logger
	opts   Options
}

// NewEngine creates an engine rooted at dir.
func NewEngine(dir string, client remote.API, conv convert.Converter, logger *slog.Logger, opts Options) *Engine {
	return &Engine{
		root:   dir,
		client: client,
		conv:   conv,
		logger: logger,
		opts:   opts,
	}
}

// Pull mirrors the remote space into the local tree. A non-nil error is
// structural (no diff could be established) and means nothing was
// applied; per-page failures are collected in the result instead.
func (e *Engine) Pull(ctx context.Context) (*RunResult, error) {
	m, err := e.loadOrInitMapping(ctx)
	if err != nil {
		return nil, err
	}

	snapshot, err := e.client.ListPages(ctx, m.SpaceKey)
	if err != nil {
		return nil, fmt.Errorf("establishing remote snapshot: %w", err)
	}

	res := &RunResult{}

	cache, cacheWarnings := pagestate.Build(e.root, m.Pages)
	for _, w := range cacheWarnings {
		res.Warnings = append(res.Warnings, w.String())
	}

	diff := ComputeDiff(snapshot, m, cache)

	e.logger.Info("diff computed",
		slog.Int("added", len(diff.Added)),
		slog.Int("modified", len(diff.Modified)),
		slog.Int("deleted", len(diff.Deleted)),
	)

	// Link resolution's first pass works from the pre-run state; the
	// second pass below sees the post-run state.
	lookup := links.NewLookup(cache)

	byID := make(map[string]remote.Page, len(snapshot))
	childCount := make(map[string]int)

	for _, p := range snapshot {
		if !p.Current() {
			continue
		}

		byID[p.ID] = p

		if p.ParentID != "" {
			childCount[p.ParentID]++
		}
	}

	resolver := paths.NewResolver(m.Pages)

	entities := make([]paths.Entity, 0, len(diff.Added))
	for _, ch := range diff.Added {
		p := byID[ch.ID]

		entities = append(entities, paths.Entity{
			ID:          p.ID,
			Title:       p.Title,
			ParentID:    p.ParentID,
			HasChildren: childCount[p.ID] > 0,
		})
	}

	assigned, pathWarnings := resolver.AssignAll(entities)
	for _, w := range pathWarnings {
		res.Warnings = append(res.Warnings, w.String())
	}

	for _, ch := range diff.Added {
		if ctx.Err() != nil {
			res.Cancelled = true
			return res, nil
		}

		rel, ok := assigned[ch.ID]
		if !ok {
			// Reserved-name skip, already reported as a warning.
			continue
		}

		wrote, err := e.pullPage(ctx, m, ch.ID, rel, lookup, nil, res)
		if err != nil {
			res.Errors = append(res.Errors, EntityError{ID: ch.ID, Title: ch.Title, Err: err})
			continue
		}

		if wrote {
			res.Added++
		}
	}

	for _, ch := range diff.Modified {
		if ctx.Err() != nil {
			res.Cancelled = true
			return res, nil
		}

		prev := cache.Pages[ch.ID]

		wrote, err := e.pullPage(ctx, m, ch.ID, ch.Path, lookup, &prev, res)
		if err != nil {
			res.Errors = append(res.Errors, EntityError{ID: ch.ID, Title: ch.Title, Err: err})
			continue
		}

		if !wrote {
			continue
		}

		res.Modified++

		// A title change implies a path change; cascade after the
		// write so a crash cannot lose the new content.
		page := byID[ch.ID]
		if prev.Title != "" && prev.Title != page.Title {
			e.cascadeRename(m, resolver, page, childCount[page.ID] > 0, res)
		}
	}

	for _, ch := range diff.Deleted {
		if ctx.Err() != nil {
			res.Cancelled = true
			return res, nil
		}

		if err := e.deletePage(m, ch); err != nil {
			res.Errors = append(res.Errors, EntityError{ID: ch.ID, Title: ch.Title, Err: err})
			continue
		}

		res.Deleted++
	}

	if res.Added+res.Modified > 0 {
		second, err := links.SecondPass(e.root, m)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("second link pass: %v", err))
		} else {
			res.Warnings = append(res.Warnings, second.Warnings...)

			e.logger.Info("second link pass",
				slog.Int("resolved", second.Resolved),
				slog.Int("files", second.FilesRewritten),
			)
		}
	}

	m.LastSync = time.Now().UTC()

	if err := mapping.Save(e.root, m); err != nil {
		return nil, fmt.Errorf("saving mapping: %w", err)
	}

	return res, nil
}

// pullPage fetches one page, converts it, and writes it at rel. The
// mapping entry is persisted with the write so a crash between pages
// self-heals on the next run. prev carries the previous local state for
// modified pages (nil for additions) so passthrough frontmatter
// survives a refresh. The first return reports whether the file was
// actually written; a page whose status changed between the snapshot
// and the fetch is skipped with a warning, not written.
func (e *Engine) pullPage(ctx context.Context, m *mapping.Mapping, id, rel string, lookup links.Lookup, prev *pagestate.PageInfo, res *RunResult) (bool, error) {
	// Modified paths come from the mapping, which is user-editable; a
	// path escaping the sync root must never be written.
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return false, fmt.Errorf("%w: %s", cnerrors.ErrTraversal, rel)
	}

	page, err := e.client.GetPage(ctx, id)
	if err != nil {
		return false, err
	}

	if !page.Current() {
		// The next run's diff will see it as deleted.
		res.Warnings = append(res.Warnings, fmt.Sprintf("page %s no longer current, skipped", id))
		return false, nil
	}

	converted := e.conv.ToLocal(page.Body, convert.LinkContext{
		SourceDir: path.Dir(rel),
		Lookup:    lookup,
	})

	for _, w := range converted.Warnings {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s", rel, w))
	}

	block := &metadata.Block{
		ID:        page.ID,
		Title:     page.Title,
		Version:   page.Version,
		ParentID:  page.ParentID,
		UpdatedAt: page.UpdatedAt,
		SyncedAt:  time.Now().UTC().Format(time.RFC3339),
	}

	// Carry passthrough frontmatter fields across refreshes.
	if prev != nil {
		if old, err := os.ReadFile(e.abs(prev.Path)); err == nil {
			if oldBlock, _, err := metadata.Parse(old); err == nil {
				block.Extra = oldBlock.Extra
			}
		}
	}

	abs := e.abs(rel)

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return false, fmt.Errorf("creating parent directory: %w", err)
	}

	if err := writeFileAtomic(abs, metadata.Render(block, []byte(converted.Text))); err != nil {
		return false, fmt.Errorf("writing %s: %w", rel, err)
	}

	m.Pages[id] = rel

	if err := mapping.Save(e.root, m); err != nil {
		return false, fmt.Errorf("saving mapping: %w", err)
	}

	e.logger.Info("wrote page",
		slog.String("id", id),
		slog.String("path", rel),
		slog.Int("version", page.Version),
	)

	return true, nil
}

// cascadeRename recomputes the canonical path for a retitled page and
// runs the rename cascade. A collision with a different page aborts the
// rename with a warning and keeps the old path.
func (e *Engine) cascadeRename(m *mapping.Mapping, resolver *paths.Resolver, page remote.Page, hasChildren bool, res *RunResult) {
	oldPath := m.Pages[page.ID]

	parentDir := ""
	if page.ParentID != "" {
		if parentPath, ok := m.Pages[page.ParentID]; ok {
			parentDir = paths.ChildDir(parentPath)
		}
	}

	resolver.Release(page.ID)

	newPath, err := resolver.PathFor(page.ID, page.Title, parentDir, hasChildren)
	if err != nil {
		resolver.Claim(page.ID, oldPath)
		res.Warnings = append(res.Warnings, fmt.Sprintf("rename of page %s: %v", page.ID, err))

		return
	}

	if newPath == oldPath {
		return
	}

	tracked := invert(m.Pages)

	result, err := renameCascade(e.root, page.ID, oldPath, newPath, tracked)
	if err != nil {
		resolver.Claim(page.ID, oldPath)
		res.Warnings = append(res.Warnings, fmt.Sprintf("rename of page %s: %v", page.ID, err))

		return
	}

	res.Warnings = append(res.Warnings, result.Warnings...)

	m.Pages[page.ID] = newPath

	if err := mapping.Save(e.root, m); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("saving mapping after rename: %v", err))
		return
	}

	e.logger.Info("renamed page",
		slog.String("id", page.ID),
		slog.String("from", oldPath),
		slog.String("to", newPath),
		slog.Int("links_rewritten", result.RewrittenFiles),
	)
}

// deletePage removes a page's file and mapping entry. A file already
// gone is not an error; the mapping entry is still dropped.
func (e *Engine) deletePage(m *mapping.Mapping, ch Change) error {
	// Deleted paths come straight from the mapping; never remove a
	// file outside the sync root.
	if !filepath.IsLocal(filepath.FromSlash(ch.Path)) {
		return fmt.Errorf("%w: %s", cnerrors.ErrTraversal, ch.Path)
	}

	abs := e.abs(ch.Path)

	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", ch.Path, err)
	}

	removeEmptyParents(e.root, ch.Path)

	delete(m.Pages, ch.ID)

	if err := mapping.Save(e.root, m); err != nil {
		return fmt.Errorf("saving mapping: %w", err)
	}

	e.logger.Info("deleted page", slog.String("id", ch.ID), slog.String("path", ch.Path))

	return nil
}

// PushResult reports a completed push of one file.
type PushResult struct {
	ID         string
	Created    bool
	NewVersion int
	RenamedTo  string
	Warnings   []string
}

// Push writes one local file's content back to the remote store. The
// file's recorded version is compared against the freshly fetched
// remote version first: equal proceeds, anything else is a conflict
// unless the engine was created with Force, in which case the write
// proceeds tagged remote+1 and a warning surfaces the discarded remote
// changes.
//
// A file without a frontmatter block is treated as a new page: it is
// created remotely under the configured space and adopted into the
// mapping, gaining a frontmatter block in place.
func (e *Engine) Push(ctx context.Context, rel string) (*PushResult, error) {
	rel = filepath.ToSlash(filepath.Clean(rel))

	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return nil, fmt.Errorf("%w: %s", cnerrors.ErrTraversal, rel)
	}

	m, err := mapping.Load(e.root)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(e.abs(rel))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rel, err)
	}

	block, body, err := metadata.Parse(content)
	if err != nil {
		if errors.Is(err, cnerrors.ErrParse) && !strings.HasPrefix(string(content), "---") {
			return e.pushNew(ctx, m, rel, content)
		}

		return nil, fmt.Errorf("parsing %s: %w", rel, err)
	}

	cache, _ := pagestate.Build(e.root, m.Pages)

	remotePage, err := e.client.GetPage(ctx, block.ID)
	if err != nil {
		return nil, err
	}

	check := CheckPush(block.Version, remotePage.Version, e.opts.Force)

	result := &PushResult{ID: block.ID}

	switch check.Status {
	case PushConflict:
		return nil, fmt.Errorf("%w: local version %d, remote version %d",
			cnerrors.ErrVersionConflict, check.LocalVersion, check.RemoteVersion)

	case PushForced:
		remoteLocal := e.conv.ToLocal(remotePage.Body, convert.LinkContext{
			SourceDir: path.Dir(rel),
			Lookup:    links.NewLookup(cache),
		})

		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"forced past conflict (local %d, remote %d): %s",
			check.LocalVersion, check.RemoteVersion,
			OverrideSummary(remoteLocal.Text, string(body)),
		))

	case PushClean:
	}

	converted := e.conv.ToRemote(string(body), convert.LinkContext{
		SourceDir:   path.Dir(rel),
		PathToTitle: pathToTitle(cache),
	})

	for _, w := range converted.Warnings {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s", rel, w))
	}

	updated, err := e.client.UpdatePage(ctx, block.ID, remote.PageSpec{
		Title:    block.Title,
		ParentID: block.ParentID,
		Body:     converted.Text,
	}, check.NextVersion)
	if err != nil {
		return nil, err
	}

	result.NewVersion = updated.Version

	block.Version = updated.Version
	block.SyncedAt = time.Now().UTC().Format(time.RFC3339)

	if err := writeFileAtomic(e.abs(rel), metadata.Render(block, body)); err != nil {
		return nil, fmt.Errorf("updating %s after push: %w", rel, err)
	}

	// If the local title no longer matches the file's slug, move the
	// file to its canonical path. The tree shape (index vs leaf) is
	// preserved.
	e.pushRename(m, block, rel, result)

	e.logger.Info("pushed page",
		slog.String("id", block.ID),
		slog.String("path", rel),
		slog.Int("version", updated.Version),
	)

	return result, nil
}

// pushNew creates a remote page from a plain markdown file and adopts
// it into the mapping, writing the frontmatter block in place.
func (e *Engine) pushNew(ctx context.Context, m *mapping.Mapping, rel string, content []byte) (*PushResult, error) {
	title := titleFromContent(rel, content)

	converted := e.conv.ToRemote(string(content), convert.LinkContext{SourceDir: path.Dir(rel)})

	created, err := e.client.CreatePage(ctx, remote.PageSpec{
		Title:    title,
		SpaceKey: m.SpaceKey,
		Body:     converted.Text,
	})
	if err != nil {
		return nil, err
	}

	block := &metadata.Block{
		ID:       created.ID,
		Title:    created.Title,
		Version:  created.Version,
		SyncedAt: time.Now().UTC().Format(time.RFC3339),
	}

	if err := writeFileAtomic(e.abs(rel), metadata.Render(block, content)); err != nil {
		return nil, fmt.Errorf("adopting %s: %w", rel, err)
	}

	m.Pages[created.ID] = rel

	if err := mapping.Save(e.root, m); err != nil {
		return nil, fmt.Errorf("saving mapping: %w", err)
	}

	result := &PushResult{ID: created.ID, Created: true, NewVersion: created.Version}
	result.Warnings = append(result.Warnings, converted.Warnings...)

	e.logger.Info("created page", slog.String("id", created.ID), slog.String("path", rel))

	return result, nil
}

func (e *Engine) pushRename(m *mapping.Mapping, block *metadata.Block, rel string, result *PushResult) {
	resolver := paths.NewResolver(m.Pages)

	parentDir := ""
	if block.ParentID != "" {
		if parentPath, ok := m.Pages[block.ParentID]; ok {
			parentDir = paths.ChildDir(parentPath)
		}
	}

	hasChildren := path.Base(rel) == paths.IndexFileName

	resolver.Release(block.ID)

	newPath, err := resolver.PathFor(block.ID, block.Title, parentDir, hasChildren)
	if err != nil || newPath == rel {
		return
	}

	renamed, err := renameCascade(e.root, block.ID, rel, newPath, invert(m.Pages))
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("rename after push: %v", err))
		return
	}

	result.Warnings = append(result.Warnings, renamed.Warnings...)
	result.RenamedTo = newPath

	m.Pages[block.ID] = newPath

	if err := mapping.Save(e.root, m); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("saving mapping after rename: %v", err))
	}
}

func (e *Engine) loadOrInitMapping(ctx context.Context) (*mapping.Mapping, error) {
	m, err := mapping.Load(e.root)
	if err == nil {
		return m, nil
	}

	if !errors.Is(err, cnerrors.ErrMappingMissing) || e.opts.SpaceKey == "" {
		return nil, err
	}

	space, err := e.client.GetSpace(ctx, e.opts.SpaceKey)
	if err != nil {
		return nil, fmt.Errorf("initializing space %s: %w", e.opts.SpaceKey, err)
	}

	e.logger.Info("initialized new sync directory",
		slog.String("space", space.Key),
		slog.String("name", space.Name),
	)

	return mapping.New(space.ID, space.Key, space.Name), nil
}

func (e *Engine) abs(rel string) string {
	return filepath.Join(e.root, filepath.FromSlash(rel))
}

func invert(pages map[string]string) map[string]string {
	out := make(map[string]string, len(pages))
	for id, p := range pages {
		out[p] = id
	}

	return out
}

func pathToTitle(cache *pagestate.Cache) map[string]string {
	out := make(map[string]string, len(cache.Pages))
	for _, info := range cache.Pages {
		if info.Title != "" {
			out[info.Path] = info.Title
		}
	}

	return out
}

// titleFromContent derives a new page's title from its first heading,
// falling back to the filename.
func titleFromContent(rel string, content []byte) string {
	for line := range strings.Lines(string(content)) {
		trimmed := strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(trimmed, "# "); ok {
			return strings.TrimSpace(after)
		}
	}

	base := path.Base(rel)

	return strings.TrimSuffix(base, ".md")
}
