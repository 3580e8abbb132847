// Package mapping persists the minimal id-to-path index for a synced
// directory. The mapping file deliberately stores no titles or versions;
// those live in each file's frontmatter and are rebuilt into the page
// state cache on demand.
package mapping

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	cnerrors "github.com/aaronshaf/cn/internal/errors"
)

// FileName is the per-directory mapping file.
const FileName = ".cn.json"

const (
	filePerm = 0o644
	dirPerm  = 0o755
)

// Mapping is the persisted index for one synced space directory.
type Mapping struct {
	SpaceID   string    `json:"spaceId"`
	SpaceKey  string    `json:"spaceKey"`
	SpaceName string    `json:"spaceName"`
	LastSync  time.Time `json:"lastSync,omitzero"`

	// Pages maps page id to the file's path relative to the sync root.
	Pages map[string]string `json:"pages"`
}

// legacyEntry is the historical mapping format that embedded full page
// metadata in the index. Only the path survives migration; title and
// version are authoritative in the file's frontmatter.
type legacyEntry struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Version int    `json:"version"`
}

// legacyFile detects and carries the historical format during migration.
type legacyFile struct {
	SpaceID   string                 `json:"spaceId"`
	SpaceKey  string                 `json:"spaceKey"`
	SpaceName string                 `json:"spaceName"`
	LastSync  time.Time              `json:"lastSync"`
	Pages     map[string]legacyEntry `json:"pages"`
}

// New returns an initialized empty mapping for a space.
func New(spaceID, spaceKey, spaceName string) *Mapping {
	return &Mapping{
		SpaceID:   spaceID,
		SpaceKey:  spaceKey,
		SpaceName: spaceName,
		Pages:     map[string]string{},
	}
}

// Path returns the mapping file path for a sync directory.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Exists reports whether a mapping file is present in the directory.
func Exists(dir string) bool {
	_, err := os.Stat(Path(dir))
	return err == nil
}

// Load reads the mapping file from a sync directory. A missing file
// returns ErrMappingMissing so callers can distinguish "first run" from
// a corrupt index. Legacy-format files are migrated in memory; the next
// Save writes the current format.
func Load(dir string) (*Mapping, error) {
	path := Path(dir)

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", cnerrors.ErrMappingMissing, path)
		}

		return nil, fmt.Errorf("reading mapping file %s: %w", path, err)
	}

	var m Mapping
	if err := json.Unmarshal(raw, &m); err == nil {
		if m.Pages == nil {
			m.Pages = map[string]string{}
		}

		return &m, nil
	}

	// The current format failed to decode. Try the legacy format before
	// declaring the file malformed.
	var legacy legacyFile
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", cnerrors.ErrMappingInvalid, path, err)
	}

	migrated := New(legacy.SpaceID, legacy.SpaceKey, legacy.SpaceName)
	migrated.LastSync = legacy.LastSync

	for id, entry := range legacy.Pages {
		migrated.Pages[id] = entry.Path
	}

	return migrated, nil
}

// Save writes the mapping atomically: the encoded index goes to a
// temporary file in the same directory, then replaces the mapping file
// in one rename. A crash never yields a truncated index.
func Save(dir string, m *Mapping) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding mapping: %w", err)
	}

	raw = append(raw, '\n')

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("creating sync directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp mapping file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("writing temp mapping file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp mapping file: %w", err)
	}

	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("setting mapping file permissions: %w", err)
	}

	if err := os.Rename(tmpName, Path(dir)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing mapping file: %w", err)
	}

	return nil
}
