// Package metadata reads and writes the YAML frontmatter block that makes
// each synced markdown file self-describing. The frontmatter is the source
// of truth for a page's id, title, and version; the mapping file stores
// only the id-to-path index.
package metadata

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	cnerrors "github.com/aaronshaf/cn/internal/errors"
)

const delimiter = "---"

// Keys interpreted by the codec. Everything else in the frontmatter is
// passed through opaquely and survives a rewrite.
const (
	keyID       = "id"
	keyTitle    = "title"
	keyVersion  = "version"
	keyParentID = "parentId"
	keyUpdated  = "updatedAt"
	keySynced   = "syncedAt"
)

// Block is the parsed frontmatter of one synced file.
type Block struct {
	ID       string
	Title    string
	Version  int
	ParentID string

	// Timestamps are carried as strings (RFC 3339 when written by cn) and
	// never interpreted beyond ordering comparisons by callers.
	UpdatedAt string
	SyncedAt  string

	// Extra holds frontmatter keys cn does not interpret (labels, author
	// fields). They are re-emitted verbatim on Render.
	Extra map[string]any
}

// Parse splits content into its frontmatter block and body. The body is
// returned byte-for-byte as it appears after the closing delimiter line.
//
// A missing frontmatter block, unparseable YAML, or an absent id all
// return ErrParse. Missing optional fields default per the sync contract:
// title to "", version to 1; timestamps are left unset.
func Parse(content []byte) (*Block, []byte, error) {
	raw, body, err := split(content)
	if err != nil {
		return nil, nil, err
	}

	var fields map[string]any
	if err := yaml.Unmarshal(raw, &fields); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", cnerrors.ErrParse, err)
	}

	b := &Block{Version: 1}

	for k, v := range fields {
		switch k {
		case keyID:
			b.ID = asString(v)
		case keyTitle:
			b.Title = asString(v)
		case keyVersion:
			n, ok := asInt(v)
			if !ok {
				return nil, nil, fmt.Errorf("%w: version is not an integer", cnerrors.ErrParse)
			}

			b.Version = n
		case keyParentID:
			b.ParentID = asString(v)
		case keyUpdated:
			b.UpdatedAt = asString(v)
		case keySynced:
			b.SyncedAt = asString(v)
		default:
			if b.Extra == nil {
				b.Extra = make(map[string]any)
			}

			b.Extra[k] = v
		}
	}

	if b.ID == "" {
		return nil, nil, fmt.Errorf("%w: missing id", cnerrors.ErrParse)
	}

	return b, body, nil
}

// Render serializes the block followed by the body. Interpreted keys are
// emitted in a fixed order, then passthrough keys sorted by name, so two
// renders of the same block are byte-identical.
func Render(b *Block, body []byte) []byte {
	var buf bytes.Buffer

	buf.WriteString(delimiter)
	buf.WriteByte('\n')

	writeField(&buf, keyID, b.ID)
	writeField(&buf, keyTitle, b.Title)
	writeField(&buf, keyVersion, b.Version)

	if b.ParentID != "" {
		writeField(&buf, keyParentID, b.ParentID)
	}

	if b.UpdatedAt != "" {
		writeField(&buf, keyUpdated, b.UpdatedAt)
	}

	if b.SyncedAt != "" {
		writeField(&buf, keySynced, b.SyncedAt)
	}

	extras := make([]string, 0, len(b.Extra))
	for k := range b.Extra {
		extras = append(extras, k)
	}

	sort.Strings(extras)

	for _, k := range extras {
		writeField(&buf, k, b.Extra[k])
	}

	buf.WriteString(delimiter)
	buf.WriteByte('\n')
	buf.Write(body)

	return buf.Bytes()
}

// writeField emits one "key: value" line using the YAML encoder for the
// value so quoting and escaping stay correct for arbitrary titles.
func writeField(buf *bytes.Buffer, key string, value any) {
	line, err := yaml.Marshal(map[string]any{key: value})
	if err != nil {
		// yaml.Marshal of a scalar map cannot fail for the types the
		// codec emits; fall back to a plain line rather than panicking.
		fmt.Fprintf(buf, "%s: %v\n", key, value)
		return
	}

	buf.Write(line)
}

// split separates the frontmatter bytes from the body. The opening
// delimiter must be the first line; the closing delimiter must be on its
// own line.
func split(content []byte) (frontmatter, body []byte, err error) {
	if !bytes.HasPrefix(content, []byte(delimiter)) {
		return nil, nil, fmt.Errorf("%w: no frontmatter block", cnerrors.ErrParse)
	}

	rest := content[len(delimiter):]

	idx := bytes.IndexByte(rest, '\n')
	if idx < 0 {
		return nil, nil, fmt.Errorf("%w: unterminated frontmatter", cnerrors.ErrParse)
	}

	rest = rest[idx+1:]

	end := bytes.Index(rest, []byte("\n"+delimiter))
	if end < 0 {
		return nil, nil, fmt.Errorf("%w: unterminated frontmatter", cnerrors.ErrParse)
	}

	frontmatter = rest[:end]

	body = rest[end+1+len(delimiter):]
	// Drop the remainder of the closing delimiter line.
	if nl := bytes.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = nil
	}

	return frontmatter, body, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0, false
		}

		return n, true
	default:
		return 0, false
	}
}
