package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronshaf/cn/internal/links"
)

func TestToLocalBasics(t *testing.T) {
	rich := `<h1>Title</h1><p>Some <strong>bold</strong> and <em>italic</em> text.</p><p>Second paragraph with <code>inline</code>.</p>`

	got := Storage{}.ToLocal(rich, LinkContext{})

	assert.Contains(t, got.Text, "# Title")
	assert.Contains(t, got.Text, "**bold**")
	assert.Contains(t, got.Text, "*italic*")
	assert.Contains(t, got.Text, "`inline`")
	assert.Empty(t, got.Warnings)
}

func TestToLocalCodeMacro(t *testing.T) {
	rich := `<ac:structured-macro ac:name="code"><ac:parameter ac:name="language">go</ac:parameter>` +
		`<ac:plain-text-body><![CDATA[fmt.Println("hi")]]></ac:plain-text-body></ac:structured-macro>`

	got := Storage{}.ToLocal(rich, LinkContext{})

	assert.Contains(t, got.Text, "```go\nfmt.Println(\"hi\")\n```")
	assert.Empty(t, got.Warnings)
}

func TestToLocalResolvedPageLink(t *testing.T) {
	rich := `<p>See <ac:link><ri:page ri:content-title="Setup Guide" />` +
		`<ac:plain-text-link-body><![CDATA[the guide]]></ac:plain-text-link-body></ac:link>.</p>`

	lc := LinkContext{
		SourceDir: "docs",
		Lookup:    links.Lookup{"setup guide": "guides/setup.md"},
	}

	got := Storage{}.ToLocal(rich, lc)

	assert.Contains(t, got.Text, "[the guide](../guides/setup.md)")
	assert.Empty(t, got.Warnings)
}

func TestToLocalUnresolvedPageLinkLeavesMarker(t *testing.T) {
	rich := `<p><ac:link><ri:page ri:content-title="Future Page" /></ac:link></p>`

	got := Storage{}.ToLocal(rich, LinkContext{Lookup: links.Lookup{}})

	assert.Contains(t, got.Text, "[Future Page](confluence://Future%20Page)")
	require.Len(t, got.Warnings, 1)
	assert.Contains(t, got.Warnings[0], `"Future Page"`)
}

func TestToLocalUnsupportedMacroWarns(t *testing.T) {
	rich := `<ac:structured-macro ac:name="jira"><ac:parameter ac:name="key">X-1</ac:parameter></ac:structured-macro>`

	got := Storage{}.ToLocal(rich, LinkContext{})

	require.NotEmpty(t, got.Warnings)
	assert.Contains(t, got.Warnings[0], `"jira"`)
	// Passed through, not dropped.
	assert.Contains(t, got.Text, "jira")
}

func TestToRemoteBasics(t *testing.T) {
	md := "# Title\n\nSome **bold** and `code` text.\n\n```go\nx := 1\n```\n"

	got := Storage{}.ToRemote(md, LinkContext{})

	assert.Contains(t, got.Text, "<h1>Title</h1>")
	assert.Contains(t, got.Text, "<strong>bold</strong>")
	assert.Contains(t, got.Text, "<code>code</code>")
	assert.Contains(t, got.Text, `<ac:parameter ac:name="language">go</ac:parameter>`)
	assert.Contains(t, got.Text, "<![CDATA[x := 1]]>")
}

func TestToRemoteTrackedLinkBecomesPageLink(t *testing.T) {
	md := "See [the guide](../guides/setup.md) now.\n"

	lc := LinkContext{
		SourceDir:   "docs",
		PathToTitle: map[string]string{"guides/setup.md": "Setup Guide"},
	}

	got := Storage{}.ToRemote(md, lc)

	assert.Contains(t, got.Text, `ri:content-title="Setup Guide"`)
	assert.Contains(t, got.Text, "<![CDATA[the guide]]>")
	assert.Empty(t, got.Warnings)
}

func TestToRemoteMarkerRegainsPageLink(t *testing.T) {
	md := "[missing](confluence://Future%20Page)\n"

	got := Storage{}.ToRemote(md, LinkContext{})

	assert.Contains(t, got.Text, `ri:content-title="Future Page"`)
	assert.NotContains(t, got.Text, "confluence://")
}

func TestToRemoteExternalLink(t *testing.T) {
	md := "[site](https://example.com/page)\n"

	got := Storage{}.ToRemote(md, LinkContext{})

	assert.Contains(t, got.Text, `<a href="https://example.com/page">site</a>`)
}

func TestRoundTripKeepsStructure(t *testing.T) {
	md := "# Heading\n\nPlain paragraph.\n\n```sh\necho hi\n```\n"

	s := Storage{}

	remote := s.ToRemote(md, LinkContext{})
	back := s.ToLocal(remote.Text, LinkContext{})

	assert.Contains(t, back.Text, "# Heading")
	assert.Contains(t, back.Text, "Plain paragraph.")
	assert.Contains(t, back.Text, "```sh\necho hi\n```")
}
