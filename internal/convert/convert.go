// Package convert translates Confluence storage format to markdown and
// back. It is deliberately lossy outside the constructs cn understands:
// byte-for-byte round-trip of rich formatting is a non-goal, and
// unconvertible macros pass through with a warning instead of being
// dropped.
package convert

import (
	"fmt"
	"html"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/aaronshaf/cn/internal/links"
)

// LinkContext supplies what link translation needs: the referencing
// document's directory, the title lookup for resolving page links, and
// the inverse path-to-title map for the push direction.
type LinkContext struct {
	SourceDir   string
	Lookup      links.Lookup
	PathToTitle map[string]string
}

// Result is converted text plus recoverable oddities found on the way.
type Result struct {
	Text     string
	Warnings []string
}

// Converter is the format boundary the sync engine depends on.
type Converter interface {
	ToLocal(rich string, lc LinkContext) Result
	ToRemote(text string, lc LinkContext) Result
}

// Storage implements Converter for the Confluence storage format.
type Storage struct{}

var (
	pageLinkRe = regexp.MustCompile(`(?s)<ac:link[^>]*>(.*?)</ac:link>`)
	pageRefRe  = regexp.MustCompile(`<ri:page[^>]*ri:content-title="([^"]*)"`)
	linkBodyRe = regexp.MustCompile(`(?s)<ac:plain-text-link-body><!\[CDATA\[(.*?)\]\]></ac:plain-text-link-body>|<ac:link-body>(.*?)</ac:link-body>`)

	codeMacroRe = regexp.MustCompile(`(?s)<ac:structured-macro[^>]*ac:name="code"[^>]*>(.*?)</ac:structured-macro>`)
	codeLangRe  = regexp.MustCompile(`(?s)<ac:parameter[^>]*ac:name="language"[^>]*>(.*?)</ac:parameter>`)
	codeBodyRe  = regexp.MustCompile(`(?s)<ac:plain-text-body><!\[CDATA\[(.*?)\]\]></ac:plain-text-body>`)

	otherMacroRe = regexp.MustCompile(`<ac:structured-macro[^>]*ac:name="([^"]*)"`)

	headingRe  = regexp.MustCompile(`(?s)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
	anchorRe   = regexp.MustCompile(`(?s)<a\s[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)
	listItemRe = regexp.MustCompile(`(?s)<li[^>]*>(.*?)</li>`)
	tagRe      = regexp.MustCompile(`</?(?:p|ul|ol|br|hr|span|div|table|tbody|tr|th|td)[^>]*/?>`)

	mdLinkRe    = regexp.MustCompile(`\[([^\]]*)\]\(([^)\s]+)\)`)
	mdHeadingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
)

// ToLocal converts storage-format XHTML to markdown. Page links whose
// target title is not yet in the lookup are left as unresolved markers,
// with one warning naming the target title.
func (Storage) ToLocal(rich string, lc LinkContext) Result {
	var warnings []string

	text := rich

	// Code macros first, so their bodies are not mangled by later rules.
	text = codeMacroRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := codeMacroRe.FindStringSubmatch(m)

		inner := sub[1]

		lang := ""
		if lm := codeLangRe.FindStringSubmatch(inner); lm != nil {
			lang = strings.TrimSpace(lm[1])
		}

		body := ""
		if bm := codeBodyRe.FindStringSubmatch(inner); bm != nil {
			body = bm[1]
		}

		return "\n```" + lang + "\n" + strings.Trim(body, "\n") + "\n```\n"
	})

	// Page links: resolve against the pre-run lookup or leave a marker.
	text = pageLinkRe.ReplaceAllStringFunc(text, func(m string) string {
		inner := pageLinkRe.FindStringSubmatch(m)[1]

		ref := pageRefRe.FindStringSubmatch(inner)
		if ref == nil {
			warnings = append(warnings, "link without page reference passed through")
			return m
		}

		title := html.UnescapeString(ref[1])

		linkText := title
		if bm := linkBodyRe.FindStringSubmatch(inner); bm != nil {
			if bm[1] != "" {
				linkText = bm[1]
			} else if bm[2] != "" {
				linkText = html.UnescapeString(bm[2])
			}
		}

		if target, ok := lc.Lookup.Resolve(title, lc.SourceDir); ok {
			return fmt.Sprintf("[%s](%s)", linkText, target)
		}

		warnings = append(warnings, fmt.Sprintf("unresolved link to %q", title))

		return links.Marker(linkText, title)
	})

	// Any macro still present is one cn does not understand.
	for _, m := range otherMacroRe.FindAllStringSubmatch(text, -1) {
		warnings = append(warnings, fmt.Sprintf("unsupported macro %q passed through", m[1]))
	}

	text = headingRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := headingRe.FindStringSubmatch(m)
		level := int(sub[1][0] - '0')

		return "\n" + strings.Repeat("#", level) + " " + strings.TrimSpace(sub[2]) + "\n"
	})

	text = anchorRe.ReplaceAllString(text, "[$2]($1)")
	text = listItemRe.ReplaceAllString(text, "\n- $1")

	replacer := strings.NewReplacer(
		"<strong>", "**", "</strong>", "**",
		"<b>", "**", "</b>", "**",
		"<em>", "*", "</em>", "*",
		"<i>", "*", "</i>", "*",
		"<code>", "`", "</code>", "`",
		"</p>", "\n\n",
	)
	text = replacer.Replace(text)

	text = tagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = collapseBlankLines(text)

	return Result{Text: text, Warnings: warnings}
}

// ToRemote converts markdown to storage format. Relative links to
// tracked files become page links; unresolved markers are translated
// back to page links by title, so an unresolved link pushed to the
// remote store regains its native representation.
func (Storage) ToRemote(text string, lc LinkContext) Result {
	var (
		warnings []string
		out      strings.Builder
	)

	lines := strings.Split(text, "\n")

	var paragraph []string

	flush := func() {
		if len(paragraph) == 0 {
			return
		}

		out.WriteString("<p>" + inlineToStorage(strings.Join(paragraph, " "), lc, &warnings) + "</p>")
		paragraph = nil
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if strings.HasPrefix(line, "```") {
			flush()

			lang := strings.TrimSpace(strings.TrimPrefix(line, "```"))

			var body []string

			for i++; i < len(lines) && !strings.HasPrefix(lines[i], "```"); i++ {
				body = append(body, lines[i])
			}

			out.WriteString(codeMacro(lang, strings.Join(body, "\n")))

			continue
		}

		if m := mdHeadingRe.FindStringSubmatch(line); m != nil {
			flush()

			level := len(m[1])
			out.WriteString(fmt.Sprintf("<h%d>%s</h%d>", level, inlineToStorage(m[2], lc, &warnings), level))

			continue
		}

		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}

		paragraph = append(paragraph, strings.TrimSpace(line))
	}

	flush()

	return Result{Text: out.String(), Warnings: warnings}
}

func codeMacro(lang, body string) string {
	var b strings.Builder

	b.WriteString(`<ac:structured-macro ac:name="code">`)

	if lang != "" {
		b.WriteString(`<ac:parameter ac:name="language">` + html.EscapeString(lang) + `</ac:parameter>`)
	}

	b.WriteString(`<ac:plain-text-body><![CDATA[` + body + `]]></ac:plain-text-body></ac:structured-macro>`)

	return b.String()
}

// inlineToStorage handles links and emphasis within one line, escaping
// everything else.
func inlineToStorage(line string, lc LinkContext, warnings *[]string) string {
	var (
		out  strings.Builder
		last int
	)

	matches := mdLinkRe.FindAllStringSubmatchIndex(line, -1)

	for _, m := range matches {
		out.WriteString(emphasisToStorage(line[last:m[0]]))

		text := line[m[2]:m[3]]
		target := line[m[4]:m[5]]

		out.WriteString(linkToStorage(text, target, lc, warnings))

		last = m[1]
	}

	out.WriteString(emphasisToStorage(line[last:]))

	return out.String()
}

func linkToStorage(text, target string, lc LinkContext, warnings *[]string) string {
	if title, ok := strings.CutPrefix(target, links.Scheme); ok {
		if unescaped, err := unescapeTitle(title); err == nil {
			return pageLink(unescaped, text)
		}

		*warnings = append(*warnings, fmt.Sprintf("malformed link marker %q passed through", target))

		return html.EscapeString(text)
	}

	if strings.HasSuffix(target, ".md") && !strings.Contains(target, "://") {
		resolved := path.Clean(path.Join(lc.SourceDir, target))
		if title, ok := lc.PathToTitle[resolved]; ok {
			return pageLink(title, text)
		}

		*warnings = append(*warnings, fmt.Sprintf("link to untracked file %q kept as external", target))
	}

	return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(target), html.EscapeString(text))
}

func pageLink(title, text string) string {
	return fmt.Sprintf(
		`<ac:link><ri:page ri:content-title="%s" /><ac:plain-text-link-body><![CDATA[%s]]></ac:plain-text-link-body></ac:link>`,
		html.EscapeString(title), text,
	)
}

func emphasisToStorage(s string) string {
	s = html.EscapeString(s)

	for {
		replaced := boldRe.ReplaceAllString(s, "<strong>$1</strong>")
		replaced = italicRe.ReplaceAllString(replaced, "<em>$1</em>")
		replaced = inlineCodeRe.ReplaceAllString(replaced, "<code>$1</code>")

		if replaced == s {
			return s
		}

		s = replaced
	}
}

var (
	boldRe       = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicRe     = regexp.MustCompile(`\*([^*]+)\*`)
	inlineCodeRe = regexp.MustCompile("`([^`]+)`")
)

func collapseBlankLines(s string) string {
	s = regexp.MustCompile(`\n{3,}`).ReplaceAllString(s, "\n\n")
	return strings.TrimLeft(strings.TrimRight(s, " \n")+"\n", "\n")
}

func unescapeTitle(escaped string) (string, error) {
	return url.PathUnescape(escaped)
}
