package normalize

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var htmlTag = regexp.MustCompile(`(?i)<(?:!doctype\s[^<>]*|/?(?:html|head|body|div|p|br|span|table|tbody|thead|tr|td|th|a|b|i|u|em|strong|font|img|ul|ol|li|h[1-6]|blockquote|center|hr|pre|section|article|header|footer|style|script|meta|title)(?:\s[^<>]*)?/?)>`)

// strictPolicy strips every tag; bluemonday policies are safe for concurrent
// Sanitize calls once built.
var strictPolicy = bluemonday.StrictPolicy()

var skipped = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Title:    true,
	atom.Noscript: true,
	atom.Template: true,
}

var block = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Center: true, atom.Dd: true, atom.Div: true, atom.Dl: true, atom.Dt: true,
	atom.Footer: true, atom.Form: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Header: true, atom.Hr: true,
	atom.Li: true, atom.Main: true, atom.Nav: true, atom.Ol: true, atom.P: true,
	atom.Pre: true, atom.Section: true, atom.Table: true, atom.Tr: true, atom.Ul: true,
}

func looksLikeHTML(s string) bool {
	return htmlTag.MatchString(s)
}

// htmlToText extracts visible text, one line per block element. Blockquotes
// come out as "> " lines so they are handled like plain-text quotes. The
// second return value is false when the sanitizer fallback had to be used.
func htmlToText(src string) (string, bool) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return sanitize(src), false
	}

	var b strings.Builder
	render(&b, doc, false)
	text := b.String()

	// Markup that survives the walk came from escaped or broken tags.
	if looksLikeHTML(text) {
		return sanitize(text), false
	}
	return text, true
}

func sanitize(s string) string {
	return html.UnescapeString(strictPolicy.Sanitize(s))
}

func render(b *strings.Builder, n *html.Node, pre bool) {
	switch n.Type {
	case html.TextNode:
		if pre {
			b.WriteString(n.Data)
		} else {
			b.WriteString(strings.Map(func(r rune) rune {
				if r == '\n' || r == '\r' || r == '\t' {
					return ' '
				}
				return r
			}, n.Data))
		}
		return
	case html.CommentNode, html.DoctypeNode:
		return
	case html.ElementNode:
		if skipped[n.DataAtom] {
			return
		}
		switch n.DataAtom {
		case atom.Br:
			b.WriteByte('\n')
			return
		case atom.Blockquote:
			var inner strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				render(&inner, c, pre)
			}
			b.WriteByte('\n')
			for _, line := range strings.Split(inner.String(), "\n") {
				if strings.TrimSpace(line) == "" {
					continue
				}
				b.WriteString("> ")
				b.WriteString(strings.TrimSpace(line))
				b.WriteByte('\n')
			}
			return
		case atom.Td, atom.Th:
			b.WriteByte(' ')
		}
		if n.DataAtom == atom.Pre {
			pre = true
		}
	}

	if n.Type == html.ElementNode && block[n.DataAtom] {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		render(b, c, pre)
	}
	if n.Type == html.ElementNode && block[n.DataAtom] {
		b.WriteByte('\n')
	}
}
