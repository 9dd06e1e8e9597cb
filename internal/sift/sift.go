// Package sift reduces raw page HTML into a compact markdown-ish text
// suitable for a model context window. The reduction is a pure function
// of its input: no network access, no DOM mutation side effects.
package sift

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// DefaultLimit is the rune budget applied by Process when no explicit
// limit is configured. Long pages (news aggregators, docs) need a decent
// slice of content to be useful, so this errs on the generous side.
const DefaultLimit = 15000

// Process runs Reduce followed by Truncate with the given rune limit.
// A limit <= 0 falls back to DefaultLimit.
func Process(html string, limit int) string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return Truncate(Reduce(html), limit)
}

// Reduce converts HTML into markdown-ish plain text. Script, style and
// other non-content elements are dropped, headings keep their level,
// links keep their targets, and list items get bullet prefixes. Input
// that fails to parse as HTML is returned trimmed as-is.
func Reduce(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}

	doc.Find("script, style, noscript, svg, iframe, template").Remove()

	var b strings.Builder

	if title := collapse(doc.Find("title").First().Text()); title != "" {
		b.WriteString("# " + title + "\n\n")
	}

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	root.Find("h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, td, th, a, article, section, div").Each(func(_ int, s *goquery.Selection) {
		node := goquery.NodeName(s)
		switch node {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			if text := collapse(s.Text()); text != "" {
				level := int(node[1] - '0')
				b.WriteString(strings.Repeat("#", level) + " " + text + "\n\n")
			}
		case "p", "pre", "blockquote", "td", "th":
			if text := collapse(s.Text()); text != "" {
				b.WriteString(text + "\n\n")
			}
		case "li":
			if text := collapse(ownText(s)); text != "" {
				b.WriteString("- " + text + "\n")
			}
		case "a":
			href, ok := s.Attr("href")
			text := collapse(s.Text())
			if ok && text != "" && strings.HasPrefix(href, "http") {
				b.WriteString(fmt.Sprintf("[%s](%s)\n", text, href))
			}
		case "article", "section", "div":
			// Container elements only contribute text they hold directly,
			// otherwise every ancestor would repeat its children.
			if text := collapse(ownText(s)); text != "" && len(text) > 2 {
				b.WriteString(text + "\n\n")
			}
		}
	})

	out := strings.TrimSpace(b.String())
	if out == "" {
		out = collapse(doc.Text())
	}
	return out
}

// Truncate caps s at limit runes, appending a marker carrying the
// original byte length so the model knows content was cut.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return fmt.Sprintf("%s... (truncated, total length: %d)", string(runes[:limit]), len(s))
}

// ownText returns the text held directly by the selection's nodes,
// excluding text belonging to child elements.
func ownText(s *goquery.Selection) string {
	var b strings.Builder
	for _, node := range s.Nodes {
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
				b.WriteString(" ")
			}
		}
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
