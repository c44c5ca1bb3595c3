package builder

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	maxTitle   = 80
	maxExcerpt = 160
)

// VersionSummary describes one snapshot for the version picker.
type VersionSummary struct {
	Index   int    `json:"index"`
	Current bool   `json:"current"`
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
	Bytes   int    `json:"bytes"`
}

var strict = bluemonday.StrictPolicy()

// Summarize returns the title and a plain-text excerpt of doc. The title is
// the <title> text, falling back to the first heading.
func Summarize(doc string) (title, excerpt string) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", clip(plain(doc), maxExcerpt)
	}

	title = textOf(find(root, atom.Title))
	if title == "" {
		for _, a := range []atom.Atom{atom.H1, atom.H2, atom.H3} {
			if title = textOf(find(root, a)); title != "" {
				break
			}
		}
	}

	body := find(root, atom.Body)
	if body == nil {
		body = root
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, body); err != nil {
		return clip(title, maxTitle), ""
	}
	return clip(title, maxTitle), clip(plain(buf.String()), maxExcerpt)
}

// plain strips every tag and collapses whitespace. Tags are padded first so
// adjacent blocks do not run together.
func plain(s string) string {
	s = strict.Sanitize(strings.ReplaceAll(s, "<", " <"))
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := find(c, a); f != nil {
			return f
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
