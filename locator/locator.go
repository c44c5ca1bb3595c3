// Package locator computes and resolves the element paths that the preview
// surface reports when the user picks an element or selects text.
//
// A locator is a root-to-leaf chain of segments joined by " > ". Each segment
// is a lower-cased tag name, optionally suffixed with ":nth-of-type(k)" when
// the element is not the first sibling with that tag. The walk stops at the
// first ancestor carrying an id, which is emitted as "tag#id":
//
//	div#hero > h1
//	html > body > section:nth-of-type(2) > p
//
// The same algorithm runs inside the preview (locator.js) and here on parsed
// documents, so both sides agree on a locator for a given structure.
package locator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Separator joins locator segments.
const Separator = " > "

var (
	// ErrMalformedLocator is returned when a locator cannot be parsed.
	ErrMalformedLocator = errors.New("locator: malformed locator")
	// ErrNotFound is returned when a locator matches no element.
	ErrNotFound = errors.New("locator: no element matches")
)

// Compute returns the locator of n. Non-element nodes (text, comments) are
// located through their nearest element ancestor. Returns "" when n has no
// element ancestor.
func Compute(n *html.Node) string {
	for n != nil && n.Type != html.ElementNode {
		n = n.Parent
	}
	if n == nil {
		return ""
	}

	var segs []string
	for el := n; el != nil && el.Type == html.ElementNode; el = el.Parent {
		tag := strings.ToLower(el.Data)
		if id := attr(el, "id"); id != "" {
			segs = append(segs, tag+"#"+id)
			break
		}
		if k := nthOfType(el); k > 1 {
			tag += ":nth-of-type(" + strconv.Itoa(k) + ")"
		}
		segs = append(segs, tag)
	}

	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return strings.Join(segs, Separator)
}

// nthOfType returns 1 plus the number of preceding element siblings sharing
// the tag name of el.
func nthOfType(el *html.Node) int {
	tag := strings.ToLower(el.Data)
	k := 1
	for s := el.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode && strings.ToLower(s.Data) == tag {
			k++
		}
	}
	return k
}

// segment is one parsed step of a locator.
type segment struct {
	tag string
	id  string
	nth int
}

func parse(loc string) ([]segment, error) {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedLocator)
	}
	parts := strings.Split(loc, Separator)
	segs := make([]segment, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("%w: empty segment at %d", ErrMalformedLocator, i)
		}
		var s segment
		if tag, id, ok := strings.Cut(p, "#"); ok {
			// Only the first segment may be id-anchored: Compute stops there.
			if i != 0 || id == "" || tag == "" {
				return nil, fmt.Errorf("%w: unexpected id in %q", ErrMalformedLocator, p)
			}
			s.tag, s.id, s.nth = strings.ToLower(tag), id, 1
			segs = append(segs, s)
			continue
		}
		s.tag, s.nth = p, 1
		if tag, rest, ok := strings.Cut(p, ":nth-of-type("); ok {
			num, ok := strings.CutSuffix(rest, ")")
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrMalformedLocator, p)
			}
			k, err := strconv.Atoi(num)
			if err != nil || k < 1 {
				return nil, fmt.Errorf("%w: bad index in %q", ErrMalformedLocator, p)
			}
			s.tag, s.nth = tag, k
		}
		if s.tag == "" || strings.ContainsAny(s.tag, " .[]:") {
			return nil, fmt.Errorf("%w: %q", ErrMalformedLocator, p)
		}
		s.tag = strings.ToLower(s.tag)
		segs = append(segs, s)
	}
	return segs, nil
}

// Resolve returns the element of doc addressed by loc. It is the inverse of
// Compute for locators computed on a document with the same structure.
func Resolve(doc *html.Node, loc string) (*html.Node, error) {
	segs, err := parse(loc)
	if err != nil {
		return nil, err
	}

	var cur *html.Node
	first := segs[0]
	if first.id != "" {
		cur = findByID(doc, first.tag, first.id)
	} else if doc.Type == html.ElementNode {
		// A bare element root is addressed by its own tag.
		if strings.ToLower(doc.Data) == first.tag && first.nth == 1 {
			cur = doc
		}
	} else {
		cur = nthChild(doc, first.tag, first.nth)
	}
	if cur == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, loc)
	}

	for _, s := range segs[1:] {
		cur = nthChild(cur, s.tag, s.nth)
		if cur == nil {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, loc)
		}
	}
	return cur, nil
}

// ResolveString parses doc and resolves loc against it.
func ResolveString(doc, loc string) (*html.Node, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("locator: parse document: %w", err)
	}
	return Resolve(root, loc)
}

// OuterHTML renders n with its subtree.
func OuterHTML(n *html.Node) string {
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		return ""
	}
	return b.String()
}

func nthChild(parent *html.Node, tag string, k int) *html.Node {
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || strings.ToLower(c.Data) != tag {
			continue
		}
		k--
		if k == 0 {
			return c
		}
	}
	return nil
}

func findByID(n *html.Node, tag, id string) *html.Node {
	if n.Type == html.ElementNode && strings.ToLower(n.Data) == tag && attr(n, "id") == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, tag, id); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
