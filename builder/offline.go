package builder

import (
	"context"
	"errors"
	"iter"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/livepage/codec"
	"github.com/hazyhaar/livepage/llm"
	"github.com/hazyhaar/livepage/locator"
)

// Offline is a backend that needs no model. Generations render the prompt
// into a fixed layout; text edits are applied literally. Instruction edits
// on elements fail.
type Offline struct {
	// Sentinel must match the session's. Default: codec.DefaultSentinel.
	Sentinel string
	// Delay is slept between chunks to mimic streaming.
	Delay time.Duration
	// ChunkSize is the number of bytes per chunk. Default: 48.
	ChunkSize int
}

func (Offline) Name() string { return "offline" }

// Backend returns o for any key.
func (o Offline) Backend(string) (llm.Backend, error) { return o, nil }

func (o Offline) Stream(ctx context.Context, r llm.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		body, err := o.respond(r)
		if err != nil {
			yield("", err)
			return
		}
		size := o.ChunkSize
		if size <= 0 {
			size = 48
		}
		for len(body) > 0 {
			n := min(size, len(body))
			if o.Delay > 0 {
				select {
				case <-time.After(o.Delay):
				case <-ctx.Done():
					yield("", ctx.Err())
					return
				}
			}
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(body[:n], nil) {
				return
			}
			body = body[n:]
		}
	}
}

func (o Offline) respond(r llm.Request) (string, error) {
	if r.SystemInstruction == generateInstruction {
		return offlinePage(r.Prompt), nil
	}
	sentinel := o.Sentinel
	if sentinel == "" {
		sentinel = codec.DefaultSentinel
	}
	e, ok := parseTextEdit(r.Prompt)
	if !ok {
		return "", &llm.RequestError{Message: "offline mode only applies text edits; select some text instead"}
	}
	orig, repl, err := e.blocks()
	if err != nil {
		return "", &llm.RequestError{Message: "offline mode could not find the selected text in its element", Err: err}
	}
	return orig + sentinel + repl, nil
}

var (
	errElementNotInSource = errors.New("builder: element not found in document source")
	errTextNotInElement   = errors.New("builder: text not found in element")
)

// offlineEdit is a text edit recovered from an edit prompt.
type offlineEdit struct {
	doc, loc   string
	orig, repl string
}

// parseTextEdit extracts the document, locator and quoted text pair of a
// text edit prompt.
func parseTextEdit(prompt string) (offlineEdit, bool) {
	const (
		docOpen, docClose = "```html\n", "\n```\n\n"
		locOpen           = "CSS selector: `"
		origMarker        = "The original text is: "
		replMarker        = ". The new text should be: "
	)
	var e offlineEdit
	_, rest, found := strings.Cut(prompt, docOpen)
	if !found {
		return e, false
	}
	i := strings.LastIndex(rest, docClose)
	if i < 0 {
		return e, false
	}
	e.doc, rest = rest[:i], rest[i+len(docClose):]

	_, rest, found = strings.Cut(rest, locOpen)
	if !found {
		return e, false
	}
	e.loc, rest, found = strings.Cut(rest, "`")
	if !found {
		return e, false
	}

	_, rest, found = strings.Cut(rest, origMarker)
	if !found {
		return e, false
	}
	q, err := strconv.QuotedPrefix(rest)
	if err != nil {
		return e, false
	}
	rest = strings.TrimPrefix(rest[len(q):], replMarker)
	q2, err := strconv.QuotedPrefix(rest)
	if err != nil {
		return e, false
	}
	e.orig, _ = strconv.Unquote(q)
	e.repl, _ = strconv.Unquote(q2)
	return e, true
}

// blocks returns an original block that starts at the selected element's
// start tag and ends after the selected text, so its first occurrence in the
// document is inside that element.
func (e offlineEdit) blocks() (orig, repl string, err error) {
	start, end, err := elementSpan(e.doc, e.loc)
	if err != nil {
		return "", "", err
	}
	text, newText := e.orig, e.repl
	i := strings.Index(e.doc[start:end], text)
	if i < 0 {
		// The preview reports decoded text; the source may hold entities.
		text, newText = html.EscapeString(e.orig), html.EscapeString(e.repl)
		i = strings.Index(e.doc[start:end], text)
	}
	if i < 0 || text == "" {
		return "", "", errTextNotInElement
	}
	textStart := start + i
	textEnd := textStart + len(text)
	blockStart := start
	if strings.Index(e.doc, e.doc[blockStart:textEnd]) != blockStart {
		blockStart = 0
	}
	return e.doc[blockStart:textEnd], e.doc[blockStart:textStart] + newText, nil
}

// elementSpan returns the byte range of the element at loc in the document
// source. The element is matched to its start tag by its rank among elements
// of the same tag name in document order.
func elementSpan(doc, loc string) (start, end int, err error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return 0, 0, err
	}
	n, err := locator.Resolve(root, loc)
	if err != nil {
		return 0, 0, err
	}
	tag, rank := n.Data, -1
	seen := 0
	for c := range root.Descendants() {
		if c.Type != html.ElementNode || c.Data != tag {
			continue
		}
		if c == n {
			rank = seen
			break
		}
		seen++
	}

	z := html.NewTokenizer(strings.NewReader(doc))
	off, depth := 0, 0
	start, seen = -1, 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		size := len(z.Raw())
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if string(name) != tag {
				break
			}
			if start >= 0 {
				if tt == html.StartTagToken {
					depth++
				}
				break
			}
			if seen == rank {
				start = off
				if tt == html.SelfClosingTagToken {
					return start, off + size, nil
				}
				depth = 1
			}
			seen++
		case html.EndTagToken:
			if start < 0 {
				break
			}
			if name, _ := z.TagName(); string(name) == tag {
				if depth--; depth == 0 {
					return start, off + size, nil
				}
			}
		}
		off += size
	}
	if start < 0 {
		return 0, 0, errElementNotInSource
	}
	return start, len(doc), nil
}

func offlinePage(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	p := html.EscapeString(prompt)
	return `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>` + html.EscapeString(clip(prompt, maxTitle)) + `</title>
<script src="https://cdn.tailwindcss.com"></script>
</head>
<body class="bg-slate-50 text-slate-800">
<header class="max-w-4xl mx-auto px-6 py-10">
<h1 class="text-4xl font-bold">` + p + `</h1>
<p class="mt-4 text-lg text-slate-600">A draft generated offline. Select any text in edit mode to change it.</p>
</header>
<main class="max-w-4xl mx-auto px-6 grid gap-6 md:grid-cols-3">
<section class="rounded-xl bg-white p-6 shadow"><h2 class="font-semibold">First feature</h2><p>Describe what makes this special.</p></section>
<section class="rounded-xl bg-white p-6 shadow"><h2 class="font-semibold">Second feature</h2><p>Explain how it works.</p></section>
<section class="rounded-xl bg-white p-6 shadow"><h2 class="font-semibold">Third feature</h2><p>Tell visitors what to do next.</p></section>
</main>
<footer class="max-w-4xl mx-auto px-6 py-10 text-sm text-slate-500">Made with livepage.</footer>
</body>
</html>
`
}
