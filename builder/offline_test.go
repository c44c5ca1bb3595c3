package builder

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hazyhaar/livepage/idgen"
	"github.com/hazyhaar/livepage/llm"
	"github.com/hazyhaar/livepage/locator"
	"github.com/hazyhaar/livepage/patch"
	"github.com/hazyhaar/livepage/selection"
)

func newOfflineSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(Config{RequestIDs: idgen.Sequence("req_"), UpdateIDs: idgen.Sequence("upd_")}, Deps{
		Credentials: staticCreds{key: "unused"},
		Backends:    Offline{ChunkSize: 7},
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestOffline_GenerateThenTextEdit(t *testing.T) {
	s := newOfflineSession(t)
	ctx := context.Background()

	if err := s.Generate(ctx, "Tea & <cakes>", ""); err != nil {
		t.Fatal(err)
	}
	_, doc := s.Current()
	if !strings.Contains(doc, "<h1 class=\"text-4xl font-bold\">Tea &amp; &lt;cakes&gt;</h1>") {
		t.Fatalf("prompt not escaped into the page: %s", doc)
	}
	if title, _ := Summarize(doc); title != "Tea & <cakes>" {
		t.Fatalf("title: got %q", title)
	}

	s.SetEditMode(true)
	s.HandleEvent(locator.TextSelected{Selector: "html > body > main > section > p", Text: "Describe what makes this special."})
	if err := s.Edit(ctx, "Fresh leaves every morning.", ""); err != nil {
		t.Fatal(err)
	}
	_, doc = s.Current()
	if !strings.Contains(doc, "<p>Fresh leaves every morning.</p>") || strings.Contains(doc, "Describe what") {
		t.Fatalf("text edit not applied: %s", doc)
	}
	if got := len(versions(s)); got != 3 {
		t.Fatalf("versions: got %d, want 3", got)
	}
}

func TestOffline_ElementEditFails(t *testing.T) {
	s := newOfflineSession(t)
	s.SetEditMode(true)
	s.HandleEvent(locator.ElementSelected{Selector: "html > body > h1"})

	err := s.Edit(context.Background(), "make it red", "")
	var re *llm.RequestError
	if !errors.As(err, &re) {
		t.Fatalf("error: got %v", err)
	}
	if got := len(versions(s)); got != 1 {
		t.Fatalf("versions: got %d, want 1", got)
	}
}

func TestOffline_TextEditTargetsSelectedElement(t *testing.T) {
	tests := []struct {
		name, prompt, text, repl string
		wantTitle, wantH1        string
	}{
		{"plain", "Acme", "Acme", "Beta",
			"<title>Acme</title>", `<h1 class="text-4xl font-bold">Beta</h1>`},
		{"entities", "Tea & cakes", "Tea & cakes", "Tea & scones",
			"<title>Tea &amp; cakes</title>", `<h1 class="text-4xl font-bold">Tea &amp; scones</h1>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newOfflineSession(t)
			ctx := context.Background()
			if err := s.Generate(ctx, tt.prompt, ""); err != nil {
				t.Fatal(err)
			}
			s.SetEditMode(true)
			s.HandleEvent(locator.TextSelected{Selector: "html > body > header > h1", Text: tt.text})
			if err := s.Edit(ctx, tt.repl, ""); err != nil {
				t.Fatal(err)
			}
			_, doc := s.Current()
			if !strings.Contains(doc, tt.wantTitle) {
				t.Errorf("title changed: got %s, want %q", doc, tt.wantTitle)
			}
			if !strings.Contains(doc, tt.wantH1) {
				t.Errorf("heading not edited: got %s, want %q", doc, tt.wantH1)
			}
		})
	}
}

func TestOffline_TextEditSecondOfIdenticalSiblings(t *testing.T) {
	doc := "<html><head></head><body><ul><li>Same</li><li>Same</li></ul></body></html>"
	e := offlineEdit{doc: doc, loc: "html > body > ul > li:nth-of-type(2)", orig: "Same", repl: "Other"}
	orig, repl, err := e.blocks()
	if err != nil {
		t.Fatal(err)
	}
	got, err := patch.Apply(doc, orig, repl)
	if err != nil {
		t.Fatal(err)
	}
	want := "<html><head></head><body><ul><li>Same</li><li>Other</li></ul></body></html>"
	if got != want {
		t.Fatalf("document: got %q, want %q", got, want)
	}
}

func TestOffline_TextOutsideElement(t *testing.T) {
	e := offlineEdit{doc: "<html><head><title>X</title></head><body><p>Y</p></body></html>", loc: "html > body > p", orig: "X", repl: "Z"}
	if _, _, err := e.blocks(); !errors.Is(err, errTextNotInElement) {
		t.Fatalf("error: got %v, want errTextNotInElement", err)
	}
}

func TestParseTextEdit(t *testing.T) {
	prompt := EditPrompt(`<p>a "b"</p>`, selection.EditRequest{
		Kind:         selection.KindText,
		Locator:      "html > body > p",
		OriginalText: `a "b"`,
		NewText:      "c\nd",
	}, "_|||_")
	e, ok := parseTextEdit(prompt)
	if !ok {
		t.Fatal("prompt not parsed")
	}
	if e.doc != `<p>a "b"</p>` || e.loc != "html > body > p" || e.orig != `a "b"` || e.repl != "c\nd" {
		t.Fatalf("got %+v", e)
	}
	if _, ok := parseTextEdit("no markers"); ok {
		t.Fatal("parsed a prompt without markers")
	}
}
