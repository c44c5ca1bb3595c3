package builder

import (
	"strings"
	"testing"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name, doc, title, excerpt string
	}{
		{
			name:    "title element",
			doc:     `<html><head><title>Cafe  Lumen</title><script>var x = "hidden";</script></head><body><h1>Welcome</h1><p>Fresh <b>coffee</b> daily.</p></body></html>`,
			title:   "Cafe Lumen",
			excerpt: "Welcome Fresh coffee daily.",
		},
		{
			name:    "heading fallback",
			doc:     `<body><h2>Pricing</h2><style>p{color:red}</style><p>From 5&euro;</p></body>`,
			title:   "Pricing",
			excerpt: "Pricing From 5€",
		},
		{
			name: "empty",
			doc:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, excerpt := Summarize(tt.doc)
			if title != tt.title {
				t.Errorf("title: got %q, want %q", title, tt.title)
			}
			if excerpt != tt.excerpt {
				t.Errorf("excerpt: got %q, want %q", excerpt, tt.excerpt)
			}
		})
	}
}

func TestSummarize_Clips(t *testing.T) {
	_, excerpt := Summarize("<p>" + strings.Repeat("word ", 100) + "</p>")
	if n := len([]rune(excerpt)); n > maxExcerpt {
		t.Fatalf("excerpt length: got %d", n)
	}
	if !strings.HasSuffix(excerpt, "…") {
		t.Fatalf("excerpt not marked as clipped: %q", excerpt)
	}
}

func TestVersions(t *testing.T) {
	s, _ := newSession(t, "", nil)
	vs := s.Versions()
	if len(vs) != 1 {
		t.Fatalf("versions: got %d", len(vs))
	}
	v := vs[0]
	if v.Index != 0 || !v.Current || v.Title != "livepage" || v.Bytes != len(WelcomeDocument) {
		t.Fatalf("summary: got %+v", v)
	}
}

func TestMarkdown(t *testing.T) {
	md, err := Markdown(`<html><body><h1>Hi</h1><p>there <a href="https://example.com">link</a></p><script>x()</script></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# Hi", "[link](https://example.com)"} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown lacks %q:\n%s", want, md)
		}
	}
	if strings.Contains(md, "x()") {
		t.Fatalf("script leaked into markdown:\n%s", md)
	}
}
