package locator

import (
	"errors"
	"testing"
)

func TestDecodeMessage_Element(t *testing.T) {
	ev, err := DecodeMessage([]byte(`{"type":"elementSelected","selector":"div#hero > h1"}`))
	if err != nil {
		t.Fatal(err)
	}
	el, ok := ev.(ElementSelected)
	if !ok {
		t.Fatalf("type: got %T, want ElementSelected", ev)
	}
	if el.Selector != "div#hero > h1" {
		t.Fatalf("selector: got %q", el.Selector)
	}
}

func TestDecodeMessage_Text(t *testing.T) {
	ev, err := DecodeMessage([]byte(`{"type":"textSelected","selector":"html > body > p","text":"  Hello  "}`))
	if err != nil {
		t.Fatal(err)
	}
	ts, ok := ev.(TextSelected)
	if !ok {
		t.Fatalf("type: got %T, want TextSelected", ev)
	}
	if ts.Text != "Hello" {
		t.Fatalf("text: got %q, want %q", ts.Text, "Hello")
	}
	if ts.Locator() != "html > body > p" {
		t.Fatalf("locator: got %q", ts.Locator())
	}
}

func TestDecodeMessage_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"not json", `{`, ErrMalformedMessage},
		{"unknown type", `{"type":"scroll","selector":"html"}`, ErrUnknownMessage},
		{"empty selector", `{"type":"elementSelected","selector":" "}`, ErrMalformedMessage},
		{"blank text", `{"type":"textSelected","selector":"html","text":"   "}`, ErrMalformedMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(tt.data))
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEncodeEvent(t *testing.T) {
	m := EncodeEvent(TextSelected{Selector: "html > body", Text: "hi"})
	ev, err := m.Event()
	if err != nil {
		t.Fatal(err)
	}
	if ev != (TextSelected{Selector: "html > body", Text: "hi"}) {
		t.Fatalf("got %#v", ev)
	}
}
