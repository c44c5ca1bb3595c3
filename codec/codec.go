// Package codec turns the raw text chunks streamed by a generation backend
// into document states.
//
// Generation responses are plain documents: Decode yields the accumulated
// text after every chunk. Edit responses have the shape
//
//	<original block><sentinel><new block>
//
// and DecodeEdit splits them into one Original fragment followed by
// Replacement increments. The sentinel may straddle chunk boundaries.
package codec

import (
	"bytes"
	"errors"
	"iter"
	"strings"
)

// DefaultSentinel separates the original block from the new block.
const DefaultSentinel = "_|||_"

var (
	// ErrMalformedEditResponse is returned when an edit stream ends without
	// ever containing the sentinel.
	ErrMalformedEditResponse = errors.New("codec: edit response has no sentinel")
	// ErrEmptySentinel is returned when DecodeEdit is given an empty sentinel.
	ErrEmptySentinel = errors.New("codec: empty sentinel")
)

// Part tells which side of the sentinel a fragment belongs to.
type Part int

const (
	// Original is the verbatim block to be replaced. Exactly one per stream.
	Original Part = iota
	// Replacement is an increment of the new block.
	Replacement
)

func (p Part) String() string {
	if p == Original {
		return "original"
	}
	return "replacement"
}

// Fragment is one decoded piece of an edit response.
type Fragment struct {
	Part Part
	Text string
}

// Decode yields the full accumulated text after each upstream chunk. An
// upstream error is yielded once and ends the sequence.
func Decode(chunks iter.Seq2[string, error]) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var b strings.Builder
		for chunk, err := range chunks {
			if err != nil {
				yield("", err)
				return
			}
			b.WriteString(chunk)
			if !yield(b.String(), nil) {
				return
			}
		}
	}
}

// DecodeEdit splits an edit response stream around sentinel. Nothing is
// yielded until the sentinel has been seen; if the stream ends without it the
// only value yielded is ErrMalformedEditResponse.
func DecodeEdit(chunks iter.Seq2[string, error], sentinel string) iter.Seq2[Fragment, error] {
	return func(yield func(Fragment, error) bool) {
		d, err := NewEditDecoder(sentinel)
		if err != nil {
			yield(Fragment{}, err)
			return
		}
		for chunk, err := range chunks {
			if err != nil {
				yield(Fragment{}, err)
				return
			}
			for _, f := range d.Write(chunk) {
				if !yield(f, nil) {
					return
				}
			}
		}
		if err := d.Finish(); err != nil {
			yield(Fragment{}, err)
		}
	}
}

// EditDecoder is the push form of DecodeEdit. It buffers chunks until the
// sentinel appears and passes everything after it straight through.
type EditDecoder struct {
	sentinel []byte
	buf      []byte
	scanned  int
	found    bool
}

// NewEditDecoder returns a decoder splitting on sentinel.
func NewEditDecoder(sentinel string) (*EditDecoder, error) {
	if sentinel == "" {
		return nil, ErrEmptySentinel
	}
	return &EditDecoder{sentinel: []byte(sentinel)}, nil
}

// Write feeds one chunk and returns the fragments it completes. Empty
// replacement increments are dropped.
func (d *EditDecoder) Write(chunk string) []Fragment {
	if d.found {
		if chunk == "" {
			return nil
		}
		return []Fragment{{Part: Replacement, Text: chunk}}
	}

	d.buf = append(d.buf, chunk...)
	// Only the tail that may hold a sentinel straddling the previous chunk
	// needs rescanning.
	from := max(0, d.scanned-len(d.sentinel)+1)
	i := bytes.Index(d.buf[from:], d.sentinel)
	if i < 0 {
		d.scanned = len(d.buf)
		return nil
	}
	i += from
	d.found = true

	out := []Fragment{{Part: Original, Text: string(d.buf[:i])}}
	if rest := d.buf[i+len(d.sentinel):]; len(rest) > 0 {
		out = append(out, Fragment{Part: Replacement, Text: string(rest)})
	}
	d.buf = nil
	return out
}

// Found reports whether the sentinel has been seen.
func (d *EditDecoder) Found() bool { return d.found }

// Finish ends the stream. It returns ErrMalformedEditResponse when the
// sentinel never appeared.
func (d *EditDecoder) Finish() error {
	if !d.found {
		return ErrMalformedEditResponse
	}
	return nil
}
