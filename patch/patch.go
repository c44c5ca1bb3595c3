// Package patch applies "replace this original block with that new block"
// edits to a document snapshot. Matching is byte-exact: no normalisation,
// no parsing.
package patch

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEditAlignment is returned when the original block does not occur in
// the base document.
var ErrEditAlignment = errors.New("patch: original block not found in document")

// AlignmentError carries the block that failed to align.
type AlignmentError struct {
	Block string
}

func (e *AlignmentError) Error() string {
	const limit = 80
	b := e.Block
	if len(b) > limit {
		b = b[:limit] + "..."
	}
	return fmt.Sprintf("%v: %q", ErrEditAlignment, b)
}

func (e *AlignmentError) Unwrap() error { return ErrEditAlignment }

// Apply returns base with the first occurrence of original replaced by
// replacement. The replacement is inserted literally. base is not modified.
// An empty original never aligns.
func Apply(base, original, replacement string) (string, error) {
	i := index(base, original)
	if i < 0 {
		return "", &AlignmentError{Block: original}
	}
	return base[:i] + replacement + base[i+len(original):], nil
}

// index locates original in base. An empty block aligns with nothing: it
// would otherwise splice the replacement at offset 0.
func index(base, original string) int {
	if original == "" {
		return -1
	}
	return strings.Index(base, original)
}

// Applier applies a streamed replacement incrementally. The original block
// is verified once; each Append recomputes the document from the untouched
// base.
type Applier struct {
	base     string
	original string
	at       int
	repl     strings.Builder
}

// NewApplier verifies that original occurs in base.
func NewApplier(base, original string) (*Applier, error) {
	i := index(base, original)
	if i < 0 {
		return nil, &AlignmentError{Block: original}
	}
	return &Applier{base: base, original: original, at: i}, nil
}

// Append grows the new block by inc and returns the resulting document.
func (a *Applier) Append(inc string) string {
	a.repl.WriteString(inc)
	return a.Document()
}

// Document returns base with the original block replaced by the new block
// received so far.
func (a *Applier) Document() string {
	return a.base[:a.at] + a.repl.String() + a.base[a.at+len(a.original):]
}

// Replacement returns the new block received so far.
func (a *Applier) Replacement() string { return a.repl.String() }

// Original returns the verified original block.
func (a *Applier) Original() string { return a.original }
