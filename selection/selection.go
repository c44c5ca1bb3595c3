// Package selection holds the user's pending pick in the preview and turns
// it, together with an instruction, into a typed edit request.
package selection

import (
	"errors"
	"strings"
	"sync"

	"github.com/hazyhaar/livepage/locator"
)

var (
	// ErrNoSelection is returned when an edit is requested with nothing selected.
	ErrNoSelection = errors.New("selection: nothing selected")
	// ErrEmptyInput is returned when the instruction is blank.
	ErrEmptyInput = errors.New("selection: empty instruction")
)

// Kind is the kind of selection.
type Kind string

const (
	KindElement Kind = "element"
	KindText    Kind = "text"
)

// Selection is a pending pick made in the preview.
type Selection struct {
	Kind    Kind   `json:"kind"`
	Locator string `json:"locator"`
	Text    string `json:"text,omitempty"`
}

// EditRequest describes one targeted edit. Element requests carry an
// Instruction; text requests carry OriginalText and NewText.
type EditRequest struct {
	Kind         Kind   `json:"kind"`
	Locator      string `json:"locator"`
	Instruction  string `json:"instruction,omitempty"`
	OriginalText string `json:"original_text,omitempty"`
	NewText      string `json:"new_text,omitempty"`
}

// FromEvent converts a preview event into a selection.
func FromEvent(ev locator.Event) Selection {
	switch e := ev.(type) {
	case locator.TextSelected:
		return Selection{Kind: KindText, Locator: e.Selector, Text: e.Text}
	default:
		return Selection{Kind: KindElement, Locator: ev.Locator()}
	}
}

// DefaultInstruction is the text the instruction input is pre-filled with:
// the selected text for text selections, nothing for elements.
func DefaultInstruction(s Selection) string {
	if s.Kind == KindText {
		return s.Text
	}
	return ""
}

// Mapper holds at most one pending selection. It is safe for concurrent use.
type Mapper struct {
	mu      sync.Mutex
	pending *Selection
}

// Select replaces any pending selection with the one described by ev.
func (m *Mapper) Select(ev locator.Event) Selection {
	s := FromEvent(ev)
	m.mu.Lock()
	m.pending = &s
	m.mu.Unlock()
	return s
}

// Pending returns the pending selection, if any.
func (m *Mapper) Pending() (Selection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return Selection{}, false
	}
	return *m.pending, true
}

// Clear drops the pending selection.
func (m *Mapper) Clear() {
	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
}

// Take builds the edit request for the pending selection and clears it. A
// blank instruction leaves the selection in place so the user can retry.
func (m *Mapper) Take(instruction string) (EditRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return EditRequest{}, ErrNoSelection
	}
	if strings.TrimSpace(instruction) == "" {
		return EditRequest{}, ErrEmptyInput
	}
	req := Build(*m.pending, instruction)
	m.pending = nil
	return req, nil
}

// Build maps a selection and an instruction to an edit request.
func Build(s Selection, instruction string) EditRequest {
	req := EditRequest{Kind: s.Kind, Locator: s.Locator}
	if s.Kind == KindText {
		req.OriginalText = s.Text
		req.NewText = instruction
	} else {
		req.Instruction = instruction
	}
	return req
}
