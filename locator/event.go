package locator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Message types posted by the preview script.
const (
	TypeElementSelected = "elementSelected"
	TypeTextSelected    = "textSelected"
)

var (
	// ErrUnknownMessage is returned for messages with an unrecognised type.
	ErrUnknownMessage = errors.New("locator: unknown message type")
	// ErrMalformedMessage is returned when a message lacks required fields.
	ErrMalformedMessage = errors.New("locator: malformed message")
)

// Event is a selection reported by the preview. The concrete type is either
// ElementSelected or TextSelected.
type Event interface {
	Locator() string
	isEvent()
}

// ElementSelected reports a click on an element.
type ElementSelected struct {
	Selector string `json:"selector"`
}

// TextSelected reports a non-empty text selection and the locator of the
// element containing its anchor.
type TextSelected struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

func (e ElementSelected) Locator() string { return e.Selector }
func (e TextSelected) Locator() string    { return e.Selector }

func (ElementSelected) isEvent() {}
func (TextSelected) isEvent()    {}

// Handler receives decoded events. Delivery is one-way: a handler has no
// channel back into the preview.
type Handler func(Event)

// Message is the wire form of an event.
type Message struct {
	Type     string `json:"type"`
	Selector string `json:"selector"`
	Text     string `json:"text,omitempty"`
}

// DecodeMessage decodes a JSON message posted by the preview script.
func DecodeMessage(data []byte) (Event, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return m.Event()
}

// Event validates m and converts it to its typed form.
func (m Message) Event() (Event, error) {
	if strings.TrimSpace(m.Selector) == "" && (m.Type == TypeElementSelected || m.Type == TypeTextSelected) {
		return nil, fmt.Errorf("%w: empty selector", ErrMalformedMessage)
	}
	switch m.Type {
	case TypeElementSelected:
		return ElementSelected{Selector: m.Selector}, nil
	case TypeTextSelected:
		text := strings.TrimSpace(m.Text)
		if text == "" {
			return nil, fmt.Errorf("%w: empty text selection", ErrMalformedMessage)
		}
		return TextSelected{Selector: m.Selector, Text: text}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
}

// EncodeEvent returns the wire form of e.
func EncodeEvent(e Event) Message {
	switch ev := e.(type) {
	case ElementSelected:
		return Message{Type: TypeElementSelected, Selector: ev.Selector}
	case TextSelected:
		return Message{Type: TypeTextSelected, Selector: ev.Selector, Text: ev.Text}
	}
	return Message{}
}
