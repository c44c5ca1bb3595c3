// Package update defines the messages a session pushes to the host UI and
// to any other consumer of its state. These types are the wire contract of
// the /api/events stream.
package update

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/livepage/selection"
)

// Kind is the type of an update.
type Kind string

const (
	// KindSnapshot carries the document being streamed into the current
	// version.
	KindSnapshot Kind = "snapshot"
	// KindHistory reports that the version list or the current pointer moved.
	KindHistory Kind = "history"
	// KindState reports a change of session state (busy flag, edit mode,
	// selection, error).
	KindState Kind = "state"
)

// State is the user-visible session state.
type State struct {
	Busy               bool                 `json:"busy"`
	Operation          string               `json:"operation,omitempty"` // generate | edit
	RequestID          string               `json:"request_id,omitempty"`
	EditMode           bool                 `json:"edit_mode"`
	Selection          *selection.Selection `json:"selection,omitempty"`
	Error              string               `json:"error,omitempty"`
	CredentialRequired bool                 `json:"credential_required,omitempty"`
	Current            int                  `json:"current"`
	Versions           int                  `json:"versions"`
}

// Update is one pushed message.
type Update struct {
	ID        string `json:"id"`
	Seq       uint64 `json:"seq"`
	Kind      Kind   `json:"kind"`
	Current   int    `json:"current"`
	Versions  int    `json:"versions"`
	Document  string `json:"document,omitempty"`
	Hash      string `json:"hash,omitempty"`
	State     *State `json:"state,omitempty"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// Marshal serialises u to JSON.
func Marshal(u *Update) ([]byte, error) {
	return json.Marshal(u)
}

// Unmarshal deserialises an Update.
func Unmarshal(data []byte) (*Update, error) {
	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// HashDocument returns the SHA-256 hex digest of a snapshot.
func HashDocument(doc string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(doc)))
}
