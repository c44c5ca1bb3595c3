package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/livepage/update"
)

// Stdout writes updates as JSON lines to an io.Writer (default os.Stdout).
// Snapshot documents are omitted unless full is set: they repeat the whole
// page on every chunk.
type Stdout struct {
	mu   sync.Mutex
	enc  *json.Encoder
	full bool
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer, full bool) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w), full: full}
}

func (s *Stdout) Send(_ context.Context, u update.Update) error {
	if !s.full {
		u.Document = ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(u)
}

func (s *Stdout) Close() error { return nil }
