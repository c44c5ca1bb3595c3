package llm

import (
	"context"
	"iter"
	"sync"
	"time"
)

// Scripted replays canned responses without any network. It serves the
// offline mode and tests.
type Scripted struct {
	// Delay is slept between chunks.
	Delay time.Duration

	mu        sync.Mutex
	responses [][]string
	errs      []error
	requests  []Request
}

// NewScripted returns a backend that answers successive calls with
// successive responses, each given as its chunks. The last response is
// repeated once the script is exhausted.
func NewScripted(responses ...[]string) *Scripted {
	return &Scripted{responses: responses}
}

// FailWith makes the next call yield err after its chunks.
func (s *Scripted) FailWith(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

// Requests returns the requests received so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Scripted) Name() string { return "scripted" }

func (s *Scripted) Stream(ctx context.Context, r Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		s.mu.Lock()
		s.requests = append(s.requests, r)
		var chunks []string
		if len(s.responses) > 0 {
			chunks = s.responses[0]
			if len(s.responses) > 1 {
				s.responses = s.responses[1:]
			}
		}
		var failure error
		if len(s.errs) > 0 {
			failure, s.errs = s.errs[0], s.errs[1:]
		}
		s.mu.Unlock()

		for _, c := range chunks {
			if s.Delay > 0 {
				select {
				case <-time.After(s.Delay):
				case <-ctx.Done():
					yield("", ctx.Err())
					return
				}
			}
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(c, nil) {
				return
			}
		}
		if failure != nil {
			yield("", failure)
		}
	}
}
