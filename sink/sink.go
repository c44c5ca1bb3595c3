// Package sink delivers session updates to their consumers: the SSE hub
// feeding the host UI, JSON lines on a writer, webhooks, or in-process
// callbacks.
package sink

import (
	"context"

	"github.com/hazyhaar/livepage/update"
)

// Sink is the output interface.
type Sink interface {
	Send(ctx context.Context, u update.Update) error
	Close() error
}

// Discard drops every update.
var Discard Sink = discard{}

type discard struct{}

func (discard) Send(context.Context, update.Update) error { return nil }
func (discard) Close() error                              { return nil }
