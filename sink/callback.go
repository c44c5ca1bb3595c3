package sink

import (
	"context"

	"github.com/hazyhaar/livepage/update"
)

// Func is called for each update.
type Func func(ctx context.Context, u update.Update) error

// Callback delivers updates through a Go function call.
type Callback struct {
	fn Func
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn Func) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Send(ctx context.Context, u update.Update) error {
	if c.fn != nil {
		return c.fn(ctx, u)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
