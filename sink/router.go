package sink

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/livepage/update"
)

// Router fans updates out to several sinks. A failing sink does not stop
// delivery to the others: errors are logged and the first one is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Add appends a sink.
func (r *Router) Add(s Sink) { r.sinks = append(r.sinks, s) }

func (r *Router) Send(ctx context.Context, u update.Update) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Send(ctx, u); err != nil {
			r.logger.Warn("sink: send failed", "kind", u.Kind, "seq", u.Seq, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
