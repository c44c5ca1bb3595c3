package kit

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"
)

// Logging returns a middleware that logs every call with its duration and
// transport.
func Logging(logger *slog.Logger) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			dur := time.Since(start)

			if err != nil {
				logger.WarnContext(ctx, "call failed",
					"transport", GetTransport(ctx),
					"duration_ms", dur.Milliseconds(),
					"error", err)
			} else {
				logger.DebugContext(ctx, "call ok",
					"transport", GetTransport(ctx),
					"duration_ms", dur.Milliseconds())
			}
			return resp, err
		}
	}
}

// Recovery returns a middleware that turns a panic in the endpoint into an
// *ErrPanic.
func Recovery(logger *slog.Logger) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (resp any, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "endpoint panic recovered",
						"panic", r,
						"stack", string(debug.Stack()))
					err = &ErrPanic{Value: r}
				}
			}()
			return next(ctx, req)
		}
	}
}

// ErrPanic wraps a recovered panic value.
type ErrPanic struct {
	Value any
}

func (e *ErrPanic) Error() string {
	return "kit: endpoint panicked"
}

// Default is the middleware stack wrapped around every MCP tool.
func Default(logger *slog.Logger) Middleware {
	return Chain(Recovery(logger), Logging(logger))
}
