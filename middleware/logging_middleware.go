package middleware

import (
	"context"
	"log/slog"
	"time"

	"graph-rpc/message"
)

// LoggingMiddleware logs every call with its duration, at warn level when the
// response carries an error. A nil logger means slog.Default().
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, req)
			attrs := []any{
				"method", req.ServiceMethod,
				"duration", time.Since(start),
				"request_bytes", len(req.Payload),
			}
			if resp.Error != "" {
				logger.WarnContext(ctx, "rpc failed", append(attrs, "err", resp.Error)...)
			} else {
				logger.InfoContext(ctx, "rpc", append(attrs, "response_bytes", len(resp.Payload))...)
			}
			return resp
		}
	}
}
