package middleware

import (
	"context"
	"log/slog"
	"time"

	"graph-rpc/message"
)

// RetryMiddleware repeats a call that failed with a transient error (see
// message.Retryable) up to maxRetries more times, sleeping baseDelay, 2*baseDelay,
// 4*baseDelay... in between. It stops early when ctx is done.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			resp := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if resp.Error == "" || !message.Retryable(resp.Error) {
					return resp
				}
				delay := baseDelay << i
				logger.DebugContext(ctx, "retrying rpc",
					"method", req.ServiceMethod, "attempt", i+1, "delay", delay, "err", resp.Error)

				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return resp
				case <-timer.C:
				}
				resp = next(ctx, req)
			}
			return resp
		}
	}
}
