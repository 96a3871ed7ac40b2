package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"graph-rpc/message"
)

// RateLimitMiddleware admits r calls per second with bursts of up to burst,
// using a token bucket. Calls over the limit are rejected, not queued.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			if !limiter.Allow() {
				return message.Failed(req, message.ErrRateLimited)
			}
			return next(ctx, req)
		}
	}
}
