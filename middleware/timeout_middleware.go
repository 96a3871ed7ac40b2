package middleware

import (
	"context"
	"time"

	"graph-rpc/message"
)

// TimeoutMiddleware bounds a call to timeout. The handler sees the deadline on
// its ctx; if it has not returned in time the caller gets a timeout response
// and the handler's eventual result is dropped.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.RPCMessage, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.Failed(req, message.ErrTimeout)
			}
		}
	}
}
