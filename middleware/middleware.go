// Package middleware wraps RPC handlers in the onion model:
//
//	Chain(A, B, C)(handler) == A(B(C(handler)))
//	A.before → B.before → C.before → handler → C.after → B.after → A.after
//
// The same HandlerFunc shape serves the server, around the business handler,
// and the client, around the network round trip.
package middleware

import (
	"context"

	"graph-rpc/message"
)

type HandlerFunc func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines several middlewares into one. The first one listed runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
