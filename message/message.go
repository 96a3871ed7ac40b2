// Package message defines the RPC envelope exchanged between client and server.
//
// RPCMessage is itself a registered entity: the frame body is the envelope
// encoded with the connection's codec, and Payload holds the args or reply
// entity encoded with the same codec.
package message

import (
	"context"
	"strings"

	"graph-rpc/schema"
)

// RPCMessage carries the data for a single RPC request or response.
//
//   - On request:  ServiceMethod is set, Payload contains the encoded args, Error is empty.
//   - On response: Payload contains the encoded reply, Error is non-empty if the call failed.
type RPCMessage struct {
	ServiceMethod string            // "Service.Method", e.g. "Arith.Add"
	Error         string            // set when the call failed on the server
	Payload       []byte            // encoded args (request) or reply (response)
	Metadata      map[string]string // free-form request metadata, echoed on the response
}

// Error texts produced by the framework itself rather than by a handler. The
// retry middleware treats the transient ones as retryable.
const (
	ErrTimeout        = "request timed out"
	ErrRateLimited    = "rate limit exceeded"
	ErrConnClosed     = "connection closed"
	ErrUnknownService = "unknown service"
	ErrUnknownMethod  = "unknown method"
	ErrBadRequest     = "bad request"
)

// Register adds the envelope to the entities of a registry about to be built.
// Every registry shared by client and server must include it.
func Register(opts *schema.Options) {
	opts.Entities = append(opts.Entities, RPCMessage{})
}

// Failed builds an error response for req.
func Failed(req *RPCMessage, reason string) *RPCMessage {
	resp := &RPCMessage{Error: reason}
	if req != nil {
		resp.ServiceMethod = req.ServiceMethod
		resp.Metadata = req.Metadata
	}
	return resp
}

// Retryable reports whether an error text describes a transient failure.
func Retryable(errText string) bool {
	for _, s := range []string{ErrTimeout, ErrRateLimited, ErrConnClosed, "connection refused", "connection reset"} {
		if strings.Contains(errText, s) {
			return true
		}
	}
	return false
}

// SplitServiceMethod splits "Service.Method".
func SplitServiceMethod(serviceMethod string) (service, method string, ok bool) {
	service, method, ok = strings.Cut(serviceMethod, ".")
	if !ok || service == "" || method == "" || strings.Contains(method, ".") {
		return "", "", false
	}
	return service, method, true
}

type metadataKey struct{}

// WithMetadata attaches request metadata to ctx. The client sends it with each
// call; the server hands the received metadata to context-aware methods.
func WithMetadata(ctx context.Context, md map[string]string) context.Context {
	return context.WithValue(ctx, metadataKey{}, md)
}

func MetadataFrom(ctx context.Context) (map[string]string, bool) {
	md, ok := ctx.Value(metadataKey{}).(map[string]string)
	return md, ok
}
