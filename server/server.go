// Package server implements the RPC server with service registration, middleware chain,
// parallel request processing, and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Codec.Decode → Middleware Chain → businessHandler (reflect.Call) → Codec.Encode → write response
//
// Args and replies are registered entities; the payload is decoded and encoded
// with whichever codec the request frame names.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"graph-rpc/codec"
	"graph-rpc/message"
	"graph-rpc/middleware"
	"graph-rpc/protocol"
	"graph-rpc/registry"
	"graph-rpc/schema"
)

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithCodecOptions passes options to the codecs requests are decoded with.
func WithCodecOptions(opts ...codec.Option) Option {
	return func(s *Server) { s.codecOpts = append(s.codecOpts, opts...) }
}

// WithCompressThreshold compresses responses of at least n bytes. Responses to
// compressed requests are always compressed. Zero disables the threshold.
func WithCompressThreshold(n int) Option {
	return func(s *Server) { s.compressAt = n }
}

// WithRegistration sets the lease TTL, weight and version published to the
// service registry.
func WithRegistration(ttl time.Duration, weight int, version string) Option {
	return func(s *Server) {
		s.ttl, s.weight, s.version = ttl, weight, version
	}
}

// Server is the RPC server that registers services and handles incoming requests.
type Server struct {
	reg       *schema.Registry
	codecOpts []codec.Option
	codecs    map[codec.CodecType]codec.Codec
	logger    *slog.Logger

	mu         sync.RWMutex
	serviceMap map[string]*service // "Arith" → *service

	listener    net.Listener
	wg          sync.WaitGroup // in-flight requests, for graceful shutdown
	shutdown    atomic.Bool    // set before closing the listener so Accept errors are expected
	connMu      sync.Mutex     // guards listener and conns
	conns       map[net.Conn]struct{}
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(middleware(...(businessHandler)))
	compressAt  int

	registry      registry.Registry // nil without service discovery
	advertiseAddr string            // address published to the registry; must be routable
	ttl           time.Duration
	weight        int
	version       string
}

type codecKey struct{}

// NewServer creates a server whose services exchange entities of reg. reg must
// include the message envelope (see message.Register).
func NewServer(reg *schema.Registry, opts ...Option) *Server {
	s := &Server{
		reg:        reg,
		logger:     slog.Default(),
		serviceMap: make(map[string]*service),
		conns:      make(map[net.Conn]struct{}),
		ttl:        10 * time.Second,
		weight:     1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.codecs = map[codec.CodecType]codec.Codec{
		codec.CodecTypeJSON:   codec.GetCodec(codec.CodecTypeJSON, reg, s.codecOpts...),
		codec.CodecTypeBinary: codec.GetCodec(codec.CodecTypeBinary, reg, s.codecOpts...),
	}
	return s
}

// Register registers a service receiver (e.g. &Arith{}). Its exported methods
// with an RPC signature become callable as "Arith.Method".
func (svr *Server) Register(rcvr any) error {
	svc, err := newService(rcvr, svr.reg)
	if err != nil {
		return err
	}
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if _, dup := svr.serviceMap[svc.name]; dup {
		return fmt.Errorf("rpc: service %s already registered", svc.name)
	}
	svr.serviceMap[svc.name] = svc
	svr.logger.Debug("service registered", "service", svc.name, "methods", len(svc.method))
	return nil
}

// Use registers a middleware. Middlewares are applied in the order they are
// added and must be registered before Serve.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on address and serves until Shutdown. See ServeListener.
func (svr *Server) Serve(network, address, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener publishes every service to reg (when non-nil) under
// advertiseAddr and runs the accept loop on listener. It returns nil after
// Shutdown.
//
// advertiseAddr differs from the listen address because ":8080" is not
// routable from other hosts; empty means the listener's own address.
func (svr *Server) ServeListener(listener net.Listener, advertiseAddr string, reg registry.Registry) error {
	svr.connMu.Lock()
	svr.listener = listener
	svr.connMu.Unlock()
	// Build the middleware chain once at startup, not per request.
	svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)

	if advertiseAddr == "" {
		advertiseAddr = listener.Addr().String()
	}
	svr.advertiseAddr = advertiseAddr
	if reg != nil {
		svr.registry = reg
		instance := registry.ServiceInstance{
			Addr:    advertiseAddr,
			Weight:  svr.weight,
			Version: svr.version,
			Schema:  svr.reg.FingerprintHex(),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		for _, serviceName := range svr.serviceNames() {
			if err := reg.Register(ctx, serviceName, instance, svr.ttl); err != nil {
				cancel()
				listener.Close()
				return fmt.Errorf("rpc: register %s: %w", serviceName, err)
			}
		}
		cancel()
	}
	svr.logger.Info("server listening", "addr", listener.Addr().String(), "advertise", advertiseAddr,
		"schema", svr.reg.FingerprintHex())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		svr.trackConn(conn, true)
		go svr.handleConn(conn)
	}
}

// Addr returns the listener address once serving has started.
func (svr *Server) Addr() net.Addr {
	svr.connMu.Lock()
	defer svr.connMu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

func (svr *Server) serviceNames() []string {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	names := make([]string, 0, len(svr.serviceMap))
	for name := range svr.serviceMap {
		names = append(names, name)
	}
	return names
}

func (svr *Server) trackConn(conn net.Conn, add bool) {
	svr.connMu.Lock()
	defer svr.connMu.Unlock()
	if add {
		svr.conns[conn] = struct{}{}
	} else {
		delete(svr.conns, conn)
	}
}

// handleConn reads frames from one connection. Reads are sequential, since
// frame boundaries are only known by reading in order, but each request is
// handled on its own goroutine so a slow handler does not block the others.
// writeMu is shared by those goroutines so response frames never interleave.
func (svr *Server) handleConn(conn net.Conn) {
	defer func() {
		svr.trackConn(conn, false)
		conn.Close()
	}()
	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !svr.shutdown.Load() {
				svr.logger.Debug("connection closed", "remote", conn.RemoteAddr().String(), "err", err)
			}
			return
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		if header.MsgType != protocol.MsgTypeRequest {
			svr.logger.Warn("unexpected frame", "remote", conn.RemoteAddr().String(), "type", header.MsgType.String())
			continue
		}
		svr.wg.Add(1)
		go svr.handleRequest(header, body, conn, writeMu)
	}
}

// handleRequest decodes one request, runs it through the middleware chain and
// writes the response. Only the business handler sits inside the chain; codec
// and framing stay outside it.
func (svr *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	defer svr.wg.Done()

	c := svr.codecs[header.CodecType]
	var resp *message.RPCMessage
	req := &message.RPCMessage{}
	if err := c.Decode(body, req); err != nil {
		svr.logger.Warn("undecodable request", "remote", conn.RemoteAddr().String(), "codec", header.CodecType.String(), "err", err)
		resp = message.Failed(nil, fmt.Sprintf("%s: %v", message.ErrBadRequest, err))
	} else {
		ctx := context.WithValue(context.Background(), codecKey{}, c)
		resp = svr.handler(ctx, req)
	}

	result, err := c.Encode(resp)
	if err != nil {
		svr.logger.Error("failed to encode response", "method", req.ServiceMethod, "err", err)
		if result, err = c.Encode(message.Failed(req, "encode response: "+err.Error())); err != nil {
			return
		}
	}

	// Same seq as the request: this is how the client matches responses.
	replyHeader := protocol.Header{
		CodecType:  header.CodecType,
		MsgType:    protocol.MsgTypeResponse,
		Compressed: header.Compressed || (svr.compressAt > 0 && len(result) >= svr.compressAt),
		Seq:        header.Seq,
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := protocol.Encode(conn, &replyHeader, result); err != nil {
		svr.logger.Debug("failed to write response", "method", req.ServiceMethod, "err", err)
	}
}

// Shutdown performs graceful shutdown:
//  1. Deregister all services (clients stop routing to this server)
//  2. Set the shutdown flag so the Accept error is recognized as intentional
//  3. Close the listener (stop accepting new connections)
//  4. Wait for in-flight requests to finish (with timeout), then close connections
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		for _, serviceName := range svr.serviceNames() {
			if err := svr.registry.Deregister(ctx, serviceName, svr.advertiseAddr); err != nil {
				svr.logger.Warn("deregister failed", "service", serviceName, "err", err)
			}
		}
		cancel()
	}

	// The flag must be set before Close, or Serve would report the Accept error.
	svr.shutdown.Store(true)
	svr.connMu.Lock()
	if svr.listener != nil {
		svr.listener.Close()
	}
	svr.connMu.Unlock()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("rpc: timeout waiting for ongoing requests to finish")
	}

	svr.connMu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.connMu.Unlock()
	svr.logger.Info("server stopped", "addr", svr.advertiseAddr, "err", err)
	return err
}

// businessHandler dispatches a request to its service method. It is the
// innermost HandlerFunc of the middleware chain.
//
// Flow: parse "Service.Method" → find service → find method → reflect.New(args) →
// decode payload → reflect.Call → encode reply → return RPCMessage
func (svr *Server) businessHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	serviceName, methodName, ok := message.SplitServiceMethod(req.ServiceMethod)
	if !ok {
		return message.Failed(req, fmt.Sprintf("%s: invalid service method %q", message.ErrBadRequest, req.ServiceMethod))
	}

	svr.mu.RLock()
	svc := svr.serviceMap[serviceName]
	svr.mu.RUnlock()
	if svc == nil {
		return message.Failed(req, fmt.Sprintf("%s: %s", message.ErrUnknownService, serviceName))
	}
	method := svc.method[methodName]
	if method == nil {
		return message.Failed(req, fmt.Sprintf("%s: %s", message.ErrUnknownMethod, req.ServiceMethod))
	}

	c, _ := ctx.Value(codecKey{}).(codec.Codec)
	if c == nil {
		c = svr.codecs[codec.CodecTypeBinary]
	}

	if req.Metadata != nil {
		ctx = message.WithMetadata(ctx, req.Metadata)
	}
	argv := reflect.New(method.ArgType)
	replyv := reflect.New(method.ReplyType)
	if err := c.Decode(req.Payload, argv.Interface()); err != nil {
		return message.Failed(req, fmt.Sprintf("%s: decode args: %v", message.ErrBadRequest, err))
	}

	resp := &message.RPCMessage{ServiceMethod: req.ServiceMethod, Metadata: req.Metadata}
	if err := svc.call(ctx, method, argv, replyv); err != nil {
		resp.Error = err.Error()
		return resp
	}
	payload, err := c.Encode(replyv.Interface())
	if err != nil {
		resp.Error = "encode reply: " + err.Error()
		return resp
	}
	resp.Payload = payload
	return resp
}
