// Package client calls services found in a registry. Each call runs
// discover → schema filter → balancer pick → pooled transport → decode.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"graph-rpc/codec"
	"graph-rpc/loadbalance"
	"graph-rpc/message"
	"graph-rpc/middleware"
	"graph-rpc/registry"
	"graph-rpc/schema"
	"graph-rpc/transport"
)

var ErrClosed = errors.New("client: closed")

// ErrNoCompatibleInstance is returned when instances exist but none publishes
// the local schema fingerprint.
var ErrNoCompatibleInstance = errors.New("client: no instance with a matching schema")

// CallError is a failed call: the error text of the response, set by the
// remote handler, by the framework on either side, or by client middleware.
type CallError struct {
	ServiceMethod string
	Message       string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("rpc: %s: %s", e.ServiceMethod, e.Message)
}

type Option func(*Client)

// WithCodec selects the wire codec; the default is binary.
func WithCodec(ct codec.CodecType) Option {
	return func(c *Client) { c.codecType = ct }
}

// WithCodecOptions passes options to the codec, e.g. codec.WithJSONConfig.
func WithCodecOptions(opts ...codec.Option) Option {
	return func(c *Client) { c.codecOpts = append(c.codecOpts, opts...) }
}

// WithPoolSize bounds the connections kept per address.
func WithPoolSize(n int) Option {
	return func(c *Client) { c.poolSize = n }
}

// WithCompressThreshold compresses request bodies of at least n bytes.
func WithCompressThreshold(n int) Option {
	return func(c *Client) { c.compressAt = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMiddleware wraps every call, outermost first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Client) { c.middlewares = append(c.middlewares, mws...) }
}

// WithHeartbeat sets the heartbeat interval of new connections.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Client) { c.heartbeat = d }
}

type Client struct {
	schema      *schema.Registry
	registry    registry.Registry
	balancer    loadbalance.Balancer
	codecType   codec.CodecType
	codecOpts   []codec.Option
	codec       codec.Codec
	poolSize    int
	compressAt  int
	heartbeat   time.Duration
	logger      *slog.Logger
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	mu     sync.Mutex
	pools  map[string]*transport.Pool[*transport.ClientTransport] // one pool per instance address
	closed bool
}

// NewClient returns a client that discovers services in dir and encodes with
// entities from reg.
func NewClient(reg *schema.Registry, dir registry.Registry, bal loadbalance.Balancer, opts ...Option) *Client {
	c := &Client{
		schema:    reg,
		registry:  dir,
		balancer:  bal,
		codecType: codec.CodecTypeBinary,
		poolSize:  4,
		heartbeat: 30 * time.Second,
		logger:    slog.Default(),
		pools:     make(map[string]*transport.Pool[*transport.ClientTransport]),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.codec = codec.GetCodec(c.codecType, reg, c.codecOpts...)
	c.handler = middleware.Chain(c.middlewares...)(c.invoke)
	return c
}

// Codec returns the codec used for requests and replies.
func (c *Client) Codec() codec.Codec {
	return c.codec
}

// Call invokes serviceMethod ("Service.Method") with args and decodes the
// result into reply, which must point to a registered entity.
func (c *Client) Call(ctx context.Context, serviceMethod string, args, reply any) error {
	if _, _, ok := message.SplitServiceMethod(serviceMethod); !ok {
		return fmt.Errorf("client: invalid service method %q", serviceMethod)
	}
	payload, err := c.codec.Encode(args)
	if err != nil {
		return fmt.Errorf("client: encode args: %w", err)
	}
	req := &message.RPCMessage{ServiceMethod: serviceMethod, Payload: payload}
	if md, ok := message.MetadataFrom(ctx); ok {
		req.Metadata = md
	}

	resp := c.handler(ctx, req)
	if resp.Error != "" {
		return &CallError{ServiceMethod: serviceMethod, Message: resp.Error}
	}
	if err := c.codec.Decode(resp.Payload, reply); err != nil {
		return fmt.Errorf("client: decode reply: %w", err)
	}
	return nil
}

// invoke is the innermost handler: it picks an instance and does the round
// trip. Failures become error messages so middleware such as retry sees them.
func (c *Client) invoke(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	addr, err := c.pick(ctx, req.ServiceMethod)
	if err != nil {
		return message.Failed(req, err.Error())
	}
	pool, err := c.pool(addr)
	if err != nil {
		return message.Failed(req, err.Error())
	}
	t, err := pool.Get(ctx)
	for err == nil && t.Closed() {
		// An idle connection the peer has since closed.
		pool.Discard(t)
		t, err = pool.Get(ctx)
	}
	if err != nil {
		return message.Failed(req, fmt.Sprintf("%s: %v", message.ErrConnClosed, err))
	}

	resp, err := t.RoundTrip(ctx, req)
	if t.Closed() {
		pool.Discard(t)
	} else {
		pool.Put(t)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return message.Failed(req, message.ErrTimeout)
	case err != nil:
		return message.Failed(req, fmt.Sprintf("%s: %v", message.ErrConnClosed, err))
	}
	return resp
}

// pick discovers the instances of the service, drops those built against a
// different schema and asks the balancer for one.
func (c *Client) pick(ctx context.Context, serviceMethod string) (string, error) {
	service, _, ok := message.SplitServiceMethod(serviceMethod)
	if !ok {
		return "", fmt.Errorf("client: invalid service method %q", serviceMethod)
	}
	instances, err := c.registry.Discover(ctx, service)
	if err != nil {
		return "", fmt.Errorf("client: discover %s: %w", service, err)
	}
	compatible := registry.FilterSchema(instances, c.schema.FingerprintHex())
	if len(compatible) == 0 && len(instances) > 0 {
		c.logger.Warn("no instance with matching schema",
			"service", service, "instances", len(instances), "fingerprint", c.schema.FingerprintHex())
		return "", ErrNoCompatibleInstance
	}
	inst, err := c.balancer.Pick(serviceMethod, compatible)
	if err != nil {
		return "", fmt.Errorf("client: %s: %w", service, err)
	}
	return inst.Addr, nil
}

func (c *Client) pool(addr string) (*transport.Pool[*transport.ClientTransport], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	p, ok := c.pools[addr]
	if !ok {
		p = transport.NewPool(c.poolSize,
			func(ctx context.Context) (*transport.ClientTransport, error) {
				c.logger.Debug("dialing", "addr", addr)
				return transport.Dial(ctx, addr, c.codec,
					transport.WithHeartbeat(c.heartbeat),
					transport.WithCompressThreshold(c.compressAt),
					transport.WithLogger(c.logger))
			},
			func(t *transport.ClientTransport) error { return t.Close() },
		)
		c.pools[addr] = p
	}
	return p, nil
}

// Close closes the idle connections; those in use close when their call
// returns.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var errs []error
	for addr, p := range c.pools {
		errs = append(errs, p.Close())
		delete(c.pools, addr)
	}
	return errors.Join(errs...)
}
