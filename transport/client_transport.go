// Package transport implements the client-side transport layer with multiplexing and heartbeat.
//
// ClientTransport runs many concurrent RPC calls over a single TCP connection.
// Each request gets a unique sequence ID, and a background goroutine (recvLoop)
// reads responses and routes them to the waiting caller by that ID.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] chan ← response → goroutine-2 wakes up
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"graph-rpc/codec"
	"graph-rpc/message"
	"graph-rpc/protocol"
)

var ErrClosed = errors.New("transport: " + message.ErrConnClosed)

// Option configures a ClientTransport.
type Option func(*ClientTransport)

// WithHeartbeat sets the heartbeat interval; zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(t *ClientTransport) { t.heartbeat = d }
}

// WithCompressThreshold compresses request bodies of at least n bytes; zero
// disables compression.
func WithCompressThreshold(n int) Option {
	return func(t *ClientTransport) { t.compressAt = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *ClientTransport) { t.logger = l }
}

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn       net.Conn
	codec      codec.Codec
	heartbeat  time.Duration
	compressAt int
	logger     *slog.Logger

	seq     uint32     // protected by sending
	pending sync.Map   // map[uint32]chan *message.RPCMessage, one channel per request
	sending sync.Mutex // serializes frame writes; interleaved frames corrupt the stream

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewClientTransport wraps conn and starts two background goroutines:
//   - recvLoop: reads responses and dispatches them to pending callers
//   - heartbeatLoop: sends periodic heartbeat frames to detect dead connections
func NewClientTransport(conn net.Conn, c codec.Codec, opts ...Option) *ClientTransport {
	t := &ClientTransport{
		conn:      conn,
		codec:     c,
		heartbeat: 30 * time.Second,
		logger:    slog.Default(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.recvLoop()
	if t.heartbeat > 0 {
		go t.heartbeatLoop(t.heartbeat)
	}
	return t
}

// Dial connects to addr and wraps the connection.
func Dial(ctx context.Context, addr string, c codec.Codec, opts ...Option) (*ClientTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewClientTransport(conn, c, opts...), nil
}

// Codec returns the codec requests are encoded with.
func (t *ClientTransport) Codec() codec.Codec {
	return t.codec
}

// Send encodes args as the payload of a request for serviceMethod and writes
// it. It returns the sequence number and a channel that receives the response.
func (t *ClientTransport) Send(serviceMethod string, args any) (uint32, <-chan *message.RPCMessage, error) {
	payload, err := t.codec.Encode(args)
	if err != nil {
		return 0, nil, fmt.Errorf("transport: encode args: %w", err)
	}
	return t.send(&message.RPCMessage{ServiceMethod: serviceMethod, Payload: payload})
}

func (t *ClientTransport) send(req *message.RPCMessage) (uint32, <-chan *message.RPCMessage, error) {
	if t.closed.Load() {
		return 0, nil, ErrClosed
	}
	body, err := t.codec.Encode(req)
	if err != nil {
		return 0, nil, fmt.Errorf("transport: encode request: %w", err)
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	t.seq++
	seq := t.seq
	header := protocol.Header{
		CodecType:  t.codec.Type(),
		MsgType:    protocol.MsgTypeRequest,
		Compressed: t.compressAt > 0 && len(body) >= t.compressAt,
		Seq:        seq,
	}

	// Register the response channel before writing, or recvLoop could see the
	// response first. Buffered so recvLoop never blocks on a caller.
	respChan := make(chan *message.RPCMessage, 1)
	t.pending.Store(seq, respChan)

	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.pending.Delete(seq)
		t.Close()
		return 0, nil, fmt.Errorf("transport: write: %w", err)
	}
	// The connection may have failed between the closed check and Store; the
	// failure path has already drained pending by then.
	if t.closed.Load() {
		if _, ok := t.pending.LoadAndDelete(seq); ok {
			return 0, nil, ErrClosed
		}
	}
	return seq, respChan, nil
}

// RoundTrip sends req and waits for its response or for ctx to end. A response
// that arrives after ctx ends is discarded.
func (t *ClientTransport) RoundTrip(ctx context.Context, req *message.RPCMessage) (*message.RPCMessage, error) {
	seq, ch, err := t.send(req)
	if err != nil {
		return nil, err
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		t.pending.Delete(seq)
		return nil, ctx.Err()
	}
}

// recvLoop is the only reader of the connection: TCP is a byte stream and frame
// boundaries can only be found by reading sequentially.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			if !t.closed.Load() {
				t.logger.Debug("transport read failed", "remote", t.conn.RemoteAddr().String(), "err", err)
			}
			t.Close()
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}

		channel, ok := t.pending.LoadAndDelete(header.Seq)
		if !ok {
			continue // caller gave up
		}
		resp := &message.RPCMessage{}
		if header.CodecType != t.codec.Type() {
			resp.Error = fmt.Sprintf("%s: response encoded as %s, expected %s", message.ErrBadRequest, header.CodecType, t.codec.Type())
		} else if err := t.codec.Decode(body, resp); err != nil {
			resp = &message.RPCMessage{Error: fmt.Sprintf("%s: decode response: %v", message.ErrBadRequest, err)}
		}
		channel.(chan *message.RPCMessage) <- resp
	}
}

// Close closes the connection and fails every pending call. It is safe to call
// more than once.
func (t *ClientTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)
		err = t.conn.Close()
		t.pending.Range(func(key, value any) bool {
			if _, ok := t.pending.LoadAndDelete(key); ok {
				value.(chan *message.RPCMessage) <- &message.RPCMessage{Error: message.ErrConnClosed}
			}
			return true
		})
	})
	return err
}

// Closed reports whether the connection has been closed or has failed.
func (t *ClientTransport) Closed() bool {
	return t.closed.Load()
}

// Conn returns the underlying TCP connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// heartbeatLoop sends bodiless heartbeat frames so idle connections stay open
// and dead ones are noticed.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{CodecType: t.codec.Type(), MsgType: protocol.MsgTypeHeartbeat}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			t.Close()
			return
		}
	}
}
