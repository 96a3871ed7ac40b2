package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graph-rpc/codec"
	"graph-rpc/message"
	"graph-rpc/schema"
	"graph-rpc/server"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

func (a *Arith) Wait(ctx context.Context, args *Args, reply *Reply) error {
	select {
	case <-time.After(time.Duration(args.A) * time.Millisecond):
	case <-ctx.Done():
	}
	return nil
}

func newTestRegistry(t testing.TB) *schema.Registry {
	t.Helper()
	opts := schema.Options{Entities: []any{Args{}, Reply{}}}
	message.Register(&opts)
	reg, err := schema.Build(opts)
	require.NoError(t, err)
	return reg
}

func startServer(t testing.TB, reg *schema.Registry) string {
	t.Helper()
	svr := server.NewServer(reg)
	require.NoError(t, svr.Register(&Arith{}))
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go svr.ServeListener(l, "", nil)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return l.Addr().String()
}

func decodeReply(t *testing.T, c codec.Codec, resp *message.RPCMessage) Reply {
	t.Helper()
	require.Empty(t, resp.Error)
	var reply Reply
	require.NoError(t, c.Decode(resp.Payload, &reply))
	return reply
}

func TestClientTransportSerial(t *testing.T) {
	reg := newTestRegistry(t)
	addr := startServer(t, reg)

	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary} {
		c := codec.GetCodec(ct, reg)
		tr, err := Dial(context.Background(), addr, c)
		require.NoError(t, err)

		cases := []struct{ a, b, expect int }{
			{1, 2, 3},
			{10, 20, 30},
			{100, 200, 300},
		}
		for _, tc := range cases {
			_, ch, err := tr.Send("Arith.Add", &Args{A: tc.a, B: tc.b})
			require.NoError(t, err)
			assert.Equal(t, tc.expect, decodeReply(t, c, <-ch).Result)
		}
		require.NoError(t, tr.Close())
	}
}

// Many requests in flight on one connection at once.
func TestClientTransportConcurrent(t *testing.T) {
	reg := newTestRegistry(t)
	addr := startServer(t, reg)
	c := codec.GetCodec(codec.CodecTypeBinary, reg)
	tr, err := Dial(context.Background(), addr, c, WithCompressThreshold(8))
	require.NoError(t, err)
	defer tr.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, ch, err := tr.Send("Arith.Add", &Args{A: n, B: n})
			if !assert.NoError(t, err) {
				return
			}
			resp := <-ch
			if !assert.Empty(t, resp.Error) {
				return
			}
			var reply Reply
			if assert.NoError(t, c.Decode(resp.Payload, &reply)) {
				assert.Equal(t, n*2, reply.Result)
			}
		}(i)
	}
	wg.Wait()
}

func TestRoundTripContext(t *testing.T) {
	reg := newTestRegistry(t)
	addr := startServer(t, reg)
	c := codec.GetCodec(codec.CodecTypeBinary, reg)
	tr, err := Dial(context.Background(), addr, c)
	require.NoError(t, err)
	defer tr.Close()

	payload, err := c.Encode(&Args{A: 200})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = tr.RoundTrip(ctx, &message.RPCMessage{ServiceMethod: "Arith.Wait", Payload: payload})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The connection stays usable.
	payload, err = c.Encode(&Args{A: 2, B: 3})
	require.NoError(t, err)
	resp, err := tr.RoundTrip(context.Background(), &message.RPCMessage{ServiceMethod: "Arith.Add", Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, 5, decodeReply(t, c, resp).Result)
}

func TestCloseFailsPending(t *testing.T) {
	reg := newTestRegistry(t)
	addr := startServer(t, reg)
	c := codec.GetCodec(codec.CodecTypeBinary, reg)
	tr, err := Dial(context.Background(), addr, c)
	require.NoError(t, err)

	_, ch, err := tr.Send("Arith.Wait", &Args{A: 300})
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	assert.Equal(t, message.ErrConnClosed, (<-ch).Error)
	assert.True(t, tr.Closed())

	_, _, err = tr.Send("Arith.Add", &Args{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, tr.Close())
}

func TestSendRejectsUnregisteredArgs(t *testing.T) {
	reg := newTestRegistry(t)
	client, srv := net.Pipe()
	defer srv.Close()
	tr := NewClientTransport(client, codec.GetCodec(codec.CodecTypeBinary, reg), WithHeartbeat(0))
	defer tr.Close()

	_, _, err := tr.Send("Arith.Add", struct{ A int }{1})
	assert.ErrorIs(t, err, schema.ErrSchema)
}

func TestPool(t *testing.T) {
	var created, destroyed atomic.Int32
	p := NewPool(2,
		func(context.Context) (int, error) { return int(created.Add(1)), nil },
		func(int) error { destroyed.Add(1); return nil },
	)
	ctx := context.Background()

	a, err := p.Get(ctx)
	require.NoError(t, err)
	b, err := p.Get(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, p.Size())

	// At capacity: Get waits for a Put or for ctx.
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = p.Get(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.Put(a)
	again, err := p.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, again)

	p.Discard(b)
	assert.Equal(t, 1, p.Size())
	c, err := p.Get(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, c)

	p.Put(again)
	require.NoError(t, p.Close())
	assert.EqualValues(t, 2, destroyed.Load())
	_, err = p.Get(ctx)
	assert.ErrorIs(t, err, ErrPoolClosed)

	p.Put(c)
	assert.EqualValues(t, 3, destroyed.Load())
	assert.Zero(t, p.Size())
}

func TestPoolFactoryError(t *testing.T) {
	boom := errors.New("dial failed")
	p := NewPool(1,
		func(context.Context) (int, error) { return 0, boom },
		func(int) error { return nil },
	)
	_, err := p.Get(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, p.Size())
}
