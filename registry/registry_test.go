package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceEncoding(t *testing.T) {
	inst := ServiceInstance{
		Addr:     "127.0.0.1:8001",
		Weight:   10,
		Version:  "1.0",
		Schema:   "abcd",
		Metadata: map[string]string{"zone": "a"},
	}
	data, err := encodeInstance(inst)
	require.NoError(t, err)
	assert.JSONEq(t, `{"addr":"127.0.0.1:8001","meta":{"zone":"a"},"schema":"abcd","version":"1.0","weight":10}`, string(data))

	got, err := decodeInstance(data)
	require.NoError(t, err)
	assert.Equal(t, inst, got)

	_, err = decodeInstance([]byte(`{"addr":`))
	assert.Error(t, err)
}

func TestFilterSchema(t *testing.T) {
	instances := []ServiceInstance{
		{Addr: ":1", Schema: "aa"},
		{Addr: ":2", Schema: "bb"},
		{Addr: ":3"},
	}
	got := FilterSchema(instances, "aa")
	require.Len(t, got, 2)
	assert.Equal(t, ":1", got[0].Addr)
	assert.Equal(t, ":3", got[1].Addr)
	assert.Len(t, instances, 3)
}

func TestMemoryRegistry(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	defer reg.Close()

	require.NoError(t, reg.Register(ctx, "Arith", ServiceInstance{Addr: "127.0.0.1:8002", Weight: 5}, time.Second))
	require.NoError(t, reg.Register(ctx, "Arith", ServiceInstance{Addr: "127.0.0.1:8001", Weight: 10}, time.Second))

	instances, err := reg.Discover(ctx, "Arith")
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "127.0.0.1:8001", instances[0].Addr)

	require.NoError(t, reg.Deregister(ctx, "Arith", "127.0.0.1:8001"))
	instances, err = reg.Discover(ctx, "Arith")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "127.0.0.1:8002", instances[0].Addr)

	instances, err = reg.Discover(ctx, "Missing")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestMemoryRegistryWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reg := NewMemoryRegistry()
	defer reg.Close()

	ch, err := reg.Watch(ctx, "Arith")
	require.NoError(t, err)
	assert.Empty(t, <-ch)

	require.NoError(t, reg.Register(ctx, "Arith", ServiceInstance{Addr: ":1"}, time.Second))
	select {
	case list := <-ch:
		require.Len(t, list, 1)
		assert.Equal(t, ":1", list[0].Addr)
	case <-time.After(time.Second):
		t.Fatal("no update after Register")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryRegistryClosed(t *testing.T) {
	reg := NewMemoryRegistry()
	require.NoError(t, reg.Close())
	require.NoError(t, reg.Close())
	assert.ErrorIs(t, reg.Register(context.Background(), "Arith", ServiceInstance{Addr: ":1"}, time.Second), ErrClosed)
	_, err := reg.Discover(context.Background(), "Arith")
	assert.ErrorIs(t, err, ErrClosed)
}

// TestEtcdRegistry needs a live etcd; set GRAPHRPC_ETCD_ENDPOINTS to run it.
func TestEtcdRegistry(t *testing.T) {
	endpoints := os.Getenv("GRAPHRPC_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("GRAPHRPC_ETCD_ENDPOINTS not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reg, err := NewEtcdRegistry(strings.Split(endpoints, ","))
	require.NoError(t, err)
	defer reg.Close()

	inst1 := ServiceInstance{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0"}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"}
	require.NoError(t, reg.Register(ctx, "ArithTest", inst1, 10*time.Second))
	require.NoError(t, reg.Register(ctx, "ArithTest", inst2, 10*time.Second))

	instances, err := reg.Discover(ctx, "ArithTest")
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	require.NoError(t, reg.Deregister(ctx, "ArithTest", inst1.Addr))
	instances, err = reg.Discover(ctx, "ArithTest")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, inst2.Addr, instances[0].Addr)

	require.NoError(t, reg.Deregister(ctx, "ArithTest", inst2.Addr))
}
