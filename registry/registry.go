// Package registry keeps track of which addresses serve which services.
//
// Instances carry the schema fingerprint of the process that registered them, so
// a client only routes calls to servers built from the same entity model.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"graph-rpc/codec"
	"graph-rpc/schema"
)

// ServiceInstance is one address serving a service.
type ServiceInstance struct {
	Addr     string
	Weight   int // relative share for weighted balancing
	Version  string
	Schema   string            // schema fingerprint (hex) of the serving process; empty if unknown
	Metadata map[string]string `wire:"meta"`
}

// Registry is a service directory. Implementations must be safe for concurrent use.
type Registry interface {
	// Register publishes instance under serviceName. The entry disappears when
	// the ttl lapses without renewal; implementations renew it until Deregister.
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl time.Duration) error
	Deregister(ctx context.Context, serviceName, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list after every change until ctx is done.
	Watch(ctx context.Context, serviceName string) (<-chan []ServiceInstance, error)
	Close() error
}

var ErrClosed = errors.New("registry: closed")

// FilterSchema keeps the instances whose fingerprint matches, plus those that
// did not publish one.
func FilterSchema(instances []ServiceInstance, fingerprint string) []ServiceInstance {
	out := instances[:0:0]
	for _, inst := range instances {
		if inst.Schema == "" || inst.Schema == fingerprint {
			out = append(out, inst)
		}
	}
	return out
}

// instanceCodec encodes registry entries with the engine's own JSON form.
var instanceCodec = sync.OnceValue(func() *codec.JSONCodec {
	reg := schema.MustBuild(schema.Options{Entities: []any{ServiceInstance{}}})
	cfg := codec.DefaultJSONConfig()
	cfg.KeyFormat = schema.KeyCamel
	return codec.NewJSONCodec(reg, cfg)
})

func encodeInstance(inst ServiceInstance) ([]byte, error) {
	return instanceCodec().Encode(&inst)
}

func decodeInstance(data []byte) (ServiceInstance, error) {
	var inst ServiceInstance
	err := instanceCodec().Decode(data, &inst)
	return inst, err
}
