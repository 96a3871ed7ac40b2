package server

import (
	"context"
	"fmt"
	"go/token"
	"reflect"

	"graph-rpc/schema"
)

// methodType is one callable RPC method. Both shapes are accepted:
//
//	func (s *Svc) Method(args *Args, reply *Reply) error
//	func (s *Svc) Method(ctx context.Context, args *Args, reply *Reply) error
type methodType struct {
	method    reflect.Method
	withCtx   bool
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// newService scans rcvr for RPC methods. Every args and reply type must be a
// registered entity of reg, and at least one method must qualify.
func newService(rcvr any, reg *schema.Registry) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Pointer {
		return nil, fmt.Errorf("rpc: rcvr must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("rpc: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	name := typ.Elem().Name()
	if !token.IsExported(name) {
		return nil, fmt.Errorf("rpc: service type %s is not exported", typ.Elem())
	}
	svc := &service{
		name:   name,
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	if err := svc.registerMethods(reg); err != nil {
		return nil, err
	}
	if len(svc.method) == 0 {
		return nil, fmt.Errorf("rpc: %s has no method of the form Method(*Args, *Reply) error", name)
	}
	return svc, nil
}

// registerMethods keeps the exported methods with an RPC signature.
func (s *service) registerMethods(reg *schema.Registry) error {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumOut() != 1 || mt.Out(0) != errorType {
			continue
		}
		first := 1
		withCtx := mt.NumIn() == 4 && mt.In(1) == contextType
		if withCtx {
			first = 2
		} else if mt.NumIn() != 3 {
			continue
		}
		argType, replyType := mt.In(first), mt.In(first+1)
		if argType.Kind() != reflect.Pointer || replyType.Kind() != reflect.Pointer {
			continue
		}
		for _, t := range []reflect.Type{argType.Elem(), replyType.Elem()} {
			if _, ok := reg.EntityOf(t); !ok {
				return &schema.SchemaError{
					Type:   s.name + "." + method.Name,
					Reason: fmt.Sprintf("%s is not a registered entity", t),
				}
			}
		}
		s.method[method.Name] = &methodType{
			method:    method,
			withCtx:   withCtx,
			ArgType:   argType.Elem(),
			ReplyType: replyType.Elem(),
		}
	}
	return nil
}

// call invokes the method via reflection. A panic in the method is returned as
// an error.
func (s *service) call(ctx context.Context, mType *methodType, argv, replyv reflect.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rpc: %s.%s panicked: %v", s.name, mType.method.Name, r)
		}
	}()
	args := make([]reflect.Value, 0, 4)
	args = append(args, s.rcvr)
	if mType.withCtx {
		args = append(args, reflect.ValueOf(ctx))
	}
	args = append(args, argv, replyv)
	results := mType.method.Func.Call(args)
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}
