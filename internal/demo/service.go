package demo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

func (a *Arith) Sub(args *Args, reply *Reply) error {
	reply.Result = args.A - args.B
	return nil
}

func (a *Arith) Mul(args *Args, reply *Reply) error {
	reply.Result = args.A * args.B
	return nil
}

func (a *Arith) Div(args *Args, reply *Reply) error {
	if args.B == 0 {
		return errors.New("division by zero")
	}
	reply.Result = args.A / args.B
	return nil
}

// Sleep waits A milliseconds, or until the call is cancelled.
func (a *Arith) Sleep(ctx context.Context, args *Args, reply *Reply) error {
	select {
	case <-time.After(time.Duration(args.A) * time.Millisecond):
		reply.Result = args.A
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var ErrOrderNotFound = errors.New("order not found")

// Orders keeps orders in memory.
type Orders struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*Order
	now    func() time.Time
}

func NewOrders() *Orders {
	return &Orders{
		nextID: 1,
		orders: make(map[int64]*Order),
		now:    time.Now,
	}
}

// Place stores a new order. The ID and placement time are assigned here.
func (s *Orders) Place(order *Order, reply *OrderID) error {
	if len(order.Items) == 0 {
		return errors.New("order has no items")
	}
	for _, it := range order.Items {
		if it.Quantity <= 0 {
			return fmt.Errorf("item %s: quantity must be positive", it.SKU)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *order
	stored.ID = s.nextID
	stored.Status = StatusPending
	stored.Placed = s.now().UTC().Truncate(time.Second)
	s.nextID++
	s.orders[stored.ID] = &stored
	reply.ID = stored.ID
	return nil
}

func (s *Orders) Get(id *OrderID, reply *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id.ID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, id.ID)
	}
	*reply = *o
	return nil
}

// List returns the orders matching q in ID order. A zero Customer matches all.
func (s *Orders) List(q *OrderQuery, reply *OrderList) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reply.Orders = make([]*Order, 0, len(s.orders))
	for _, o := range s.orders {
		if q.Status != nil && o.Status != *q.Status {
			continue
		}
		if q.Customer != 0 && o.Customer.ID != q.Customer {
			continue
		}
		cp := *o
		reply.Orders = append(reply.Orders, &cp)
	}
	sort.Slice(reply.Orders, func(i, j int) bool { return reply.Orders[i].ID < reply.Orders[j].ID })
	return nil
}

// SetStatus moves an order forward. Shipped and cancelled orders are final.
func (s *Orders) SetStatus(u *UpdateStatus, reply *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[u.ID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, u.ID)
	}
	if o.Status == StatusShipped || o.Status == StatusCancelled {
		return fmt.Errorf("order %d is %s", o.ID, o.Status)
	}
	o.Status = u.Status
	*reply = *o
	return nil
}
