// Package demo is the entity model and services served by the graphrpc command.
package demo

import (
	"log/slog"
	"math/big"
	"time"

	"graph-rpc/message"
	"graph-rpc/schema"
)

// Namespace is the catalog namespace every demo type is filed under.
const Namespace = "demo"

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Status int

const (
	StatusPending Status = iota
	StatusPaid
	StatusShipped
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusPaid:
		return "PAID"
	case StatusShipped:
		return "SHIPPED"
	case StatusCancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

// Priority is a coded enum: its wire value is the code, not the ordinal.
type Priority int

const (
	PriorityLow    Priority = 10
	PriorityNormal Priority = 20
	PriorityRush   Priority = 30
)

func (p Priority) Code() int { return int(p) }

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityRush:
		return "RUSH"
	}
	return "NORMAL"
}

func (p Priority) Text() string {
	switch p {
	case PriorityLow:
		return "ships when convenient"
	case PriorityRush:
		return "ships today"
	}
	return "ships within two days"
}

type Address struct {
	Street  string
	City    string
	Country string
}

// Customer fields have pinned ordinals so that reordering the declaration
// does not change the binary layout.
type Customer struct {
	ID      int64    `wire:"id,id=0"`
	Name    string   `wire:",id=1"`
	Email   *string  `wire:",id=2"`
	Address *Address `wire:",id=3"`
}

type LineItem struct {
	SKU      string `wire:"sku"`
	Quantity int32
	Price    *big.Float
}

type Order struct {
	ID       int64 `wire:"id"`
	Customer Customer
	Items    []LineItem
	Status   Status
	Priority Priority
	Placed   time.Time
	Deliver  schema.Date
	Window   schema.Clock
	Tags     map[string]string
	Note     any
}

// GetTotal is the sum of the line items. It is written on encode and never
// read back.
func (o *Order) GetTotal() *big.Float {
	total := new(big.Float)
	for _, it := range o.Items {
		if it.Price == nil {
			continue
		}
		line := new(big.Float).Mul(it.Price, big.NewFloat(float64(it.Quantity)))
		total.Add(total, line)
	}
	return total
}

type OrderID struct {
	ID int64 `wire:"id"`
}

type OrderQuery struct {
	Status   *Status
	Customer int64
}

type OrderList struct {
	Orders []*Order
}

type UpdateStatus struct {
	ID     int64 `wire:"id"`
	Status Status
}

// NewCatalog files the demo types under Namespace.
func NewCatalog() *schema.MapCatalog {
	return schema.NewMapCatalog().
		Add(Namespace+"/arith", Args{}, Reply{}).
		Add(Namespace+"/orders", Address{}, Customer{}, LineItem{}, Order{}, OrderID{}, OrderQuery{}, OrderList{}, UpdateStatus{})
}

// Options returns the build options of the demo registry, envelope included.
func Options(logger *slog.Logger) schema.Options {
	opts := schema.Options{
		Enums: []schema.EnumSpec{
			schema.EnumOf(StatusPending, StatusPaid, StatusShipped, StatusCancelled),
			schema.EnumOf(PriorityLow, PriorityNormal, PriorityRush),
		},
		Catalog:    NewCatalog(),
		Namespaces: []string{Namespace},
		Logger:     logger,
	}
	message.Register(&opts)
	return opts
}

func NewRegistry(logger *slog.Logger) (*schema.Registry, error) {
	return schema.Build(Options(logger))
}

// SampleOrder returns a fully populated order.
func SampleOrder() *Order {
	email := "ada@example.com"
	return &Order{
		ID: 1001,
		Customer: Customer{
			ID:      7,
			Name:    "Ada Lovelace",
			Email:   &email,
			Address: &Address{Street: "12 St James's Square", City: "London", Country: "GB"},
		},
		Items: []LineItem{
			{SKU: "ENG-1", Quantity: 1, Price: big.NewFloat(1834.5)},
			{SKU: "CARD-80", Quantity: 80, Price: big.NewFloat(0.25)},
		},
		Status:   StatusPaid,
		Priority: PriorityRush,
		Placed:   time.Date(1843, time.September, 5, 9, 30, 0, 0, time.UTC),
		Deliver:  schema.Date{Year: 1843, Month: time.September, Day: 12},
		Window:   schema.Clock{Hour: 14},
		Tags:     map[string]string{"channel": "post"},
		Note:     "handle with care",
	}
}
