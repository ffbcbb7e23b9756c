package core

import (
	"fmt"
	"time"
)

// OrderFilter defines a function type for filtering orders
type OrderFilter func(order Order) bool

// SideType represents the direction of an order (BUY or SELL)
type SideType string

// OrderType represents the type of order (MARKET, LIMIT or STOP)
type OrderType string

// OrderStatusType represents the status of an order (CREATED, FILLED, etc.)
type OrderStatusType string

// Order side constants
const (
	SideTypeBuy  SideType = "BUY"
	SideTypeSell SideType = "SELL"
)

// Opposite returns the other side of the book
func (s SideType) Opposite() SideType {
	if s == SideTypeBuy {
		return SideTypeSell
	}
	return SideTypeBuy
}

// Order type constants
const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// Order status constants, in lifecycle order:
// CREATED -> SUBMITTED -> ACCEPTED -> {PARTIALLY_FILLED -> FILLED | CANCELED | REJECTED | EXPIRED}
const (
	OrderStatusTypeCreated         OrderStatusType = "CREATED"
	OrderStatusTypeSubmitted       OrderStatusType = "SUBMITTED"
	OrderStatusTypeAccepted        OrderStatusType = "ACCEPTED"
	OrderStatusTypePartiallyFilled OrderStatusType = "PARTIALLY_FILLED"
	OrderStatusTypeFilled          OrderStatusType = "FILLED"
	OrderStatusTypeCanceled        OrderStatusType = "CANCELED"
	OrderStatusTypeRejected        OrderStatusType = "REJECTED"
	OrderStatusTypeExpired         OrderStatusType = "EXPIRED"
)

// IsTerminal reports whether the status ends the order lifecycle
func (s OrderStatusType) IsTerminal() bool {
	switch s {
	case OrderStatusTypeFilled, OrderStatusTypeCanceled,
		OrderStatusTypeRejected, OrderStatusTypeExpired:
		return true
	}
	return false
}

// IsAlive reports whether the order still awaits resolution at the venue
func (s OrderStatusType) IsAlive() bool {
	return !s.IsTerminal()
}

// Order represents a trading order with its properties and status
type Order struct {
	ID         int64           `db:"id" json:"id" gorm:"primaryKey,autoIncrement"`
	ClientID   string          `db:"client_id" json:"client_id"`
	Ref        string          `db:"ref" json:"ref"`
	Instrument string          `db:"instrument" json:"instrument"`
	Side       SideType        `db:"side" json:"side"`
	Type       OrderType       `db:"type" json:"type"`
	Status     OrderStatusType `db:"status" json:"status"`
	Price      float64         `db:"price" json:"price"`
	Quantity   float64         `db:"quantity" json:"quantity"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	// Bracket leg properties
	Stop       *float64   `db:"stop" json:"stop"`
	GroupID    *string    `db:"group_id" json:"group_id"`
	ValidUntil *time.Time `db:"valid_until" json:"valid_until"`

	// Execution report from the venue
	FilledPrice    float64 `db:"filled_price" json:"filled_price"`
	FilledQuantity float64 `db:"filled_quantity" json:"filled_quantity"`
}

// IsAlive reports whether the order is still awaiting resolution
func (o Order) IsAlive() bool {
	return o.Status.IsAlive()
}

// SignedQuantity returns the filled quantity signed by side (buy positive)
func (o Order) SignedQuantity() float64 {
	if o.Side == SideTypeBuy {
		return o.FilledQuantity
	}
	return -o.FilledQuantity
}

func (o Order) String() string {
	return fmt.Sprintf("[%s] %s %s %s | ref: %s | price: %.6f | quantity: %.2f",
		o.Status, o.Side, o.Type, o.Instrument, o.Ref, o.Price, o.Quantity)
}

// StatusUpdate is an asynchronous execution report delivered by the venue.
// Updates are ordered per ref, not across instruments.
type StatusUpdate struct {
	Ref           string
	Status        OrderStatusType
	ExecutedPrice float64
	ExecutedSize  float64
	Time          time.Time
}

// FillRole tags a fill as opening or closing part of a position
type FillRole int

// Fill role constants
const (
	FillRoleOpen FillRole = iota + 1
	FillRoleClose
)

func (r FillRole) String() string {
	if r == FillRoleOpen {
		return "OPEN"
	}
	return "CLOSE"
}

// Fill is a venue-reported execution, signed by direction (buy positive).
// A trade is the maximal contiguous run of fills for an instrument between
// flat-position boundaries.
type Fill struct {
	Time       time.Time
	Instrument string
	Size       float64
	Price      float64
	Role       FillRole
}
