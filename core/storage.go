package core

import (
	"slices"
	"time"
)

// OrderStorage defines the interface for order storage operations
type OrderStorage interface {
	// CreateOrder stores a new order
	CreateOrder(order *Order) error

	// UpdateOrder updates an existing order
	UpdateOrder(order *Order) error

	// Orders retrieves orders based on provided filters
	Orders(filters ...OrderFilter) ([]*Order, error)
}

func WithStatusIn(status ...OrderStatusType) OrderFilter {
	return func(order Order) bool {
		return slices.Contains(status, order.Status)
	}
}

func WithStatus(status OrderStatusType) OrderFilter {
	return func(order Order) bool {
		return order.Status == status
	}
}

func WithInstrument(instrument string) OrderFilter {
	return func(order Order) bool {
		return order.Instrument == instrument
	}
}

func WithGroupID(groupID string) OrderFilter {
	return func(order Order) bool {
		return order.GroupID != nil && *order.GroupID == groupID
	}
}

func WithAlive() OrderFilter {
	return func(order Order) bool {
		return order.IsAlive()
	}
}

func WithUpdatedAtBeforeOrEqual(t time.Time) OrderFilter {
	return func(order Order) bool {
		return !order.UpdatedAt.After(t)
	}
}
