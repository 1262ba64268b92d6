package models

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input, e.g. an empty item list.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Reason)
}

// NotFoundError reports an absent order or product. It is also
// returned when a user acts on another user's order, so ownership is
// not leaked to the caller.
type NotFoundError struct {
	Kind string // "order" or "product"
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %d", e.Kind, e.ID)
}

// InsufficientStockError reports a line whose requested quantity
// exceeds the available stock. ProductName feeds the API message.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: requested %d, available %d",
		e.ProductName, e.Requested, e.Available)
}

// IllegalTransitionError reports an order status transition rejected
// by the transition table.
type IllegalTransitionError struct {
	OrderID int64
	From    Status
	To      Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("order %d: illegal transition %s -> %s", e.OrderID, e.From, e.To)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
