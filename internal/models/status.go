package models

import "fmt"

// Status is the order lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusDelivered Status = "delivered"
)

// validNext is the single source of truth for legal transitions.
var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusActive: true, StatusCancelled: true},
	StatusActive:    {StatusCancelled: true, StatusDelivered: true},
	StatusCancelled: {},
	StatusDelivered: {},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}

// Reserved reports whether an order in this state holds a stock
// reservation. Pending orders have never reserved stock; terminal
// cancelled orders have released theirs.
func (s Status) Reserved() bool {
	return s == StatusActive || s == StatusDelivered
}

// ParseStatus normalizes a caller-supplied status string. "confirmed"
// is the wire alias retained for the old storefront clients; it maps
// to active. An empty string defaults to active.
func ParseStatus(raw string) (Status, error) {
	switch raw {
	case "", "active", "confirmed":
		return StatusActive, nil
	case "pending":
		return StatusPending, nil
	case "cancelled":
		return StatusCancelled, nil
	case "delivered":
		return StatusDelivered, nil
	default:
		return "", fmt.Errorf("unknown order status %q", raw)
	}
}
