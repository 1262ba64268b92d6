package models

import "time"

// Event types
const (
	EventTypeOrderPlaced    = "ORDER_PLACED"
	EventTypeOrderConfirmed = "ORDER_CONFIRMED"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
	EventTypeOrderDelivered = "ORDER_DELIVERED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent is the checkout hand-off to the messaging channel.
// Downstream consumers (buyer notification, fulfillment) pick it up
// from there.
type OrderPlacedEvent struct {
	BaseEvent
	OrderID     int64       `json:"order_id"`
	UserID      int64       `json:"user_id"`
	Status      Status      `json:"status"`
	TotalAmount int64       `json:"total_amount"`
	Items       []StockLine `json:"items"`
}

// OrderConfirmedEvent published when a pending order is confirmed and
// its stock reserved.
type OrderConfirmedEvent struct {
	BaseEvent
	OrderID int64 `json:"order_id"`
	UserID  int64 `json:"user_id"`
}

// OrderCancelledEvent published on user or admin cancellation. When
// ByAdmin is set the buyer must be notified out of band.
type OrderCancelledEvent struct {
	BaseEvent
	OrderID       int64 `json:"order_id"`
	UserID        int64 `json:"user_id"`
	ByAdmin       bool  `json:"by_admin"`
	StockReleased bool  `json:"stock_released"`
}

// OrderDeliveredEvent published when an order is marked delivered.
type OrderDeliveredEvent struct {
	BaseEvent
	OrderID int64 `json:"order_id"`
	UserID  int64 `json:"user_id"`
}
