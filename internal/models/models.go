package models

import (
	"time"
)

// Product represents a catalog product. Only the stock and rating
// columns are owned by this service; the rest belongs to the catalog.
type Product struct {
	ID            int64     `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Price         int64     `db:"price" json:"price"`
	StockQuantity int       `db:"stock_quantity" json:"stock_quantity"`
	InStock       bool      `db:"in_stock" json:"in_stock"`
	Rating        float64   `db:"rating" json:"rating"`
	RatingSum     int64     `db:"rating_sum" json:"-"`
	NumReviews    int       `db:"num_reviews" json:"num_reviews"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Order represents a customer order. TotalAmount is fixed at placement
// and never recomputed from current product prices.
type Order struct {
	ID               int64        `db:"id" json:"id"`
	UserID           int64        `db:"user_id" json:"user_id"`
	TotalAmount      int64        `db:"total_amount" json:"total_amount"`
	Status           Status       `db:"status" json:"status"`
	IdempotencyKey   string       `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CancelledByAdmin bool         `db:"cancelled_by_admin" json:"cancelled_by_admin"`
	DeliveredByAdmin bool         `db:"delivered_by_admin" json:"delivered_by_admin"`
	CancelledAt      *time.Time   `db:"cancelled_at" json:"cancelled_at,omitempty"`
	DeliveredAt      *time.Time   `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updated_at"`

	Items []OrderItem `db:"-" json:"items,omitempty"`
}

// OrderItem is one line of an order. UnitPrice is captured at placement
// time.
type OrderItem struct {
	ID          int64  `db:"id" json:"id"`
	OrderID     int64  `db:"order_id" json:"order_id"`
	ProductID   int64  `db:"product_id" json:"product_id"`
	ProductName string `db:"product_name" json:"product_name,omitempty"`
	Quantity    int    `db:"quantity" json:"quantity"`
	UnitPrice   int64  `db:"unit_price" json:"unit_price"`
}

// Review represents a product review. A user may review the same
// product more than once.
type Review struct {
	ID        int64     `db:"id" json:"id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Rating    int       `db:"rating" json:"rating"`
	Comment   string    `db:"comment" json:"comment"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StockLine is one (product, quantity) pair of a reserve or release
// batch.
type StockLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}
