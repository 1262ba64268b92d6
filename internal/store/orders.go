package store

import (
	"context"
	"database/sql"
	"fmt"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderItemColumns = `
	oi.id, oi.order_id, oi.product_id, oi.quantity, oi.unit_price,
	COALESCE(p.name, '') AS product_name`

// CreateOrder persists an order with its items. When reserve is set,
// stock for every line is decremented in the same transaction, so a
// failed line leaves neither the order nor any counter behind.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, reserve bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if reserve {
		if err := reserveLines(ctx, tx, itemLines(order.Items)); err != nil {
			return err
		}
	}

	err = tx.GetContext(ctx, order, `
		INSERT INTO orders (user_id, total_amount, status, idempotency_key)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		order.UserID, order.TotalAmount, order.Status, order.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Items {
		order.Items[i].OrderID = order.ID
		err := tx.GetContext(ctx, &order.Items[i].ID, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			order.ID, order.Items[i].ProductID, order.Items[i].Quantity, order.Items[i].UnitPrice)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// ConfirmOrder transitions an order to target (normally active) and
// reserves stock for all its lines. Everything runs in one transaction
// with the order row locked, so a racing cancel or a failed line
// leaves the order pending and every counter untouched.
func (s *Store) ConfirmOrder(ctx context.Context, orderID int64, target models.Status) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := lockOrder(ctx, tx, orderID, 0)
	if err != nil {
		return nil, err
	}

	if order.Status != models.StatusPending || !models.CanTransition(order.Status, target) {
		return nil, &models.IllegalTransitionError{OrderID: orderID, From: order.Status, To: target}
	}

	if err := loadItems(ctx, tx, order); err != nil {
		return nil, err
	}
	if err := reserveLines(ctx, tx, itemLines(order.Items)); err != nil {
		return nil, err
	}

	err = tx.GetContext(ctx, order, `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING id, user_id, total_amount, status, idempotency_key,
		          cancelled_by_admin, delivered_by_admin, cancelled_at,
		          delivered_at, created_at, updated_at`,
		target, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	return order, tx.Commit()
}

// CancelOrder transitions an order to cancelled. Stock is released
// only when the order had a reservation, that is when its status was
// not pending. For user-initiated cancels userID scopes the lookup and
// a foreign order surfaces as not found. The release and the status
// flip share one transaction.
func (s *Store) CancelOrder(ctx context.Context, orderID, userID int64, byAdmin bool) (*models.Order, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	owner := userID
	if byAdmin {
		owner = 0
	}
	order, err := lockOrder(ctx, tx, orderID, owner)
	if err != nil {
		return nil, false, err
	}

	if !models.CanTransition(order.Status, models.StatusCancelled) {
		return nil, false, &models.IllegalTransitionError{OrderID: orderID, From: order.Status, To: models.StatusCancelled}
	}

	if err := loadItems(ctx, tx, order); err != nil {
		return nil, false, err
	}

	// Pending orders never reserved stock, so there is nothing to
	// give back.
	released := order.Status.Reserved()
	if released {
		if err := releaseLines(ctx, tx, itemLines(order.Items)); err != nil {
			return nil, false, err
		}
	}

	err = tx.GetContext(ctx, order, `
		UPDATE orders
		SET status = $1, cancelled_at = NOW(), cancelled_by_admin = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING id, user_id, total_amount, status, idempotency_key,
		          cancelled_by_admin, delivered_by_admin, cancelled_at,
		          delivered_at, created_at, updated_at`,
		models.StatusCancelled, byAdmin, orderID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to cancel order: %w", err)
	}

	return order, released, tx.Commit()
}

// DeliverOrder transitions an active order to delivered. Stock is not
// touched; it was already consumed by the reservation.
func (s *Store) DeliverOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := lockOrder(ctx, tx, orderID, 0)
	if err != nil {
		return nil, err
	}

	if !models.CanTransition(order.Status, models.StatusDelivered) {
		return nil, &models.IllegalTransitionError{OrderID: orderID, From: order.Status, To: models.StatusDelivered}
	}

	err = tx.GetContext(ctx, order, `
		UPDATE orders
		SET status = $1, delivered_at = NOW(), delivered_by_admin = TRUE, updated_at = NOW()
		WHERE id = $2
		RETURNING id, user_id, total_amount, status, idempotency_key,
		          cancelled_by_admin, delivered_by_admin, cancelled_at,
		          delivered_at, created_at, updated_at`,
		models.StatusDelivered, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to deliver order: %w", err)
	}

	return order, tx.Commit()
}

// GetOrderByID retrieves an order with its items populated.
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Kind: "order", ID: id}
	}
	if err != nil {
		return nil, err
	}
	if err := loadItems(ctx, s.db, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey returns nil when no order carries the key.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUserID retrieves a user's orders, items populated.
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, err
	}
	return orders, s.loadItemsForAll(ctx, orders)
}

// GetOrders retrieves all orders, optionally filtered by status.
func (s *Store) GetOrders(ctx context.Context, status models.Status) ([]models.Order, error) {
	var orders []models.Order
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &orders, "SELECT * FROM orders ORDER BY created_at DESC")
	} else {
		err = s.db.SelectContext(ctx, &orders,
			"SELECT * FROM orders WHERE status = $1 ORDER BY created_at DESC", status)
	}
	if err != nil {
		return nil, err
	}
	return orders, s.loadItemsForAll(ctx, orders)
}

// lockOrder reads an order row FOR UPDATE. owner > 0 scopes the lookup
// to that user; a mismatch is reported as not found.
func lockOrder(ctx context.Context, tx *sqlx.Tx, id, owner int64) (*models.Order, error) {
	var order models.Order
	var err error
	if owner > 0 {
		err = tx.GetContext(ctx, &order,
			"SELECT * FROM orders WHERE id = $1 AND user_id = $2 FOR UPDATE", id, owner)
	} else {
		err = tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	}
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Kind: "order", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order %d: %w", id, err)
	}
	return &order, nil
}

func loadItems(ctx context.Context, q sqlx.QueryerContext, order *models.Order) error {
	return sqlx.SelectContext(ctx, q, &order.Items, `
		SELECT `+orderItemColumns+`
		FROM order_items oi
		LEFT JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1
		ORDER BY oi.id`, order.ID)
}

func (s *Store) loadItemsForAll(ctx context.Context, orders []models.Order) error {
	for i := range orders {
		if err := loadItems(ctx, s.db, &orders[i]); err != nil {
			return err
		}
	}
	return nil
}

func itemLines(items []models.OrderItem) []models.StockLine {
	lines := make([]models.StockLine, len(items))
	for i, item := range items {
		lines[i] = models.StockLine{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return lines
}
