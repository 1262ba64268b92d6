package store

import (
	"context"
	"database/sql"
	"fmt"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

// stockRow is the locked view of a product's stock counters.
type stockRow struct {
	ID            int64  `db:"id"`
	Name          string `db:"name"`
	StockQuantity int    `db:"stock_quantity"`
}

// ReserveStock decrements stock_quantity for every line in one
// transaction. Product rows are locked FOR UPDATE, so a failure on any
// line rolls back the whole batch and concurrent batches serialize on
// the same counters.
func (s *Store) ReserveStock(ctx context.Context, lines []models.StockLine) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := reserveLines(ctx, tx, lines); err != nil {
		return err
	}
	return tx.Commit()
}

// ReleaseStock increments stock_quantity for every line in one
// transaction.
func (s *Store) ReleaseStock(ctx context.Context, lines []models.StockLine) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := releaseLines(ctx, tx, lines); err != nil {
		return err
	}
	return tx.Commit()
}

// reserveLines validates and decrements each line inside tx. in_stock
// is recomputed by the same UPDATE that moves the counter.
func reserveLines(ctx context.Context, tx *sqlx.Tx, lines []models.StockLine) error {
	for _, line := range lines {
		row, err := lockStock(ctx, tx, line.ProductID)
		if err != nil {
			return err
		}

		if row.StockQuantity < line.Quantity {
			return &models.InsufficientStockError{
				ProductID:   row.ID,
				ProductName: row.Name,
				Requested:   line.Quantity,
				Available:   row.StockQuantity,
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET stock_quantity = GREATEST(stock_quantity - $1, 0),
			    in_stock = GREATEST(stock_quantity - $1, 0) > 0
			WHERE id = $2`,
			line.Quantity, line.ProductID)
		if err != nil {
			return fmt.Errorf("failed to reserve stock for product %d: %w", line.ProductID, err)
		}
	}
	return nil
}

// releaseLines increments each line inside tx.
func releaseLines(ctx context.Context, tx *sqlx.Tx, lines []models.StockLine) error {
	for _, line := range lines {
		if _, err := lockStock(ctx, tx, line.ProductID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity + $1,
			    in_stock = stock_quantity + $1 > 0
			WHERE id = $2`,
			line.Quantity, line.ProductID)
		if err != nil {
			return fmt.Errorf("failed to release stock for product %d: %w", line.ProductID, err)
		}
	}
	return nil
}

func lockStock(ctx context.Context, tx *sqlx.Tx, productID int64) (*stockRow, error) {
	var row stockRow
	err := tx.GetContext(ctx, &row,
		"SELECT id, name, stock_quantity FROM products WHERE id = $1 FOR UPDATE", productID)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Kind: "product", ID: productID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock stock for product %d: %w", productID, err)
	}
	return &row, nil
}
