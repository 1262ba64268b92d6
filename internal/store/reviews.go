package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

// AddReview inserts a review and applies its rating delta to the
// product aggregate in the same transaction.
func (s *Store) AddReview(ctx context.Context, review *models.Review) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := lockStock(ctx, tx, review.ProductID); err != nil {
		return err
	}

	err = tx.GetContext(ctx, review, `
		INSERT INTO reviews (product_id, user_id, rating, comment)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		review.ProductID, review.UserID, review.Rating, review.Comment)
	if err != nil {
		return fmt.Errorf("failed to insert review: %w", err)
	}

	if err := applyRatingDelta(ctx, tx, review.ProductID, int64(review.Rating), 1); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateReview rewrites a user's review and shifts the product
// aggregate by the rating difference.
func (s *Store) UpdateReview(ctx context.Context, review *models.Review) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	old, err := lockReview(ctx, tx, review.ID, review.UserID)
	if err != nil {
		return err
	}
	review.ProductID = old.ProductID

	if _, err := lockStock(ctx, tx, old.ProductID); err != nil {
		return err
	}

	err = tx.GetContext(ctx, review, `
		UPDATE reviews SET rating = $1, comment = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING id, product_id, user_id, rating, comment, created_at, updated_at`,
		review.Rating, review.Comment, review.ID)
	if err != nil {
		return fmt.Errorf("failed to update review: %w", err)
	}

	if err := applyRatingDelta(ctx, tx, old.ProductID, int64(review.Rating-old.Rating), 0); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteReview removes a user's review and subtracts it from the
// product aggregate.
func (s *Store) DeleteReview(ctx context.Context, reviewID, userID int64) (*models.Review, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	old, err := lockReview(ctx, tx, reviewID, userID)
	if err != nil {
		return nil, err
	}

	if _, err := lockStock(ctx, tx, old.ProductID); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM reviews WHERE id = $1", reviewID); err != nil {
		return nil, fmt.Errorf("failed to delete review: %w", err)
	}

	if err := applyRatingDelta(ctx, tx, old.ProductID, -int64(old.Rating), -1); err != nil {
		return nil, err
	}
	return old, tx.Commit()
}

// GetReviewsByProduct retrieves all reviews for a product.
func (s *Store) GetReviewsByProduct(ctx context.Context, productID int64) ([]models.Review, error) {
	var reviews []models.Review
	err := s.db.SelectContext(ctx, &reviews,
		"SELECT * FROM reviews WHERE product_id = $1 ORDER BY created_at DESC", productID)
	return reviews, err
}

// RecomputeRating rebuilds a product's aggregate from the full review
// set. Used as the reconciliation backstop for the delta updates.
func (s *Store) RecomputeRating(ctx context.Context, productID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products p SET
			rating_sum  = agg.sum,
			num_reviews = agg.cnt,
			rating      = CASE WHEN agg.cnt > 0 THEN agg.sum::float / agg.cnt ELSE 0 END
		FROM (
			SELECT COALESCE(SUM(rating), 0) AS sum, COUNT(*) AS cnt
			FROM reviews WHERE product_id = $1
		) agg
		WHERE p.id = $1`, productID)
	if err != nil {
		return fmt.Errorf("failed to recompute rating for product %d: %w", productID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &models.NotFoundError{Kind: "product", ID: productID}
	}
	return nil
}

// GetRecentlyReviewedProducts lists product IDs whose reviews changed
// within the lookback window, for the reconciliation worker.
func (s *Store) GetRecentlyReviewedProducts(ctx context.Context, lookback time.Duration) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT product_id FROM reviews
		WHERE updated_at > NOW() - make_interval(secs => $1)`, lookback.Seconds())
	return ids, err
}

func applyRatingDelta(ctx context.Context, tx *sqlx.Tx, productID, ratingDelta int64, countDelta int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE products SET
			rating_sum  = rating_sum + $1,
			num_reviews = num_reviews + $2,
			rating      = CASE WHEN num_reviews + $2 > 0
			              THEN (rating_sum + $1)::float / (num_reviews + $2)
			              ELSE 0 END
		WHERE id = $3`,
		ratingDelta, countDelta, productID)
	if err != nil {
		return fmt.Errorf("failed to update rating aggregate for product %d: %w", productID, err)
	}
	return nil
}

func lockReview(ctx context.Context, tx *sqlx.Tx, reviewID, userID int64) (*models.Review, error) {
	var review models.Review
	err := tx.GetContext(ctx, &review,
		"SELECT * FROM reviews WHERE id = $1 AND user_id = $2 FOR UPDATE", reviewID, userID)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Kind: "review", ID: reviewID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock review %d: %w", reviewID, err)
	}
	return &review, nil
}
