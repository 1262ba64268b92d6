package service

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// ReviewStore is the persistence surface of the rating aggregator.
// The mutation methods shift the product's rating_sum/num_reviews pair
// by the review's delta in the same transaction as the review row.
type ReviewStore interface {
	AddReview(ctx context.Context, review *models.Review) error
	UpdateReview(ctx context.Context, review *models.Review) error
	DeleteReview(ctx context.Context, reviewID, userID int64) (*models.Review, error)
	GetReviewsByProduct(ctx context.Context, productID int64) ([]models.Review, error)
	RecomputeRating(ctx context.Context, productID int64) error
}

// RatingService keeps each product's displayed rating equal to the
// mean of its current reviews.
type RatingService struct {
	store  ReviewStore
	ledger *InventoryLedger
	logger *zap.Logger
}

// NewRatingService creates a new rating service
func NewRatingService(store ReviewStore, ledger *InventoryLedger) *RatingService {
	return &RatingService{
		store:  store,
		ledger: ledger,
		logger: util.GetLogger(),
	}
}

// AddReview records a review and folds it into the product aggregate.
// A user may review the same product more than once.
func (s *RatingService) AddReview(ctx context.Context, review *models.Review) (*models.Review, error) {
	ctx, span := util.StartSpan(ctx, "RatingService.AddReview")
	defer span.End()

	if err := validateRating(review.Rating); err != nil {
		return nil, err
	}

	if err := s.store.AddReview(ctx, review); err != nil {
		return nil, err
	}

	s.logger.Info("review added",
		zap.Int64("review_id", review.ID),
		zap.Int64("product_id", review.ProductID),
		zap.Int("rating", review.Rating))
	s.ledger.RefreshSnapshots(ctx, []int64{review.ProductID})
	return review, nil
}

// UpdateReview rewrites a user's review and shifts the aggregate by
// the rating difference.
func (s *RatingService) UpdateReview(ctx context.Context, review *models.Review) (*models.Review, error) {
	ctx, span := util.StartSpan(ctx, "RatingService.UpdateReview")
	defer span.End()

	if err := validateRating(review.Rating); err != nil {
		return nil, err
	}

	if err := s.store.UpdateReview(ctx, review); err != nil {
		return nil, err
	}

	s.logger.Info("review updated",
		zap.Int64("review_id", review.ID),
		zap.Int64("product_id", review.ProductID))
	s.ledger.RefreshSnapshots(ctx, []int64{review.ProductID})
	return review, nil
}

// DeleteReview removes a user's review and subtracts it from the
// aggregate. Deleting the last review resets the rating to zero.
func (s *RatingService) DeleteReview(ctx context.Context, reviewID, userID int64) error {
	ctx, span := util.StartSpan(ctx, "RatingService.DeleteReview")
	defer span.End()

	review, err := s.store.DeleteReview(ctx, reviewID, userID)
	if err != nil {
		return err
	}

	s.logger.Info("review deleted",
		zap.Int64("review_id", reviewID),
		zap.Int64("product_id", review.ProductID))
	s.ledger.RefreshSnapshots(ctx, []int64{review.ProductID})
	return nil
}

// Reviews retrieves all reviews for a product.
func (s *RatingService) Reviews(ctx context.Context, productID int64) ([]models.Review, error) {
	return s.store.GetReviewsByProduct(ctx, productID)
}

// Recompute rebuilds the aggregate from the full review set.
// Idempotent; with no intervening review change it is a no-op. The
// reconcile worker runs this as the backstop for the delta updates.
func (s *RatingService) Recompute(ctx context.Context, productID int64) error {
	ctx, span := util.StartSpan(ctx, "RatingService.Recompute")
	defer span.End()

	start := time.Now()
	defer func() {
		util.RatingRecomputeLatency.Observe(time.Since(start).Seconds())
	}()

	if err := s.store.RecomputeRating(ctx, productID); err != nil {
		return err
	}
	s.ledger.RefreshSnapshots(ctx, []int64{productID})
	return nil
}

func validateRating(rating int) error {
	if rating < 1 || rating > 5 {
		return &models.ValidationError{Reason: fmt.Sprintf("rating %d out of range 1..5", rating)}
	}
	return nil
}
