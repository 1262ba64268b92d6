package service

import (
	"context"
	"sync"
	"time"

	"storefront/internal/models"
)

// fakeStore is an in-memory stand-in for the Postgres store. Its
// reserve/release batches are all-or-nothing and it maintains the
// in_stock and rating aggregate invariants the same way the SQL does.
type fakeStore struct {
	mu       sync.Mutex
	products map[int64]*models.Product
	orders   map[int64]*models.Order
	reviews  map[int64]*models.Review

	nextOrderID  int64
	nextReviewID int64
}

func newFakeStore(products ...*models.Product) *fakeStore {
	s := &fakeStore{
		products: make(map[int64]*models.Product),
		orders:   make(map[int64]*models.Order),
		reviews:  make(map[int64]*models.Review),
	}
	for _, p := range products {
		p.InStock = p.StockQuantity > 0
		s.products[p.ID] = p
	}
	return s
}

func (s *fakeStore) ReserveStock(_ context.Context, lines []models.StockLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserveLocked(lines)
}

func (s *fakeStore) reserveLocked(lines []models.StockLine) error {
	// Validate the whole batch before touching any counter.
	for _, line := range lines {
		p, ok := s.products[line.ProductID]
		if !ok {
			return &models.NotFoundError{Kind: "product", ID: line.ProductID}
		}
		if p.StockQuantity < line.Quantity {
			return &models.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   line.Quantity,
				Available:   p.StockQuantity,
			}
		}
	}
	for _, line := range lines {
		p := s.products[line.ProductID]
		p.StockQuantity -= line.Quantity
		p.InStock = p.StockQuantity > 0
	}
	return nil
}

func (s *fakeStore) ReleaseStock(_ context.Context, lines []models.StockLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked(lines)
}

func (s *fakeStore) releaseLocked(lines []models.StockLine) error {
	for _, line := range lines {
		if _, ok := s.products[line.ProductID]; !ok {
			return &models.NotFoundError{Kind: "product", ID: line.ProductID}
		}
	}
	for _, line := range lines {
		p := s.products[line.ProductID]
		p.StockQuantity += line.Quantity
		p.InStock = p.StockQuantity > 0
	}
	return nil
}

func (s *fakeStore) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, &models.NotFoundError{Kind: "product", ID: id}
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) GetProductsByIDs(_ context.Context, ids []int64) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Product
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeStore) GetProducts(_ context.Context) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Product
	for _, p := range s.products {
		out = append(out, *p)
	}
	return out, nil
}

func (s *fakeStore) CreateOrder(_ context.Context, order *models.Order, reserve bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reserve {
		if err := s.reserveLocked(orderLines(order)); err != nil {
			return err
		}
	}

	s.nextOrderID++
	order.ID = s.nextOrderID
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
		order.Items[i].ID = int64(i + 1)
	}

	cp := copyOrder(order)
	s.orders[order.ID] = cp
	return nil
}

func (s *fakeStore) ConfirmOrder(_ context.Context, orderID int64, target models.Status) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, &models.NotFoundError{Kind: "order", ID: orderID}
	}
	if order.Status != models.StatusPending || !models.CanTransition(order.Status, target) {
		return nil, &models.IllegalTransitionError{OrderID: orderID, From: order.Status, To: target}
	}
	if err := s.reserveLocked(orderLines(order)); err != nil {
		return nil, err
	}
	order.Status = target
	order.UpdatedAt = time.Now()
	return copyOrder(order), nil
}

func (s *fakeStore) CancelOrder(_ context.Context, orderID, userID int64, byAdmin bool) (*models.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok || (!byAdmin && order.UserID != userID) {
		return nil, false, &models.NotFoundError{Kind: "order", ID: orderID}
	}
	if !models.CanTransition(order.Status, models.StatusCancelled) {
		return nil, false, &models.IllegalTransitionError{OrderID: orderID, From: order.Status, To: models.StatusCancelled}
	}

	released := order.Status.Reserved()
	if released {
		if err := s.releaseLocked(orderLines(order)); err != nil {
			return nil, false, err
		}
	}

	now := time.Now()
	order.Status = models.StatusCancelled
	order.CancelledByAdmin = byAdmin
	order.CancelledAt = &now
	order.UpdatedAt = now
	return copyOrder(order), released, nil
}

func (s *fakeStore) DeliverOrder(_ context.Context, orderID int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, &models.NotFoundError{Kind: "order", ID: orderID}
	}
	if !models.CanTransition(order.Status, models.StatusDelivered) {
		return nil, &models.IllegalTransitionError{OrderID: orderID, From: order.Status, To: models.StatusDelivered}
	}

	now := time.Now()
	order.Status = models.StatusDelivered
	order.DeliveredByAdmin = true
	order.DeliveredAt = &now
	order.UpdatedAt = now
	return copyOrder(order), nil
}

func (s *fakeStore) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, &models.NotFoundError{Kind: "order", ID: id}
	}
	return copyOrder(order), nil
}

func (s *fakeStore) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.IdempotencyKey == key {
			return copyOrder(order), nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetOrdersByUserID(_ context.Context, userID int64) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, order := range s.orders {
		if order.UserID == userID {
			out = append(out, *copyOrder(order))
		}
	}
	return out, nil
}

func (s *fakeStore) GetOrders(_ context.Context, status models.Status) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, order := range s.orders {
		if status == "" || order.Status == status {
			out = append(out, *copyOrder(order))
		}
	}
	return out, nil
}

func (s *fakeStore) AddReview(_ context.Context, review *models.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[review.ProductID]
	if !ok {
		return &models.NotFoundError{Kind: "product", ID: review.ProductID}
	}

	s.nextReviewID++
	review.ID = s.nextReviewID
	review.CreatedAt = time.Now()
	review.UpdatedAt = review.CreatedAt
	cp := *review
	s.reviews[review.ID] = &cp

	p.RatingSum += int64(review.Rating)
	p.NumReviews++
	p.Rating = float64(p.RatingSum) / float64(p.NumReviews)
	return nil
}

func (s *fakeStore) UpdateReview(_ context.Context, review *models.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.reviews[review.ID]
	if !ok || old.UserID != review.UserID {
		return &models.NotFoundError{Kind: "review", ID: review.ID}
	}

	p := s.products[old.ProductID]
	p.RatingSum += int64(review.Rating - old.Rating)
	p.Rating = float64(p.RatingSum) / float64(p.NumReviews)

	old.Rating = review.Rating
	old.Comment = review.Comment
	old.UpdatedAt = time.Now()
	review.ProductID = old.ProductID
	return nil
}

func (s *fakeStore) DeleteReview(_ context.Context, reviewID, userID int64) (*models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.reviews[reviewID]
	if !ok || old.UserID != userID {
		return nil, &models.NotFoundError{Kind: "review", ID: reviewID}
	}
	delete(s.reviews, reviewID)

	p := s.products[old.ProductID]
	p.RatingSum -= int64(old.Rating)
	p.NumReviews--
	if p.NumReviews > 0 {
		p.Rating = float64(p.RatingSum) / float64(p.NumReviews)
	} else {
		p.Rating = 0
	}
	cp := *old
	return &cp, nil
}

func (s *fakeStore) GetReviewsByProduct(_ context.Context, productID int64) ([]models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Review
	for _, r := range s.reviews {
		if r.ProductID == productID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) RecomputeRating(_ context.Context, productID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return &models.NotFoundError{Kind: "product", ID: productID}
	}

	var sum int64
	var count int
	for _, r := range s.reviews {
		if r.ProductID == productID {
			sum += int64(r.Rating)
			count++
		}
	}
	p.RatingSum = sum
	p.NumReviews = count
	if count > 0 {
		p.Rating = float64(sum) / float64(count)
	} else {
		p.Rating = 0
	}
	return nil
}

func copyOrder(order *models.Order) *models.Order {
	cp := *order
	cp.Items = append([]models.OrderItem(nil), order.Items...)
	return &cp
}

func orderLines(order *models.Order) []models.StockLine {
	lines := make([]models.StockLine, len(order.Items))
	for i, item := range order.Items {
		lines[i] = models.StockLine{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return lines
}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu        sync.Mutex
	placed    []*models.OrderPlacedEvent
	confirmed []*models.OrderConfirmedEvent
	cancelled []*models.OrderCancelledEvent
	delivered []*models.OrderDeliveredEvent
}

func (p *recordingPublisher) PublishOrderPlaced(_ context.Context, event *models.OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, event)
	return nil
}

func (p *recordingPublisher) PublishOrderConfirmed(_ context.Context, event *models.OrderConfirmedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmed = append(p.confirmed, event)
	return nil
}

func (p *recordingPublisher) PublishOrderCancelled(_ context.Context, event *models.OrderCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, event)
	return nil
}

func (p *recordingPublisher) PublishOrderDelivered(_ context.Context, event *models.OrderDeliveredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delivered = append(p.delivered, event)
	return nil
}
