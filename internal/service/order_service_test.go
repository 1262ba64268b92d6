package service

import (
	"context"
	"testing"

	"storefront/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrderService(products ...*models.Product) (*OrderService, *fakeStore, *recordingPublisher) {
	store := newFakeStore(products...)
	pub := &recordingPublisher{}
	ledger := NewInventoryLedger(store, nil)
	return NewOrderService(store, ledger, pub), store, pub
}

func stockOf(t *testing.T, store *fakeStore, productID int64) *models.Product {
	t.Helper()
	p, err := store.GetProductByID(context.Background(), productID)
	require.NoError(t, err)
	return p
}

func TestPlacePendingDoesNotReserve(t *testing.T) {
	svc, store, pub := newTestOrderService(
		&models.Product{ID: 1, Name: "Lamp", StockQuantity: 10})
	ctx := context.Background()

	order, err := svc.Place(ctx, &PlaceOrderRequest{
		UserID: 7,
		Items:  []PlacedItem{{Product: 1, Quantity: 3, Price: 2500}},
		Status: "pending",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, order.Status)
	assert.Equal(t, int64(3*2500), order.TotalAmount)
	assert.Equal(t, 10, stockOf(t, store, 1).StockQuantity)
	require.Len(t, pub.placed, 1)
	assert.Equal(t, models.StatusPending, pub.placed[0].Status)
}

func TestConfirmReservesStockExactlyOnce(t *testing.T) {
	svc, store, pub := newTestOrderService(
		&models.Product{ID: 1, Name: "Lamp", StockQuantity: 10})
	ctx := context.Background()

	order, err := svc.Place(ctx, &PlaceOrderRequest{
		UserID: 7,
		Items:  []PlacedItem{{Product: 1, Quantity: 3, Price: 2500}},
		Status: "pending",
	})
	require.NoError(t, err)
	assert.Equal(t, 10, stockOf(t, store, 1).StockQuantity)

	confirmed, err := svc.Confirm(ctx, order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, confirmed.Status)
	assert.Equal(t, 7, stockOf(t, store, 1).StockQuantity)
	require.Len(t, pub.confirmed, 1)

	// A second confirmation is rejected and reserves nothing further.
	_, err = svc.Confirm(ctx, order.ID, "")
	var illegal *models.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, models.StatusActive, illegal.From)
	assert.Equal(t, 7, stockOf(t, store, 1).StockQuantity)
}

func TestAdminCancelReleasesReservedStock(t *testing.T) {
	svc, store, pub := newTestOrderService(
		&models.Product{ID: 1, Name: "Lamp", StockQuantity: 10})
	ctx := context.Background()

	order, err := svc.Place(ctx, &PlaceOrderRequest{
		UserID: 7,
		Items:  []PlacedItem{{Product: 1, Quantity: 3, Price: 2500}},
		Status: "pending",
	})
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, order.ID, "active")
	require.NoError(t, err)
	assert.Equal(t, 7, stockOf(t, store, 1).StockQuantity)

	cancelled, err := svc.AdminCancel(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.True(t, cancelled.CancelledByAdmin)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, 10, stockOf(t, store, 1).StockQuantity)

	require.Len(t, pub.cancelled, 1)
	assert.True(t, pub.cancelled[0].ByAdmin)
	assert.True(t, pub.cancelled[0].StockReleased)
}

func TestImmediatePlacementDepletesStock(t *testing.T) {
	svc, store, _ := newTestOrderService(
		&models.Product{ID: 1, Name: "Mug", StockQuantity: 5})
	ctx := context.Background()

	order, err := svc.Place(ctx, &PlaceOrderRequest{
		UserID: 7,
		Items:  []PlacedItem{{Product: 1, Quantity: 5, Price: 900}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, order.Status)

	p := stockOf(t, store, 1)
	assert.Equal(t, 0, p.StockQuantity)
	assert.False(t, p.InStock)

	_, err = svc.Place(ctx, &PlaceOrderRequest{
		UserID: 8,
		Items:  []PlacedItem{{Product: 1, Quantity: 1, Price: 900}},
	})
	var ins *models.InsufficientStockError
	require.ErrorAs(t, err, &ins)
	assert.Equal(t, "Mug", ins.ProductName)
}

func TestConfirmFailsWhenStockConsumedInInterim(t *testing.T) {
	svc, store, _ := newTestOrderService(
		&models.Product{ID: 1, Name: "Mug", StockQuantity: 3})
	ctx := context.Background()

	pending, err := svc.Place(ctx, &PlaceOrderRequest{
		UserID: 7,
		Items:  []PlacedItem{{Product: 1, Quantity: 3, Price: 900}},
		Status: "pending",
	})
	require.NoError(t, err)

	// Another order drains the stock before confirmation.
	_, err = svc.Place(ctx, &PlaceOrderRequest{
		UserID: 8,
		Items:  []PlacedItem{{Product: 1, Quantity: 3, Price: 900}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, stockOf(t, store, 1).StockQuantity)

	_, err = svc.Confirm(ctx, pending.ID, "")
	var ins *models.InsufficientStockError
	require.ErrorAs(t, err, &ins)

	got, err := svc.GetOrder(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 0, stockOf(t, store, 1).StockQuantity)
}

func TestCancelPendingReleasesNothing(t *testing.T) {
	svc, store, pub := newTestOrderService(
		&models.Product{ID: 1, Name: "Lamp", StockQuantity: 10})
	ctx := context.Background()

	order, err := svc.Place(ctx, &PlaceOrderRequest{
		UserID: 7,
		Items:  []PlacedItem{{Product: 1, Quantity: 4, Price: 100}},
		Status: "pending",
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, order.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.False(t, cancelled.CancelledByAdmin)
	assert.Equal(t, 10, stockOf(t, store, 1).StockQuantity)

	require.Len(t, pub.cancelled, 1)
	assert.False(t, pub.cancelled[0].StockReleased)
}

func TestPlaceThenCancelRestoresOriginalStock(t *testing.T) {
	svc, store, _ := newTestOrderService(
		&models.Product{ID: 1, Name: "Lamp", StockQuantity: 10},
		&models.Product{ID: 2, Name: "Desk", StockQuantity: 4})
	ctx := context.Background()

	order, err := svc.Place(ctx, &PlaceOrderRequest{
		UserID: 7,
		Items: []PlacedItem{
			{Product: 1, Quantity: 4, Price: 100},
			{Product: 2, Quantity: 2, Price: 5000},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 6, stockOf(t, store, 1).StockQuantity)
	assert.Equal(t, 2, stockOf(t, store, 2).StockQuantity)

	_, err = svc.Cancel(ctx, order.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 10, stockOf(t, store, 1).StockQuantity)
	assert.Equal(t, 4, stockOf(t, store, 2).StockQuantity)
}

func TestMultiLineFailureLeavesNoPartialReservation(t *testing.T) {
	svc, store, _ := newTestOrderService(
		&models.Product{ID: 1, Name: "Lamp", StockQuantity: 10},
		&models.Product{ID: 2, Name: "Desk", StockQuantity: 1})
	ctx := context.Background()

	_, err := svc.Place(ctx, &PlaceOrderRequest{
		UserID: 7,
		Items: []PlacedItem{
			{Product: 1, Quantity: 4, Price: 100},
			{Product: 2, Quantity: 2, Price: 5000},
		},
	})
	var ins *models.InsufficientStockError
	require.ErrorAs(t, err, &ins)
	assert.Equal(t, "Desk", ins.ProductName)

	// The first line must not have been decremented.
	assert.Equal(t, 10, stockOf(t, store, 1).StockQuantity)
	assert.Equal(t, 1, stockOf(t, store, 2).StockQuantity)
}

func TestUserCannotCancelForeignOrder(t *testing.T) {
	svc, store, _ := newTestOrderService(
		&models.Product{ID: 1, Name: "Lamp", StockQuantity: 10})
	ctx := context.Background()

	order, err := svc.Place(ctx, &PlaceOrderRequest{
		UserID: 7,
		Items:  []PlacedItem{{Product: 1, Quantity: 1, Price: 100}},
	})
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, order.ID, 99)
	assert.True(t, models.IsNotFound(err))
	assert.Equal(t, 9, stockOf(t, store, 1).StockQuantity)
}

func TestCancelCancelledOrderRejected(t *testing.T) {
	svc, store, _ := newTestOrderService(
		&models.Product{ID: 1, Name: "Lamp", StockQuantity: 10})
	ctx := context.Background()

	order, err := svc.Place(ctx, &PlaceOrderRequest{
		UserID: 7,
		Items:  []PlacedItem{{Product: 1, Quantity: 2, Price: 100}},
	})
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, order.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 10, stockOf(t, store, 1).StockQuantity)

	// Cancelling again must not release stock a second time.
	_, err = svc.Cancel(ctx, order.ID, 7)
	var illegal *models.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, models.StatusCancelled, illegal.From)
	assert.Equal(t, 10, stockOf(t, store, 1).StockQuantity)
}

func TestDeliverLeavesStockAlone(t *testing.T) {
	svc, store, pub := newTestOrderService(
		&models.Product{ID: 1, Name: "Lamp", StockQuantity: 10})
	ctx := context.Background()

	order, err := svc.Place(ctx, &PlaceOrderRequest{
		UserID: 7,
		Items:  []PlacedItem{{Product: 1, Quantity: 3, Price: 100}},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, stockOf(t, store, 1).StockQuantity)

	delivered, err := svc.Deliver(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, delivered.Status)
	assert.True(t, delivered.DeliveredByAdmin)
	assert.NotNil(t, delivered.DeliveredAt)
	assert.Equal(t, 7, stockOf(t, store, 1).StockQuantity)
	require.Len(t, pub.delivered, 1)

	_, err = svc.Deliver(ctx, order.ID)
	var illegal *models.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, models.StatusDelivered, illegal.From)
}

func TestDeliverPendingOrderRejected(t *testing.T) {
	svc, _, _ := newTestOrderService(
		&models.Product{ID: 1, Name: "Lamp", StockQuantity: 10})
	ctx := context.Background()

	order, err := svc.Place(ctx, &PlaceOrderRequest{
		UserID: 7,
		Items:  []PlacedItem{{Product: 1, Quantity: 1, Price: 100}},
		Status: "pending",
	})
	require.NoError(t, err)

	_, err = svc.Deliver(ctx, order.ID)
	var illegal *models.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, models.StatusPending, illegal.From)
}

func TestPlaceValidation(t *testing.T) {
	svc, _, _ := newTestOrderService(
		&models.Product{ID: 1, Name: "Lamp", StockQuantity: 10})
	ctx := context.Background()

	cases := []struct {
		name string
		req  *PlaceOrderRequest
	}{
		{"empty items", &PlaceOrderRequest{UserID: 7}},
		{"zero quantity", &PlaceOrderRequest{UserID: 7,
			Items: []PlacedItem{{Product: 1, Quantity: 0, Price: 100}}}},
		{"negative price", &PlaceOrderRequest{UserID: 7,
			Items: []PlacedItem{{Product: 1, Quantity: 1, Price: -1}}}},
		{"terminal initial status", &PlaceOrderRequest{UserID: 7,
			Items:  []PlacedItem{{Product: 1, Quantity: 1, Price: 100}},
			Status: "delivered"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Place(ctx, tc.req)
			var validation *models.ValidationError
			assert.ErrorAs(t, err, &validation)
		})
	}
}

func TestPlaceUnknownProduct(t *testing.T) {
	svc, _, _ := newTestOrderService(
		&models.Product{ID: 1, Name: "Lamp", StockQuantity: 10})

	_, err := svc.Place(context.Background(), &PlaceOrderRequest{
		UserID: 7,
		Items:  []PlacedItem{{Product: 42, Quantity: 1, Price: 100}},
	})
	assert.True(t, models.IsNotFound(err))
}

func TestIdempotentPlacement(t *testing.T) {
	svc, store, _ := newTestOrderService(
		&models.Product{ID: 1, Name: "Lamp", StockQuantity: 10})
	ctx := context.Background()

	req := &PlaceOrderRequest{
		UserID:         7,
		Items:          []PlacedItem{{Product: 1, Quantity: 2, Price: 100}},
		IdempotencyKey: "key-abc",
	}

	first, err := svc.Place(ctx, req)
	require.NoError(t, err)
	second, err := svc.Place(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	// Stock reserved once, not twice.
	assert.Equal(t, 8, stockOf(t, store, 1).StockQuantity)
}

func TestInStockTracksQuantityThroughLifecycle(t *testing.T) {
	svc, store, _ := newTestOrderService(
		&models.Product{ID: 1, Name: "Lamp", StockQuantity: 2})
	ctx := context.Background()

	order, err := svc.Place(ctx, &PlaceOrderRequest{
		UserID: 7,
		Items:  []PlacedItem{{Product: 1, Quantity: 2, Price: 100}},
	})
	require.NoError(t, err)

	p := stockOf(t, store, 1)
	assert.Equal(t, 0, p.StockQuantity)
	assert.False(t, p.InStock)

	_, err = svc.AdminCancel(ctx, order.ID)
	require.NoError(t, err)

	p = stockOf(t, store, 1)
	assert.Equal(t, 2, p.StockQuantity)
	assert.True(t, p.InStock)
}

func TestListAllFiltersByStatus(t *testing.T) {
	svc, _, _ := newTestOrderService(
		&models.Product{ID: 1, Name: "Lamp", StockQuantity: 10})
	ctx := context.Background()

	_, err := svc.Place(ctx, &PlaceOrderRequest{
		UserID: 7,
		Items:  []PlacedItem{{Product: 1, Quantity: 1, Price: 100}},
		Status: "pending",
	})
	require.NoError(t, err)
	_, err = svc.Place(ctx, &PlaceOrderRequest{
		UserID: 8,
		Items:  []PlacedItem{{Product: 1, Quantity: 1, Price: 100}},
	})
	require.NoError(t, err)

	pending, err := svc.ListAll(ctx, "pending")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	all, err := svc.ListAll(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = svc.ListAll(ctx, "bogus")
	var validation *models.ValidationError
	assert.ErrorAs(t, err, &validation)
}
