package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/models"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	orders  *service.OrderService
	ratings *service.RatingService
}

// NewHandler creates a new HTTP handler
func NewHandler(orders *service.OrderService, ratings *service.RatingService) *Handler {
	return &Handler{
		orders:  orders,
		ratings: ratings,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())
	router.Use(identity())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	user := router.Group("/", requireUser())
	{
		user.POST("/orders", h.placeOrder)
		user.GET("/orders/my", h.myOrders)
		user.POST("/orders/:id/cancel", h.cancelOrder)

		user.POST("/products/:id/reviews", h.addReview)
		user.PUT("/products/:id/reviews/:reviewID", h.updateReview)
		user.DELETE("/products/:id/reviews/:reviewID", h.deleteReview)
	}
	router.GET("/products/:id/reviews", h.listReviews)

	admin := router.Group("/", requireAdmin())
	{
		admin.GET("/orders", h.listOrders)
		admin.POST("/orders/:id/confirm", h.confirmOrder)
		admin.POST("/orders/:id/admin-cancel", h.adminCancelOrder)
		admin.POST("/orders/:id/deliver", h.deliverOrder)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type placeOrderBody struct {
	Items  []service.PlacedItem `json:"items"`
	Status string               `json:"status"`
}

// placeOrder handles POST /orders
func (h *Handler) placeOrder(c *gin.Context) {
	var body placeOrderBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	order, err := h.orders.Place(c.Request.Context(), &service.PlaceOrderRequest{
		UserID:         callerID(c),
		Items:          body.Items,
		Status:         body.Status,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// myOrders handles GET /orders/my
func (h *Handler) myOrders(c *gin.Context) {
	orders, err := h.orders.ListByUser(c.Request.Context(), callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// cancelOrder handles POST /orders/:id/cancel
func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.Cancel(c.Request.Context(), orderID, callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// listOrders handles GET /orders (admin)
func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListAll(c.Request.Context(), c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

type confirmOrderBody struct {
	Status string `json:"status"`
}

// confirmOrder handles POST /orders/:id/confirm (admin)
func (h *Handler) confirmOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body confirmOrderBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
	}

	order, err := h.orders.Confirm(c.Request.Context(), orderID, body.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// adminCancelOrder handles POST /orders/:id/admin-cancel (admin)
func (h *Handler) adminCancelOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.AdminCancel(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order":   order,
		"message": "order cancelled; notify the buyer through the messaging channel",
	})
}

// deliverOrder handles POST /orders/:id/deliver (admin)
func (h *Handler) deliverOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.Deliver(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type reviewBody struct {
	Rating  int    `json:"rating" binding:"required"`
	Comment string `json:"comment"`
}

// addReview handles POST /products/:id/reviews
func (h *Handler) addReview(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body reviewBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	review, err := h.ratings.AddReview(c.Request.Context(), &models.Review{
		ProductID: productID,
		UserID:    callerID(c),
		Rating:    body.Rating,
		Comment:   body.Comment,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}

// updateReview handles PUT /products/:id/reviews/:reviewID
func (h *Handler) updateReview(c *gin.Context) {
	reviewID, ok := pathID(c, "reviewID")
	if !ok {
		return
	}

	var body reviewBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	review, err := h.ratings.UpdateReview(c.Request.Context(), &models.Review{
		ID:      reviewID,
		UserID:  callerID(c),
		Rating:  body.Rating,
		Comment: body.Comment,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, review)
}

// deleteReview handles DELETE /products/:id/reviews/:reviewID
func (h *Handler) deleteReview(c *gin.Context) {
	reviewID, ok := pathID(c, "reviewID")
	if !ok {
		return
	}

	if err := h.ratings.DeleteReview(c.Request.Context(), reviewID, callerID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// listReviews handles GET /products/:id/reviews
func (h *Handler) listReviews(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}

	reviews, err := h.ratings.Reviews(c.Request.Context(), productID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": reviews})
}

// pathID parses a numeric path parameter. Identifiers are normalized
// to int64 here, once, and flow through the core in that one shape.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// respondError maps domain errors to HTTP status codes at one choke
// point.
func respondError(c *gin.Context, err error) {
	var (
		validation   *models.ValidationError
		notFound     *models.NotFoundError
		insufficient *models.InsufficientStockError
		illegal      *models.IllegalTransitionError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
	case errors.As(err, &insufficient):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   insufficient.Error(),
			"product": insufficient.ProductName,
		})
	case errors.As(err, &illegal):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  illegal.Error(),
			"status": string(illegal.From),
		})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
