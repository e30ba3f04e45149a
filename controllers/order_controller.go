package controllers

import (
	"net/http"
	"strconv"

	"github.com/phatse/BE-ISC/middleware"
	"github.com/phatse/BE-ISC/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type OrderController struct {
	Orders *services.OrderService
	Logger *zap.Logger
}

func NewOrderController(orders *services.OrderService, logger *zap.Logger) *OrderController {
	return &OrderController{Orders: orders, Logger: logger}
}

// CreateOrder materializes the caller's cart into an order.
// POST /api/v1/orders
func (oc *OrderController) CreateOrder(c *gin.Context) {
	var req services.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Shipping address and phone are required"})
		return
	}

	order, svcErr := oc.Orders.CreateOrder(c.Request.Context(), middleware.GetUserID(c), &req)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"success": false, "message": svcErr.Message})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "order": order})
}

// GetMyOrders lists the caller's orders.
// GET /api/v1/orders/myorders
func (oc *OrderController) GetMyOrders(c *gin.Context) {
	page, limit := pagination(c)

	resp, svcErr := oc.Orders.GetUserOrders(c.Request.Context(), middleware.GetUserID(c), page, limit)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"success": false, "message": svcErr.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "orders": resp.Orders, "meta": resp.Meta})
}

// GetAllOrders lists every order (admin).
// GET /api/v1/orders
func (oc *OrderController) GetAllOrders(c *gin.Context) {
	page, limit := pagination(c)

	resp, svcErr := oc.Orders.GetAllOrders(c.Request.Context(), page, limit)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"success": false, "message": svcErr.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "orders": resp.Orders, "meta": resp.Meta})
}

// GetOrder fetches one order for its owner or an admin.
// GET /api/v1/orders/:orderId
func (oc *OrderController) GetOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("orderId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid order ID format"})
		return
	}

	caller := services.Caller{ID: middleware.GetUserID(c), Role: middleware.GetRole(c)}
	order, svcErr := oc.Orders.GetOrderByID(c.Request.Context(), orderID, caller)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"success": false, "message": svcErr.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}

// UpdateStatus changes an order's lifecycle status (admin).
// PUT /api/v1/orders/:orderId
func (oc *OrderController) UpdateStatus(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("orderId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid order ID format"})
		return
	}

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Status is required"})
		return
	}

	order, svcErr := oc.Orders.UpdateStatus(c.Request.Context(), orderID, req.Status)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"success": false, "message": svcErr.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}

func pagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "10"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}
	return page, limit
}
