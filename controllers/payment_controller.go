package controllers

import (
	"io"
	"net/http"

	"github.com/phatse/BE-ISC/middleware"
	"github.com/phatse/BE-ISC/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PaymentController struct {
	Payments *services.PaymentService
	Logger   *zap.Logger
}

func NewPaymentController(payments *services.PaymentService, logger *zap.Logger) *PaymentController {
	return &PaymentController{Payments: payments, Logger: logger}
}

// CreateLink opens a checkout link for an order.
// POST /api/v1/payment/:orderId/create-link
func (pc *PaymentController) CreateLink(c *gin.Context) {
	orderID, ok := pc.orderParam(c)
	if !ok {
		return
	}

	var req struct {
		ReturnURL string `json:"returnUrl"`
		CancelURL string `json:"cancelUrl"`
	}
	// Body is optional; both URLs have server-side defaults.
	_ = c.ShouldBindJSON(&req)

	link, svcErr := pc.Payments.CreateLink(c.Request.Context(), orderID, callerFrom(c), req.ReturnURL, req.CancelURL)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"success": false, "message": svcErr.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": link})
}

// Webhook ingests provider notifications. It always answers HTTP 200: the
// provider retries on anything else, and a retry storm is worse than a
// missed update a later poll will repair.
// POST /api/v1/payment/webhook
func (pc *PaymentController) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		pc.Logger.Warn("Failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"error": -1, "message": "Error processing webhook, but acknowledged"})
		return
	}

	result := pc.Payments.IngestWebhook(c.Request.Context(), payload)

	resp := gin.H{"error": result.Code, "message": result.Message}
	if result.Data != nil {
		resp["data"] = result.Data
	}
	c.JSON(http.StatusOK, resp)
}

// Check queries the gateway and reconciles local payment state.
// GET /api/v1/payment/:orderId/check
func (pc *PaymentController) Check(c *gin.Context) {
	orderID, ok := pc.orderParam(c)
	if !ok {
		return
	}

	result, svcErr := pc.Payments.Reconcile(c.Request.Context(), orderID, callerFrom(c))
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"success": false, "message": svcErr.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"isPaid":        result.IsPaid,
		"paymentStatus": result.PaymentStatus,
		"rawStatus":     result.RawStatus,
		"order":         result.Order,
	})
}

// ForceUpdate marks an order paid on operator authority.
// PUT /api/v1/payment/:orderId/force-update
func (pc *PaymentController) ForceUpdate(c *gin.Context) {
	orderID, ok := pc.orderParam(c)
	if !ok {
		return
	}

	result, svcErr := pc.Payments.ForceUpdate(c.Request.Context(), orderID, callerFrom(c))
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"success": false, "message": svcErr.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Payment status updated",
		"isPaid":  result.IsPaid,
		"order":   result.Order,
	})
}

// Cancel cancels an order's payment link.
// DELETE /api/v1/payment/:orderId/cancel
func (pc *PaymentController) Cancel(c *gin.Context) {
	orderID, ok := pc.orderParam(c)
	if !ok {
		return
	}

	var req struct {
		CancelReason string `json:"cancelReason"`
	}
	_ = c.ShouldBindJSON(&req)

	if svcErr := pc.Payments.Cancel(c.Request.Context(), orderID, callerFrom(c), req.CancelReason); svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"success": false, "message": svcErr.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Payment cancelled successfully", "data": gin.H{}})
}

func (pc *PaymentController) orderParam(c *gin.Context) (uuid.UUID, bool) {
	orderID, err := uuid.Parse(c.Param("orderId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid order ID format"})
		return uuid.Nil, false
	}
	return orderID, true
}

func callerFrom(c *gin.Context) services.Caller {
	return services.Caller{
		ID:   middleware.GetUserID(c),
		Role: middleware.GetRole(c),
	}
}
