package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/phatse/BE-ISC/models"
	"github.com/phatse/BE-ISC/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CreateOrderRequest struct {
	ShippingAddress string `json:"shippingAddress" binding:"required"`
	Phone           string `json:"phone" binding:"required"`
	PaymentMethod   string `json:"paymentMethod"`
}

type OrderListResponse struct {
	Orders []models.Order `json:"orders"`
	Meta   MetaData       `json:"meta"`
}

type MetaData struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	TotalOrders int64 `json:"total_orders"`
	TotalPages  int64 `json:"total_pages"`
	HasMore     bool  `json:"has_more"`
}

// CartStore is the slice of the cart repository the order service needs to
// materialize and clear carts.
type CartStore interface {
	GetCart(ctx context.Context, userID string) (*models.Cart, error)
	DeleteCart(ctx context.Context, userID string) error
}

type OrderService struct {
	orderRepo repository.OrderRepository
	carts     CartStore
	events    EventPublisher
	logger    *zap.Logger
}

func NewOrderService(orderRepo repository.OrderRepository, carts CartStore, events EventPublisher, logger *zap.Logger) *OrderService {
	return &OrderService{
		orderRepo: orderRepo,
		carts:     carts,
		events:    events,
		logger:    logger,
	}
}

// CreateOrder materializes the user's cart into an immutable order: line
// items and the total are snapshotted from the cart's captured prices, and
// the cart is cleared once the order row is committed. Later product edits
// never touch an existing order.
func (s *OrderService) CreateOrder(ctx context.Context, userID string, req *CreateOrderRequest) (*models.Order, *ServiceError) {
	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Message: "Invalid user ID format"}
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to load cart", zap.String("user_id", userID), zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to load cart"}
	}
	if cart == nil || len(cart.Items) == 0 {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Message: "No items in cart"}
	}

	items := make([]models.OrderItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, models.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Size:      item.Size,
		})
	}

	order := &models.Order{
		UserID:          userUUID,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		Phone:           req.Phone,
		PaymentMethod:   req.PaymentMethod,
		TotalPrice:      cart.TotalPrice(),
		Status:          models.OrderStatusPending,
	}

	if err := s.orderRepo.Create(ctx, order); err != nil {
		s.logger.Error("Failed to create order", zap.String("user_id", userID), zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to create order"}
	}

	// The order row is the source of truth from here; a stale cart only
	// means the user sees old items until the next write.
	if err := s.carts.DeleteCart(ctx, userID); err != nil {
		s.logger.Warn("Failed to clear cart after order creation",
			zap.String("user_id", userID),
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
	}

	s.logger.Info("Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", userID),
		zap.Int("total_price", order.TotalPrice),
	)
	return order, nil
}

// GetUserOrders retrieves paginated orders for a specific user.
func (s *OrderService) GetUserOrders(ctx context.Context, userID string, page, limit int) (*OrderListResponse, *ServiceError) {
	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Message: "Invalid user ID format"}
	}

	orders, total, err := s.orderRepo.FindByUserID(ctx, userUUID, page, limit)
	if err != nil {
		s.logger.Error("Failed to fetch orders", zap.String("user_id", userID), zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to fetch orders"}
	}

	return &OrderListResponse{
		Orders: orders,
		Meta:   buildMeta(page, limit, total),
	}, nil
}

// GetAllOrders retrieves paginated orders for all users (admin only).
func (s *OrderService) GetAllOrders(ctx context.Context, page, limit int) (*OrderListResponse, *ServiceError) {
	orders, total, err := s.orderRepo.FindAll(ctx, page, limit)
	if err != nil {
		s.logger.Error("Failed to fetch all orders", zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to fetch orders"}
	}

	return &OrderListResponse{
		Orders: orders,
		Meta:   buildMeta(page, limit, total),
	}, nil
}

// GetOrderByID retrieves one order for its owner or an admin.
func (s *OrderService) GetOrderByID(ctx context.Context, orderID uuid.UUID, caller Caller) (*models.Order, *ServiceError) {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &ServiceError{StatusCode: http.StatusNotFound, Message: "Order not found"}
		}
		s.logger.Error("Failed to fetch order", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to fetch order"}
	}

	if order.UserID.String() != caller.ID && !caller.IsAdmin() {
		return nil, &ServiceError{StatusCode: http.StatusForbidden, Message: "Not authorized to access this order"}
	}
	return order, nil
}

// UpdateStatus changes an order's lifecycle status (admin console). The
// special value "paid" routes through the same conditional paid-transition
// the reconciliation engine uses instead of a blind status write.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, status string) (*models.Order, *ServiceError) {
	current, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &ServiceError{StatusCode: http.StatusNotFound, Message: "Order not found"}
		}
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to fetch order"}
	}

	switch status {
	case "paid":
		now := time.Now()
		did, err := s.orderRepo.MarkPaid(ctx, orderID, now, nil)
		if err != nil {
			return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to update order"}
		}
		if did && s.events != nil {
			if perr := s.events.SendPaymentEvent(models.PaymentEvent{
				Type:      "payment_paid",
				OrderID:   current.ID.String(),
				UserID:    current.UserID.String(),
				Amount:    current.TotalPrice,
				Source:    "manual",
				Timestamp: now.UTC(),
			}); perr != nil {
				s.logger.Warn("Failed to publish payment event",
					zap.String("order_id", current.ID.String()),
					zap.Error(perr),
				)
			}
		}
	case models.OrderStatusPending, models.OrderStatusProcessing,
		models.OrderStatusShipped, models.OrderStatusDelivered, models.OrderStatusCancelled:
		if err := s.orderRepo.UpdateStatus(ctx, orderID, status); err != nil {
			return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to update order"}
		}
	default:
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Message: "Invalid order status"}
	}

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to fetch order"}
	}
	return order, nil
}

func buildMeta(page, limit int, total int64) MetaData {
	return MetaData{
		Page:        page,
		Limit:       limit,
		TotalOrders: total,
		TotalPages:  calculateTotalPages(total, limit),
		HasMore:     total > int64(page*limit),
	}
}

func calculateTotalPages(total int64, limit int) int64 {
	if limit == 0 {
		return 0
	}
	return (total + int64(limit) - 1) / int64(limit)
}
