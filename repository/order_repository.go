package repository

import (
	"context"
	"time"

	"github.com/phatse/BE-ISC/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderRepository is the order store contract. The Mark* methods are
// conditional writes: they return true only when this call performed the
// transition, so concurrent writers racing on the same order collapse into
// one effective update.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByLinkCode(ctx context.Context, code int64) (*models.Order, error)
	LinkCodeExists(ctx context.Context, code int64) (bool, error)
	FindByUserID(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.Order, int64, error)
	FindAll(ctx context.Context, page, limit int) ([]models.Order, int64, error)

	// SetPaymentLink persists checkout link metadata on an order.
	SetPaymentLink(ctx context.Context, orderID uuid.UUID, link *models.Order) error

	// MarkPaid sets isPaid/paidAt plus transaction info iff the order is
	// unpaid and not cancelled.
	MarkPaid(ctx context.Context, orderID uuid.UUID, paidAt time.Time, tx *models.TransactionInfo) (bool, error)

	// MarkPaidManually is the admin escape hatch: it skips the cancelled
	// guard and records who forced the update.
	MarkPaidManually(ctx context.Context, orderID uuid.UUID, paidAt time.Time, adminID uuid.UUID) (bool, error)

	// MarkCancelled moves an unpaid, not-yet-cancelled order to cancelled.
	MarkCancelled(ctx context.Context, orderID uuid.UUID) (bool, error)

	SetBuyerID(ctx context.Context, orderID uuid.UUID, buyerID string) error
	UpdateStatus(ctx context.Context, orderID uuid.UUID, status string) error
}

type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) OrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *GormOrderRepository) FindByLinkCode(ctx context.Context, code int64) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("payment_link_code = ?", code).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *GormOrderRepository) LinkCodeExists(ctx context.Context, code int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("payment_link_code = ?", code).
		Count(&count).Error
	return count > 0, err
}

func (r *GormOrderRepository) FindByUserID(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.Order, int64, error) {
	var orders []models.Order
	var total int64

	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.
		Preload("Items").
		Offset(offset).
		Limit(limit).
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *GormOrderRepository) FindAll(ctx context.Context, page, limit int) ([]models.Order, int64, error) {
	var orders []models.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Order{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.
		Preload("Items").
		Offset(offset).
		Limit(limit).
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *GormOrderRepository) SetPaymentLink(ctx context.Context, orderID uuid.UUID, link *models.Order) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"payment_method":    link.PaymentMethod,
			"payment_link_id":   link.PaymentLinkID,
			"payment_link_code": link.PaymentLinkCode,
			"checkout_url":      link.CheckoutURL,
			"qr_code":           link.QRCode,
		}).Error
}

func (r *GormOrderRepository) MarkPaid(ctx context.Context, orderID uuid.UUID, paidAt time.Time, tx *models.TransactionInfo) (bool, error) {
	updates := map[string]interface{}{
		"is_paid": true,
		"paid_at": paidAt,
	}
	if tx != nil {
		updates["transaction_transaction_id"] = tx.TransactionID
		updates["transaction_amount"] = tx.Amount
		updates["transaction_description"] = tx.Description
		updates["transaction_time"] = tx.Time
	}

	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND is_paid = ? AND status <> ?", orderID, false, models.OrderStatusCancelled).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *GormOrderRepository) MarkPaidManually(ctx context.Context, orderID uuid.UUID, paidAt time.Time, adminID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND is_paid = ?", orderID, false).
		Updates(map[string]interface{}{
			"is_paid":                  true,
			"paid_at":                  paidAt,
			"payment_updated_manually": true,
			"payment_updated_by":       adminID,
			"payment_updated_at":       paidAt,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *GormOrderRepository) MarkCancelled(ctx context.Context, orderID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status <> ? AND is_paid = ?", orderID, models.OrderStatusCancelled, false).
		Update("status", models.OrderStatusCancelled)
	return res.RowsAffected > 0, res.Error
}

func (r *GormOrderRepository) SetBuyerID(ctx context.Context, orderID uuid.UUID, buyerID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("payment_buyer_id", buyerID).Error
}

func (r *GormOrderRepository) UpdateStatus(ctx context.Context, orderID uuid.UUID, status string) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("status", status).Error
}
