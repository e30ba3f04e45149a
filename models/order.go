package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Order lifecycle statuses. "cancelled" is terminal for the automatic
// payment paths; paid orders move to processing and onward.
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

type Order struct {
	ID              uuid.UUID   `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID          uuid.UUID   `gorm:"type:uuid;not null;index" json:"user"`
	Items           []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
	ShippingAddress string      `gorm:"type:varchar(512)" json:"shippingAddress"`
	Phone           string      `gorm:"type:varchar(20)" json:"phone"`
	TotalPrice      int         `gorm:"not null" json:"totalPrice"` // VND, frozen at creation
	Status          string      `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`

	IsPaid bool       `gorm:"not null;default:false" json:"isPaid"`
	PaidAt *time.Time `json:"paidAt,omitempty"`

	// Payment link metadata, populated once a checkout link is created.
	// PaymentLinkCode is the provider-side order code; it is generated
	// independently of ID and must be unique for webhook lookup.
	PaymentMethod   string  `gorm:"type:varchar(20)" json:"paymentMethod,omitempty"`
	PaymentLinkID   *string `gorm:"type:varchar(64);index" json:"paymentLinkId,omitempty"`
	PaymentLinkCode *int64  `gorm:"uniqueIndex" json:"paymentLinkCode,omitempty"`
	CheckoutURL     *string `gorm:"type:varchar(1024)" json:"checkoutUrl,omitempty"`
	QRCode          *string `gorm:"type:varchar(2048)" json:"qrCode,omitempty"`

	TransactionInfo TransactionInfo `gorm:"embedded;embeddedPrefix:transaction_" json:"transactionInfo"`
	PaymentInfo     PaymentInfo     `gorm:"embedded;embeddedPrefix:payment_" json:"paymentInfo"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// OrderItem is an immutable snapshot of a cart line at order-creation time.
// Name and unit price are copied from the product so later catalog edits
// never alter an existing order.
type OrderItem struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID   uuid.UUID `gorm:"type:uuid;not null;index" json:"-"`
	ProductID string    `gorm:"type:varchar(64);not null" json:"product"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Price     int       `gorm:"not null" json:"price"` // VND unit price snapshot
	Quantity  int       `gorm:"not null" json:"quantity"`
	Size      float64   `gorm:"not null" json:"size"`
}

// TransactionInfo is the advisory record of the confirming gateway
// transaction. It is audit data only; isPaid is never re-derived from it.
type TransactionInfo struct {
	TransactionID string     `gorm:"type:varchar(128)" json:"transactionId,omitempty"`
	Amount        int        `json:"amount,omitempty"`
	Description   string     `gorm:"type:varchar(512)" json:"description,omitempty"`
	Time          *time.Time `json:"time,omitempty"`
}

// PaymentInfo holds auxiliary payment metadata. UpdatedManually/UpdatedBy
// mark admin force-updates so audits can tell gateway-confirmed and
// operator-forced payments apart.
type PaymentInfo struct {
	BuyerID         *string    `gorm:"type:varchar(64)" json:"buyerId,omitempty"`
	UpdatedManually bool       `gorm:"not null;default:false" json:"updatedManually,omitempty"`
	UpdatedBy       *uuid.UUID `gorm:"type:uuid" json:"updatedBy,omitempty"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
}
