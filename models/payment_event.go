package models

import "time"

// PaymentEvent is published to Kafka on every effective payment transition.
type PaymentEvent struct {
	Type          string    `json:"type"` // "payment_paid" | "payment_cancelled"
	OrderID       string    `json:"order_id"`
	UserID        string    `json:"user_id"`
	Amount        int       `json:"amount"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Source        string    `json:"source"` // "webhook" | "reconcile" | "manual"
	Timestamp     time.Time `json:"timestamp"`
}
