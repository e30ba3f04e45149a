package providers

import (
	"context"
	"errors"
	"fmt"
)

// Payment link statuses as reported by the gateway. StatusError is a local
// sentinel meaning "the query itself failed"; callers must treat it as
// unknown and change no state.
const (
	StatusPaid      = "PAID"
	StatusSuccess   = "SUCCESS"
	StatusCompleted = "COMPLETED"
	StatusCancelled = "CANCELLED"
	StatusPending   = "PENDING"
	StatusExpired   = "EXPIRED"
	StatusError     = "ERROR"
)

// ErrGatewayUnavailable marks network-level failures (timeout, connection
// refused) talking to the payment provider.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// ErrVerificationFailed marks a webhook payload whose signature or shape
// could not be verified.
var ErrVerificationFailed = errors.New("webhook verification failed")

// RejectedError is a provider-reported invalid request (bad order code,
// cancelling an already-paid link, ...).
type RejectedError struct {
	Code string
	Desc string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("payment gateway rejected request: %s (%s)", e.Desc, e.Code)
}

type CreateLinkRequest struct {
	OrderCode   int64
	Amount      int
	Description string
	CancelURL   string
	ReturnURL   string
}

// PaymentLink is the result of creating a checkout link. QRCode is always
// populated: if the provider omits it the adapter synthesizes one from the
// checkout URL.
type PaymentLink struct {
	LinkID        string `json:"paymentLinkId"`
	OrderCode     int64  `json:"orderCode"`
	CheckoutURL   string `json:"checkoutUrl"`
	QRCode        string `json:"qrCode"`
	Status        string `json:"status"`
	Amount        int    `json:"amount"`
	Description   string `json:"description"`
	Bin           string `json:"bin,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
	AccountName   string `json:"accountName,omitempty"`
}

type LinkTransaction struct {
	Reference   string `json:"reference"`
	Amount      int    `json:"amount"`
	Description string `json:"description"`
	DateTime    string `json:"transactionDateTime"`
}

// LinkInfo is the queried state of a payment link. When Status is
// StatusError, ErrorMessage carries the underlying failure and every other
// field is meaningless.
type LinkInfo struct {
	Status       string            `json:"status"`
	Amount       int               `json:"amount"`
	AmountPaid   int               `json:"amountPaid"`
	Description  string            `json:"description"`
	Transactions []LinkTransaction `json:"transactions"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
}

// WebhookData is a verified webhook notification.
type WebhookData struct {
	OrderCode     int64  `json:"orderCode"`
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
	Amount        int    `json:"amount"`
	Description   string `json:"description"`
	Time          string `json:"time"`
}

// PaymentProvider abstracts the external payment gateway. Implementations
// never mutate local state; reconciliation decisions stay in the service
// layer.
type PaymentProvider interface {
	// CreatePaymentLink opens a checkout link for the given order code and
	// amount. Fails with ErrGatewayUnavailable or *RejectedError.
	CreatePaymentLink(ctx context.Context, req CreateLinkRequest) (*PaymentLink, error)

	// GetPaymentLink queries current link state. It never returns an error:
	// adapter-level failures come back as LinkInfo{Status: StatusError}.
	GetPaymentLink(ctx context.Context, linkID string) *LinkInfo

	// CancelPaymentLink cancels an unpaid link. Fails with *RejectedError if
	// the link is already paid.
	CancelPaymentLink(ctx context.Context, linkID, reason string) error

	// VerifyWebhook checks the payload signature and returns the embedded
	// data, or ErrVerificationFailed.
	VerifyWebhook(payload []byte) (*WebhookData, error)
}
