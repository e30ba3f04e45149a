package services

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/phatse/BE-ISC/models"
	"github.com/phatse/BE-ISC/providers"
	"github.com/phatse/BE-ISC/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Payment link order codes are drawn from a wide range and re-rolled on
// collision, so codes never leak internal order ids and two live links
// cannot share a code.
const (
	linkCodeMin      = int64(100_000_000)
	linkCodeSpan     = int64(9_000_000_000_000_000) - linkCodeMin
	linkCodeAttempts = 5
)

// EventPublisher pushes payment lifecycle events to the event bus.
// Publishing is best-effort: failures are logged and never block a
// transition.
type EventPublisher interface {
	SendPaymentEvent(event models.PaymentEvent) error
}

// PaymentService reconciles an order's payment state across the three
// uncoordinated signal paths: checkout-link creation, provider webhooks,
// and manual checks or forced updates. Every paid/cancelled transition
// funnels through markPaid/markCancelled, which rely on conditional writes
// in the order store, so racing signals converge on a single effective
// update.
type PaymentService struct {
	repo      repository.OrderRepository
	provider  providers.PaymentProvider
	events    EventPublisher
	clientURL string
	logger    *zap.Logger
}

func NewPaymentService(
	repo repository.OrderRepository,
	provider providers.PaymentProvider,
	events EventPublisher,
	clientURL string,
	logger *zap.Logger,
) *PaymentService {
	return &PaymentService{
		repo:      repo,
		provider:  provider,
		events:    events,
		clientURL: clientURL,
		logger:    logger,
	}
}

// ReconcileResult is the outcome of a payment status check.
type ReconcileResult struct {
	Order         *models.Order `json:"order"`
	IsPaid        bool          `json:"isPaid"`
	PaymentStatus string        `json:"paymentStatus"` // paid | cancelled | pending | unknown
	RawStatus     string        `json:"rawStatus,omitempty"`
}

// WebhookResult reports webhook ingestion back to the controller. Code
// follows the provider's acknowledgment envelope: 0 processed, -1 internal
// error (both acknowledged with HTTP 200 so the provider stops retrying).
type WebhookResult struct {
	Code    int
	Message string
	Data    *providers.WebhookData
}

// CreateLink generates a fresh provider order code, opens a checkout link
// and persists its metadata on the order. Repeated calls before payment
// create a new link each time; callers should invoke it once per checkout
// attempt.
func (s *PaymentService) CreateLink(ctx context.Context, orderID uuid.UUID, caller Caller, returnURL, cancelURL string) (*providers.PaymentLink, *ServiceError) {
	order, svcErr := s.loadAuthorized(ctx, orderID, caller)
	if svcErr != nil {
		return nil, svcErr
	}
	if order.IsPaid {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Message: "Order is already paid"}
	}

	code, err := s.newLinkCode(ctx)
	if err != nil {
		s.logger.Error("Failed to generate payment link code", zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to create payment link"}
	}

	if returnURL == "" {
		returnURL = fmt.Sprintf("%s/order-success/%s", s.clientURL, order.ID)
	}
	if cancelURL == "" {
		cancelURL = fmt.Sprintf("%s/order-cancel/%s", s.clientURL, order.ID)
	}

	link, err := s.provider.CreatePaymentLink(ctx, providers.CreateLinkRequest{
		OrderCode:   code,
		Amount:      order.TotalPrice,
		Description: fmt.Sprintf("Thanh toan #%d", code),
		CancelURL:   cancelURL,
		ReturnURL:   returnURL,
	})
	if err != nil {
		s.logger.Error("Payment link creation failed",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
		return nil, &ServiceError{StatusCode: http.StatusBadGateway, Message: "Payment service temporarily unavailable"}
	}

	update := &models.Order{
		PaymentMethod:   "payos",
		PaymentLinkID:   &link.LinkID,
		PaymentLinkCode: &link.OrderCode,
		CheckoutURL:     &link.CheckoutURL,
		QRCode:          &link.QRCode,
	}
	if err := s.repo.SetPaymentLink(ctx, order.ID, update); err != nil {
		s.logger.Error("Failed to persist payment link metadata",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to save payment link"}
	}

	s.logger.Info("Payment link created",
		zap.String("order_id", order.ID.String()),
		zap.String("payment_link_id", link.LinkID),
		zap.Int64("order_code", link.OrderCode),
	)
	return link, nil
}

// IngestWebhook processes a provider notification. It never fails: bad
// signatures, orphan order codes and unknown statuses are logged and
// acknowledged so the provider does not retry.
func (s *PaymentService) IngestWebhook(ctx context.Context, payload []byte) *WebhookResult {
	data, err := s.provider.VerifyWebhook(payload)
	if err != nil {
		s.logger.Warn("Webhook verification failed", zap.Error(err))
		return &WebhookResult{Code: 0, Message: "Webhook received but verification failed"}
	}

	order, err := s.repo.FindByLinkCode(ctx, data.OrderCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("Webhook for unknown order code",
				zap.Int64("order_code", data.OrderCode),
				zap.String("status", data.Status),
			)
			return &WebhookResult{Code: 0, Message: "Webhook processed successfully", Data: data}
		}
		s.logger.Error("Webhook order lookup failed", zap.Error(err))
		return &WebhookResult{Code: -1, Message: "Error processing webhook, but acknowledged"}
	}

	switch data.Status {
	case providers.StatusPaid:
		tx := &models.TransactionInfo{
			TransactionID: data.TransactionID,
			Amount:        data.Amount,
			Description:   data.Description,
			Time:          parseTransactionTime(data.Time),
		}
		if _, err := s.markPaid(ctx, order, tx, "webhook"); err != nil {
			return &WebhookResult{Code: -1, Message: "Error processing webhook, but acknowledged"}
		}
	case providers.StatusCancelled:
		if _, err := s.markCancelled(ctx, order, "webhook"); err != nil {
			return &WebhookResult{Code: -1, Message: "Error processing webhook, but acknowledged"}
		}
	default:
		s.logger.Info("Webhook status requires no update",
			zap.String("order_id", order.ID.String()),
			zap.String("status", data.Status),
		)
	}

	return &WebhookResult{Code: 0, Message: "Webhook processed successfully", Data: data}
}

// Reconcile queries the gateway for the order's link state and applies the
// resolution ladder. Gateway failures degrade to "no change": the raw
// status is reported to the caller and local state stays untouched.
func (s *PaymentService) Reconcile(ctx context.Context, orderID uuid.UUID, caller Caller) (*ReconcileResult, *ServiceError) {
	order, svcErr := s.loadAuthorized(ctx, orderID, caller)
	if svcErr != nil {
		return nil, svcErr
	}

	if order.IsPaid {
		return &ReconcileResult{Order: order, IsPaid: true, PaymentStatus: "paid"}, nil
	}
	if order.PaymentLinkID == nil || *order.PaymentLinkID == "" {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Message: "Order has no payment link"}
	}

	info := s.provider.GetPaymentLink(ctx, *order.PaymentLinkID)
	result := &ReconcileResult{Order: order, RawStatus: info.Status}

	switch resolveLink(info, order) {
	case outcomePaid:
		tx := transactionFromLink(info)
		did, err := s.markPaid(ctx, order, tx, "reconcile")
		if err != nil {
			return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to update payment status"}
		}
		if !did {
			// Lost the race to another writer; re-read the winning state.
			if fresh, ferr := s.repo.FindByID(ctx, order.ID); ferr == nil {
				order = fresh
				result.Order = fresh
			}
		}
		s.attachBuyerID(ctx, order, info.Description)
		result.IsPaid = order.IsPaid
		switch {
		case order.IsPaid:
			result.PaymentStatus = "paid"
		case order.Status == models.OrderStatusCancelled:
			result.PaymentStatus = "cancelled"
		default:
			result.PaymentStatus = "paid"
		}
	case outcomeCancelled:
		if _, err := s.markCancelled(ctx, order, "reconcile"); err != nil {
			return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to update order status"}
		}
		result.PaymentStatus = "cancelled"
	case outcomePending:
		result.PaymentStatus = "pending"
	default:
		if info.ErrorMessage != "" {
			s.logger.Warn("Payment status check unresolved",
				zap.String("order_id", order.ID.String()),
				zap.String("error", info.ErrorMessage),
			)
		}
		result.PaymentStatus = "unknown"
	}

	return result, nil
}

// ForceUpdate is the trusted-operator escape hatch. It tries one
// best-effort gateway check first; if that cannot confirm payment it marks
// the order paid anyway, recording who forced it so audits can separate
// manual confirmations from gateway-confirmed ones.
func (s *PaymentService) ForceUpdate(ctx context.Context, orderID uuid.UUID, caller Caller) (*ReconcileResult, *ServiceError) {
	order, svcErr := s.loadAuthorized(ctx, orderID, caller)
	if svcErr != nil {
		return nil, svcErr
	}

	if order.IsPaid {
		return &ReconcileResult{Order: order, IsPaid: true, PaymentStatus: "paid"}, nil
	}

	// Best-effort gateway check; failures fall through to the forced path.
	if order.PaymentLinkID != nil && *order.PaymentLinkID != "" {
		info := s.provider.GetPaymentLink(ctx, *order.PaymentLinkID)
		if resolveLink(info, order) == outcomePaid {
			tx := transactionFromLink(info)
			if _, err := s.markPaid(ctx, order, tx, "reconcile"); err == nil {
				s.attachBuyerID(ctx, order, info.Description)
				return &ReconcileResult{Order: order, IsPaid: order.IsPaid, PaymentStatus: "paid", RawStatus: info.Status}, nil
			}
		}
	}

	callerID, err := uuid.Parse(caller.ID)
	if err != nil {
		return nil, &ServiceError{StatusCode: http.StatusForbidden, Message: "Not authorized to update this order"}
	}

	now := time.Now()
	did, err := s.repo.MarkPaidManually(ctx, order.ID, now, callerID)
	if err != nil {
		s.logger.Error("Forced payment update failed",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to update payment status"}
	}

	if did {
		order.IsPaid = true
		order.PaidAt = &now
		order.PaymentInfo.UpdatedManually = true
		order.PaymentInfo.UpdatedBy = &callerID
		order.PaymentInfo.UpdatedAt = &now
		s.logger.Info("Payment status forced",
			zap.String("order_id", order.ID.String()),
			zap.String("updated_by", caller.ID),
		)
		s.publishEvent(models.PaymentEvent{
			Type:      "payment_paid",
			OrderID:   order.ID.String(),
			UserID:    order.UserID.String(),
			Amount:    order.TotalPrice,
			Source:    "manual",
			Timestamp: now.UTC(),
		})
	} else {
		// Lost the race to another writer; re-read the winning state.
		if fresh, ferr := s.repo.FindByID(ctx, order.ID); ferr == nil {
			order = fresh
		}
	}

	return &ReconcileResult{Order: order, IsPaid: order.IsPaid, PaymentStatus: "paid"}, nil
}

// Cancel cancels the payment link at the gateway and moves the order to
// cancelled.
func (s *PaymentService) Cancel(ctx context.Context, orderID uuid.UUID, caller Caller, reason string) *ServiceError {
	order, svcErr := s.loadAuthorized(ctx, orderID, caller)
	if svcErr != nil {
		return svcErr
	}

	if order.PaymentLinkID == nil || *order.PaymentLinkID == "" {
		return &ServiceError{StatusCode: http.StatusBadRequest, Message: "Order has no payment link"}
	}
	if order.IsPaid {
		return &ServiceError{StatusCode: http.StatusBadRequest, Message: "Cannot cancel payment that is already completed"}
	}

	if reason == "" {
		reason = "Cancelled by user"
	}

	if err := s.provider.CancelPaymentLink(ctx, *order.PaymentLinkID, reason); err != nil {
		s.logger.Error("Payment link cancellation failed",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
		return &ServiceError{StatusCode: http.StatusBadGateway, Message: "Error cancelling payment"}
	}

	if _, err := s.markCancelled(ctx, order, "cancel"); err != nil {
		return &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to update order status"}
	}
	return nil
}

// ---- shared transition helpers ----

// linkOutcome classifies one reconciliation signal.
type linkOutcome int

const (
	outcomeUnknown linkOutcome = iota
	outcomePaid
	outcomeCancelled
	outcomePending
)

// resolveLink applies the resolution ladder to a queried link, first match
// wins: transaction history, explicit paid statuses, cancellation, pending,
// then the low-confidence fallbacks (amountPaid covering the amount, or an
// order already progressed past payment). The last tier risks false
// positives and exists only because the provider sometimes lags; anything
// else stays unknown.
func resolveLink(info *providers.LinkInfo, order *models.Order) linkOutcome {
	if len(info.Transactions) > 0 {
		return outcomePaid
	}

	switch info.Status {
	case providers.StatusPaid, providers.StatusSuccess, providers.StatusCompleted:
		return outcomePaid
	case providers.StatusCancelled:
		return outcomeCancelled
	case providers.StatusPending:
		return outcomePending
	}

	if info.Amount > 0 && info.AmountPaid >= info.Amount {
		return outcomePaid
	}
	if order.Status == models.OrderStatusProcessing ||
		order.Status == models.OrderStatusShipped ||
		order.Status == models.OrderStatusDelivered {
		return outcomePaid
	}
	return outcomeUnknown
}

// markPaid performs the single authoritative unpaid->paid transition. The
// store-level conditional write makes it idempotent and race-safe: only one
// of any number of concurrent callers observes did == true, and a cancelled
// order is never flipped through this path.
func (s *PaymentService) markPaid(ctx context.Context, order *models.Order, tx *models.TransactionInfo, source string) (bool, error) {
	now := time.Now()
	did, err := s.repo.MarkPaid(ctx, order.ID, now, tx)
	if err != nil {
		s.logger.Error("Failed to mark order paid",
			zap.String("order_id", order.ID.String()),
			zap.String("source", source),
			zap.Error(err),
		)
		return false, err
	}

	if !did {
		s.logger.Info("Paid transition skipped, order already settled",
			zap.String("order_id", order.ID.String()),
			zap.String("source", source),
		)
		return false, nil
	}

	order.IsPaid = true
	order.PaidAt = &now
	if tx != nil {
		order.TransactionInfo = *tx
	}

	s.logger.Info("Order marked as paid",
		zap.String("order_id", order.ID.String()),
		zap.String("source", source),
	)

	event := models.PaymentEvent{
		Type:      "payment_paid",
		OrderID:   order.ID.String(),
		UserID:    order.UserID.String(),
		Amount:    order.TotalPrice,
		Source:    source,
		Timestamp: now.UTC(),
	}
	if tx != nil {
		event.TransactionID = tx.TransactionID
	}
	s.publishEvent(event)
	return true, nil
}

// markCancelled moves an unpaid order to cancelled; paid or already
// cancelled orders are untouched.
func (s *PaymentService) markCancelled(ctx context.Context, order *models.Order, source string) (bool, error) {
	did, err := s.repo.MarkCancelled(ctx, order.ID)
	if err != nil {
		s.logger.Error("Failed to cancel order",
			zap.String("order_id", order.ID.String()),
			zap.String("source", source),
			zap.Error(err),
		)
		return false, err
	}
	if !did {
		return false, nil
	}

	order.Status = models.OrderStatusCancelled
	s.logger.Info("Order cancelled",
		zap.String("order_id", order.ID.String()),
		zap.String("source", source),
	)
	s.publishEvent(models.PaymentEvent{
		Type:      "payment_cancelled",
		OrderID:   order.ID.String(),
		UserID:    order.UserID.String(),
		Amount:    order.TotalPrice,
		Source:    source,
		Timestamp: time.Now().UTC(),
	})
	return true, nil
}

// attachBuyerID parses structured metadata the provider sometimes embeds in
// the link description. Parse failures are logged, never surfaced.
func (s *PaymentService) attachBuyerID(ctx context.Context, order *models.Order, description string) {
	if description == "" {
		return
	}
	var meta struct {
		BuyerID string `json:"buyerId"`
	}
	if err := json.Unmarshal([]byte(description), &meta); err != nil || meta.BuyerID == "" {
		return
	}
	if err := s.repo.SetBuyerID(ctx, order.ID, meta.BuyerID); err != nil {
		s.logger.Warn("Failed to persist buyer id",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
		return
	}
	order.PaymentInfo.BuyerID = &meta.BuyerID
}

func (s *PaymentService) publishEvent(event models.PaymentEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.SendPaymentEvent(event); err != nil {
		s.logger.Warn("Failed to publish payment event",
			zap.String("order_id", event.OrderID),
			zap.String("type", event.Type),
			zap.Error(err),
		)
	}
}

// loadAuthorized fetches the order and checks the caller is its owner or an
// admin.
func (s *PaymentService) loadAuthorized(ctx context.Context, orderID uuid.UUID, caller Caller) (*models.Order, *ServiceError) {
	order, err := s.repo.FindByID(ctx, orderID)
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

// newLinkCode draws a random provider order code and retries on collision
// with an existing order.
func (s *PaymentService) newLinkCode(ctx context.Context) (int64, error) {
	for i := 0; i < linkCodeAttempts; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(linkCodeSpan))
		if err != nil {
			return 0, err
		}
		code := linkCodeMin + n.Int64()

		exists, err := s.repo.LinkCodeExists(ctx, code)
		if err != nil {
			return 0, err
		}
		if !exists {
			return code, nil
		}
	}
	return 0, fmt.Errorf("could not generate unique order code after %d attempts", linkCodeAttempts)
}

func transactionFromLink(info *providers.LinkInfo) *models.TransactionInfo {
	tx := &models.TransactionInfo{
		Amount:      info.Amount,
		Description: info.Description,
	}
	if len(info.Transactions) > 0 {
		first := info.Transactions[0]
		tx.TransactionID = first.Reference
		tx.Amount = first.Amount
		tx.Description = first.Description
		tx.Time = parseTransactionTime(first.DateTime)
	}
	return tx
}

func parseTransactionTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
