package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/phatse/BE-ISC/models"
	"github.com/phatse/BE-ISC/providers"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// memOrderRepo is an in-memory order store with the same conditional-write
// semantics as the gorm implementation, so transition races can be exercised
// with real goroutines.
type memOrderRepo struct {
	mu           sync.Mutex
	orders       map[uuid.UUID]*models.Order
	markPaidHits int
}

func newMemOrderRepo(orders ...*models.Order) *memOrderRepo {
	repo := &memOrderRepo{orders: make(map[uuid.UUID]*models.Order)}
	for _, o := range orders {
		repo.orders[o.ID] = o
	}
	return repo
}

func (r *memOrderRepo) clone(o *models.Order) *models.Order {
	cp := *o
	return &cp
}

func (r *memOrderRepo) Create(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	r.orders[order.ID] = r.clone(order)
	return nil
}

func (r *memOrderRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return r.clone(o), nil
}

func (r *memOrderRepo) FindByLinkCode(_ context.Context, code int64) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.PaymentLinkCode != nil && *o.PaymentLinkCode == code {
			return r.clone(o), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memOrderRepo) LinkCodeExists(_ context.Context, code int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.PaymentLinkCode != nil && *o.PaymentLinkCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (r *memOrderRepo) FindByUserID(_ context.Context, userID uuid.UUID, _, _ int) ([]models.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, *r.clone(o))
		}
	}
	return out, int64(len(out)), nil
}

func (r *memOrderRepo) FindAll(_ context.Context, _, _ int) ([]models.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, o := range r.orders {
		out = append(out, *r.clone(o))
	}
	return out, int64(len(out)), nil
}

func (r *memOrderRepo) SetPaymentLink(_ context.Context, orderID uuid.UUID, link *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	o.PaymentMethod = link.PaymentMethod
	o.PaymentLinkID = link.PaymentLinkID
	o.PaymentLinkCode = link.PaymentLinkCode
	o.CheckoutURL = link.CheckoutURL
	o.QRCode = link.QRCode
	return nil
}

func (r *memOrderRepo) MarkPaid(_ context.Context, orderID uuid.UUID, paidAt time.Time, tx *models.TransactionInfo) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok || o.IsPaid || o.Status == models.OrderStatusCancelled {
		return false, nil
	}
	r.markPaidHits++
	o.IsPaid = true
	o.PaidAt = &paidAt
	if tx != nil {
		o.TransactionInfo = *tx
	}
	return true, nil
}

func (r *memOrderRepo) MarkPaidManually(_ context.Context, orderID uuid.UUID, paidAt time.Time, adminID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok || o.IsPaid {
		return false, nil
	}
	o.IsPaid = true
	o.PaidAt = &paidAt
	o.PaymentInfo.UpdatedManually = true
	o.PaymentInfo.UpdatedBy = &adminID
	o.PaymentInfo.UpdatedAt = &paidAt
	return true, nil
}

func (r *memOrderRepo) MarkCancelled(_ context.Context, orderID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok || o.IsPaid || o.Status == models.OrderStatusCancelled {
		return false, nil
	}
	o.Status = models.OrderStatusCancelled
	return true, nil
}

func (r *memOrderRepo) SetBuyerID(_ context.Context, orderID uuid.UUID, buyerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[orderID]; ok {
		o.PaymentInfo.BuyerID = &buyerID
	}
	return nil
}

func (r *memOrderRepo) UpdateStatus(_ context.Context, orderID uuid.UUID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[orderID]; ok {
		o.Status = status
	}
	return nil
}

func (r *memOrderRepo) get(id uuid.UUID) *models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clone(r.orders[id])
}

// stubProvider scripts gateway responses.
type stubProvider struct {
	createLink  *providers.PaymentLink
	createErr   error
	linkInfo    *providers.LinkInfo
	cancelErr   error
	webhookData *providers.WebhookData
	webhookErr  error

	mu          sync.Mutex
	cancelCalls int
}

func (p *stubProvider) CreatePaymentLink(_ context.Context, _ providers.CreateLinkRequest) (*providers.PaymentLink, error) {
	if p.createErr != nil {
		return nil, p.createErr
	}
	return p.createLink, nil
}

func (p *stubProvider) GetPaymentLink(_ context.Context, _ string) *providers.LinkInfo {
	if p.linkInfo == nil {
		return &providers.LinkInfo{Status: providers.StatusError, ErrorMessage: "not scripted"}
	}
	return p.linkInfo
}

func (p *stubProvider) CancelPaymentLink(_ context.Context, _, _ string) error {
	p.mu.Lock()
	p.cancelCalls++
	p.mu.Unlock()
	return p.cancelErr
}

func (p *stubProvider) VerifyWebhook(_ []byte) (*providers.WebhookData, error) {
	if p.webhookErr != nil {
		return nil, p.webhookErr
	}
	return p.webhookData, nil
}

// collectingPublisher records emitted payment events.
type collectingPublisher struct {
	mu     sync.Mutex
	events []models.PaymentEvent
}

func (c *collectingPublisher) SendPaymentEvent(event models.PaymentEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *collectingPublisher) byType(t string) []models.PaymentEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.PaymentEvent
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestOrder(userID uuid.UUID) *models.Order {
	return &models.Order{
		ID:         uuid.New(),
		UserID:     userID,
		TotalPrice: 750_000,
		Status:     models.OrderStatusPending,
	}
}

func withLink(o *models.Order, linkID string, code int64) *models.Order {
	o.PaymentLinkID = &linkID
	o.PaymentLinkCode = &code
	return o
}

func newTestService(repo *memOrderRepo, provider providers.PaymentProvider, events EventPublisher) *PaymentService {
	return NewPaymentService(repo, provider, events, "http://localhost:3000", zap.NewNop())
}

func TestCreateLink(t *testing.T) {
	userID := uuid.New()

	t.Run("creates and persists link metadata", func(t *testing.T) {
		order := newTestOrder(userID)
		repo := newMemOrderRepo(order)
		provider := &stubProvider{
			createLink: &providers.PaymentLink{
				LinkID:      "pl_123",
				OrderCode:   987654321,
				CheckoutURL: "https://pay.example/link",
				QRCode:      "qr-data",
				Status:      providers.StatusPending,
				Amount:      750_000,
			},
		}
		svc := newTestService(repo, provider, nil)

		link, svcErr := svc.CreateLink(context.Background(), order.ID, Caller{ID: userID.String()}, "", "")
		require.Nil(t, svcErr)
		assert.Equal(t, "pl_123", link.LinkID)
		assert.Equal(t, "qr-data", link.QRCode)

		stored := repo.get(order.ID)
		require.NotNil(t, stored.PaymentLinkID)
		assert.Equal(t, "pl_123", *stored.PaymentLinkID)
		require.NotNil(t, stored.PaymentLinkCode)
		assert.Equal(t, int64(987654321), *stored.PaymentLinkCode)
		assert.Equal(t, "payos", stored.PaymentMethod)
		assert.False(t, stored.IsPaid)
	})

	t.Run("rejects already paid order", func(t *testing.T) {
		order := newTestOrder(userID)
		order.IsPaid = true
		repo := newMemOrderRepo(order)
		svc := newTestService(repo, &stubProvider{}, nil)

		_, svcErr := svc.CreateLink(context.Background(), order.ID, Caller{ID: userID.String()}, "", "")
		require.NotNil(t, svcErr)
		assert.Equal(t, http.StatusBadRequest, svcErr.StatusCode)
	})

	t.Run("maps gateway failure to 502", func(t *testing.T) {
		order := newTestOrder(userID)
		repo := newMemOrderRepo(order)
		provider := &stubProvider{createErr: providers.ErrGatewayUnavailable}
		svc := newTestService(repo, provider, nil)

		_, svcErr := svc.CreateLink(context.Background(), order.ID, Caller{ID: userID.String()}, "", "")
		require.NotNil(t, svcErr)
		assert.Equal(t, http.StatusBadGateway, svcErr.StatusCode)

		assert.Nil(t, repo.get(order.ID).PaymentLinkID)
	})

	t.Run("rejects foreign caller", func(t *testing.T) {
		order := newTestOrder(userID)
		repo := newMemOrderRepo(order)
		svc := newTestService(repo, &stubProvider{}, nil)

		_, svcErr := svc.CreateLink(context.Background(), order.ID, Caller{ID: uuid.NewString()}, "", "")
		require.NotNil(t, svcErr)
		assert.Equal(t, http.StatusForbidden, svcErr.StatusCode)
	})

	t.Run("admin may create for any order", func(t *testing.T) {
		order := newTestOrder(userID)
		repo := newMemOrderRepo(order)
		provider := &stubProvider{
			createLink: &providers.PaymentLink{LinkID: "pl_a", OrderCode: 1, CheckoutURL: "u", QRCode: "q"},
		}
		svc := newTestService(repo, provider, nil)

		_, svcErr := svc.CreateLink(context.Background(), order.ID, Caller{ID: uuid.NewString(), Role: "admin"}, "", "")
		assert.Nil(t, svcErr)
	})

	t.Run("unknown order yields 404", func(t *testing.T) {
		svc := newTestService(newMemOrderRepo(), &stubProvider{}, nil)

		_, svcErr := svc.CreateLink(context.Background(), uuid.New(), Caller{ID: userID.String()}, "", "")
		require.NotNil(t, svcErr)
		assert.Equal(t, http.StatusNotFound, svcErr.StatusCode)
	})
}

func TestIngestWebhook(t *testing.T) {
	userID := uuid.New()

	t.Run("paid webhook marks order and publishes event", func(t *testing.T) {
		order := withLink(newTestOrder(userID), "pl_1", 123456789)
		repo := newMemOrderRepo(order)
		events := &collectingPublisher{}
		provider := &stubProvider{webhookData: &providers.WebhookData{
			OrderCode:     123456789,
			Status:        providers.StatusPaid,
			TransactionID: "FT0042",
			Amount:        750_000,
			Time:          "2025-03-01T10:30:00Z",
		}}
		svc := newTestService(repo, provider, events)

		res := svc.IngestWebhook(context.Background(), []byte(`{}`))
		assert.Equal(t, 0, res.Code)
		assert.Equal(t, "Webhook processed successfully", res.Message)

		stored := repo.get(order.ID)
		assert.True(t, stored.IsPaid)
		require.NotNil(t, stored.PaidAt)
		assert.Equal(t, "FT0042", stored.TransactionInfo.TransactionID)
		require.NotNil(t, stored.TransactionInfo.Time)

		paid := events.byType("payment_paid")
		require.Len(t, paid, 1)
		assert.Equal(t, "webhook", paid[0].Source)
		assert.Equal(t, "FT0042", paid[0].TransactionID)
	})

	t.Run("second delivery is acknowledged without a second write", func(t *testing.T) {
		order := withLink(newTestOrder(userID), "pl_1", 555)
		repo := newMemOrderRepo(order)
		events := &collectingPublisher{}
		provider := &stubProvider{webhookData: &providers.WebhookData{
			OrderCode: 555,
			Status:    providers.StatusPaid,
		}}
		svc := newTestService(repo, provider, events)

		first := svc.IngestWebhook(context.Background(), []byte(`{}`))
		second := svc.IngestWebhook(context.Background(), []byte(`{}`))

		assert.Equal(t, 0, first.Code)
		assert.Equal(t, 0, second.Code)
		assert.Equal(t, 1, repo.markPaidHits)
		assert.Len(t, events.byType("payment_paid"), 1)
	})

	t.Run("verification failure is swallowed", func(t *testing.T) {
		order := withLink(newTestOrder(userID), "pl_1", 777)
		repo := newMemOrderRepo(order)
		provider := &stubProvider{webhookErr: providers.ErrVerificationFailed}
		svc := newTestService(repo, provider, nil)

		res := svc.IngestWebhook(context.Background(), []byte(`garbage`))
		assert.Equal(t, 0, res.Code)
		assert.Equal(t, "Webhook received but verification failed", res.Message)
		assert.False(t, repo.get(order.ID).IsPaid)
	})

	t.Run("orphan order code is acknowledged", func(t *testing.T) {
		repo := newMemOrderRepo()
		provider := &stubProvider{webhookData: &providers.WebhookData{
			OrderCode: 424242,
			Status:    providers.StatusPaid,
		}}
		svc := newTestService(repo, provider, nil)

		res := svc.IngestWebhook(context.Background(), []byte(`{}`))
		assert.Equal(t, 0, res.Code)
	})

	t.Run("cancelled webhook cancels unpaid order", func(t *testing.T) {
		order := withLink(newTestOrder(userID), "pl_1", 888)
		repo := newMemOrderRepo(order)
		events := &collectingPublisher{}
		provider := &stubProvider{webhookData: &providers.WebhookData{
			OrderCode: 888,
			Status:    providers.StatusCancelled,
		}}
		svc := newTestService(repo, provider, events)

		res := svc.IngestWebhook(context.Background(), []byte(`{}`))
		assert.Equal(t, 0, res.Code)
		assert.Equal(t, models.OrderStatusCancelled, repo.get(order.ID).Status)
		assert.Len(t, events.byType("payment_cancelled"), 1)
	})

	t.Run("cancelled webhook never demotes a paid order", func(t *testing.T) {
		order := withLink(newTestOrder(userID), "pl_1", 999)
		order.IsPaid = true
		repo := newMemOrderRepo(order)
		provider := &stubProvider{webhookData: &providers.WebhookData{
			OrderCode: 999,
			Status:    providers.StatusCancelled,
		}}
		svc := newTestService(repo, provider, nil)

		res := svc.IngestWebhook(context.Background(), []byte(`{}`))
		assert.Equal(t, 0, res.Code)

		stored := repo.get(order.ID)
		assert.True(t, stored.IsPaid)
		assert.NotEqual(t, models.OrderStatusCancelled, stored.Status)
	})

	t.Run("unknown status changes nothing", func(t *testing.T) {
		order := withLink(newTestOrder(userID), "pl_1", 1010)
		repo := newMemOrderRepo(order)
		provider := &stubProvider{webhookData: &providers.WebhookData{
			OrderCode: 1010,
			Status:    providers.StatusExpired,
		}}
		svc := newTestService(repo, provider, nil)

		res := svc.IngestWebhook(context.Background(), []byte(`{}`))
		assert.Equal(t, 0, res.Code)
		assert.False(t, repo.get(order.ID).IsPaid)
		assert.Equal(t, models.OrderStatusPending, repo.get(order.ID).Status)
	})
}

func TestReconcile(t *testing.T) {
	userID := uuid.New()

	t.Run("paid order short-circuits without gateway call", func(t *testing.T) {
		order := newTestOrder(userID)
		order.IsPaid = true
		repo := newMemOrderRepo(order)
		svc := newTestService(repo, &stubProvider{}, nil)

		res, svcErr := svc.Reconcile(context.Background(), order.ID, Caller{ID: userID.String()})
		require.Nil(t, svcErr)
		assert.True(t, res.IsPaid)
		assert.Equal(t, "paid", res.PaymentStatus)
	})

	t.Run("order without link yields 400", func(t *testing.T) {
		order := newTestOrder(userID)
		repo := newMemOrderRepo(order)
		svc := newTestService(repo, &stubProvider{}, nil)

		_, svcErr := svc.Reconcile(context.Background(), order.ID, Caller{ID: userID.String()})
		require.NotNil(t, svcErr)
		assert.Equal(t, http.StatusBadRequest, svcErr.StatusCode)
	})

	t.Run("transaction history wins over status", func(t *testing.T) {
		order := withLink(newTestOrder(userID), "pl_1", 1)
		repo := newMemOrderRepo(order)
		provider := &stubProvider{linkInfo: &providers.LinkInfo{
			Status: providers.StatusPending,
			Transactions: []providers.LinkTransaction{
				{Reference: "FT9000", Amount: 750_000, DateTime: "2025-03-01 10:30:00"},
			},
		}}
		svc := newTestService(repo, provider, nil)

		res, svcErr := svc.Reconcile(context.Background(), order.ID, Caller{ID: userID.String()})
		require.Nil(t, svcErr)
		assert.True(t, res.IsPaid)
		assert.Equal(t, "paid", res.PaymentStatus)
		assert.Equal(t, "FT9000", repo.get(order.ID).TransactionInfo.TransactionID)
	})

	t.Run("cancelled link cancels order", func(t *testing.T) {
		order := withLink(newTestOrder(userID), "pl_1", 2)
		repo := newMemOrderRepo(order)
		provider := &stubProvider{linkInfo: &providers.LinkInfo{Status: providers.StatusCancelled}}
		svc := newTestService(repo, provider, nil)

		res, svcErr := svc.Reconcile(context.Background(), order.ID, Caller{ID: userID.String()})
		require.Nil(t, svcErr)
		assert.Equal(t, "cancelled", res.PaymentStatus)
		assert.Equal(t, models.OrderStatusCancelled, repo.get(order.ID).Status)
	})

	t.Run("pending link leaves order untouched", func(t *testing.T) {
		order := withLink(newTestOrder(userID), "pl_1", 3)
		repo := newMemOrderRepo(order)
		provider := &stubProvider{linkInfo: &providers.LinkInfo{Status: providers.StatusPending}}
		svc := newTestService(repo, provider, nil)

		res, svcErr := svc.Reconcile(context.Background(), order.ID, Caller{ID: userID.String()})
		require.Nil(t, svcErr)
		assert.Equal(t, "pending", res.PaymentStatus)
		assert.False(t, repo.get(order.ID).IsPaid)
	})

	t.Run("gateway error resolves to unknown without state change", func(t *testing.T) {
		order := withLink(newTestOrder(userID), "pl_1", 4)
		repo := newMemOrderRepo(order)
		provider := &stubProvider{linkInfo: &providers.LinkInfo{
			Status:       providers.StatusError,
			ErrorMessage: "connection refused",
		}}
		svc := newTestService(repo, provider, nil)

		res, svcErr := svc.Reconcile(context.Background(), order.ID, Caller{ID: userID.String()})
		require.Nil(t, svcErr)
		assert.Equal(t, "unknown", res.PaymentStatus)
		assert.Equal(t, providers.StatusError, res.RawStatus)
		assert.False(t, repo.get(order.ID).IsPaid)
	})

	t.Run("covered amount counts as paid", func(t *testing.T) {
		order := withLink(newTestOrder(userID), "pl_1", 5)
		repo := newMemOrderRepo(order)
		provider := &stubProvider{linkInfo: &providers.LinkInfo{
			Status:     providers.StatusExpired,
			Amount:     750_000,
			AmountPaid: 750_000,
		}}
		svc := newTestService(repo, provider, nil)

		res, svcErr := svc.Reconcile(context.Background(), order.ID, Caller{ID: userID.String()})
		require.Nil(t, svcErr)
		assert.Equal(t, "paid", res.PaymentStatus)
	})

	t.Run("buyer id from link description is attached", func(t *testing.T) {
		order := withLink(newTestOrder(userID), "pl_1", 6)
		repo := newMemOrderRepo(order)
		provider := &stubProvider{linkInfo: &providers.LinkInfo{
			Status:      providers.StatusPaid,
			Description: `{"buyerId":"buyer-77"}`,
		}}
		svc := newTestService(repo, provider, nil)

		_, svcErr := svc.Reconcile(context.Background(), order.ID, Caller{ID: userID.String()})
		require.Nil(t, svcErr)

		stored := repo.get(order.ID)
		require.NotNil(t, stored.PaymentInfo.BuyerID)
		assert.Equal(t, "buyer-77", *stored.PaymentInfo.BuyerID)
	})
}

func TestForceUpdate(t *testing.T) {
	userID := uuid.New()
	adminID := uuid.New()

	t.Run("marks unpaid order paid and records operator", func(t *testing.T) {
		order := newTestOrder(userID)
		repo := newMemOrderRepo(order)
		events := &collectingPublisher{}
		svc := newTestService(repo, &stubProvider{}, events)

		res, svcErr := svc.ForceUpdate(context.Background(), order.ID, Caller{ID: adminID.String(), Role: "admin"})
		require.Nil(t, svcErr)
		assert.True(t, res.IsPaid)

		stored := repo.get(order.ID)
		assert.True(t, stored.IsPaid)
		assert.True(t, stored.PaymentInfo.UpdatedManually)
		require.NotNil(t, stored.PaymentInfo.UpdatedBy)
		assert.Equal(t, adminID, *stored.PaymentInfo.UpdatedBy)

		paid := events.byType("payment_paid")
		require.Len(t, paid, 1)
		assert.Equal(t, "manual", paid[0].Source)
	})

	t.Run("idempotent on an already paid order", func(t *testing.T) {
		order := newTestOrder(userID)
		order.IsPaid = true
		repo := newMemOrderRepo(order)
		svc := newTestService(repo, &stubProvider{}, nil)

		res, svcErr := svc.ForceUpdate(context.Background(), order.ID, Caller{ID: adminID.String(), Role: "admin"})
		require.Nil(t, svcErr)
		assert.True(t, res.IsPaid)
		assert.False(t, repo.get(order.ID).PaymentInfo.UpdatedManually)
	})

	t.Run("prefers gateway confirmation over manual mark", func(t *testing.T) {
		order := withLink(newTestOrder(userID), "pl_1", 11)
		repo := newMemOrderRepo(order)
		provider := &stubProvider{linkInfo: &providers.LinkInfo{Status: providers.StatusPaid}}
		svc := newTestService(repo, provider, nil)

		res, svcErr := svc.ForceUpdate(context.Background(), order.ID, Caller{ID: adminID.String(), Role: "admin"})
		require.Nil(t, svcErr)
		assert.True(t, res.IsPaid)
		assert.False(t, repo.get(order.ID).PaymentInfo.UpdatedManually)
	})

	t.Run("works without a payment link", func(t *testing.T) {
		order := newTestOrder(userID)
		repo := newMemOrderRepo(order)
		svc := newTestService(repo, &stubProvider{}, nil)

		res, svcErr := svc.ForceUpdate(context.Background(), order.ID, Caller{ID: adminID.String(), Role: "admin"})
		require.Nil(t, svcErr)
		assert.True(t, res.IsPaid)
		assert.True(t, repo.get(order.ID).PaymentInfo.UpdatedManually)
	})

	t.Run("non-owner without admin role is rejected", func(t *testing.T) {
		order := newTestOrder(userID)
		repo := newMemOrderRepo(order)
		svc := newTestService(repo, &stubProvider{}, nil)

		_, svcErr := svc.ForceUpdate(context.Background(), order.ID, Caller{ID: uuid.NewString()})
		require.NotNil(t, svcErr)
		assert.Equal(t, http.StatusForbidden, svcErr.StatusCode)
	})
}

func TestCancel(t *testing.T) {
	userID := uuid.New()

	t.Run("cancels link and order", func(t *testing.T) {
		order := withLink(newTestOrder(userID), "pl_1", 21)
		repo := newMemOrderRepo(order)
		provider := &stubProvider{}
		events := &collectingPublisher{}
		svc := newTestService(repo, provider, events)

		svcErr := svc.Cancel(context.Background(), order.ID, Caller{ID: userID.String()}, "changed my mind")
		require.Nil(t, svcErr)
		assert.Equal(t, 1, provider.cancelCalls)
		assert.Equal(t, models.OrderStatusCancelled, repo.get(order.ID).Status)
		assert.Len(t, events.byType("payment_cancelled"), 1)
	})

	t.Run("rejects cancel without a link", func(t *testing.T) {
		order := newTestOrder(userID)
		repo := newMemOrderRepo(order)
		svc := newTestService(repo, &stubProvider{}, nil)

		svcErr := svc.Cancel(context.Background(), order.ID, Caller{ID: userID.String()}, "")
		require.NotNil(t, svcErr)
		assert.Equal(t, http.StatusBadRequest, svcErr.StatusCode)
	})

	t.Run("rejects cancel of paid order", func(t *testing.T) {
		order := withLink(newTestOrder(userID), "pl_1", 22)
		order.IsPaid = true
		repo := newMemOrderRepo(order)
		provider := &stubProvider{}
		svc := newTestService(repo, provider, nil)

		svcErr := svc.Cancel(context.Background(), order.ID, Caller{ID: userID.String()}, "")
		require.NotNil(t, svcErr)
		assert.Equal(t, http.StatusBadRequest, svcErr.StatusCode)
		assert.Equal(t, 0, provider.cancelCalls)
	})

	t.Run("gateway failure maps to 502 and keeps order intact", func(t *testing.T) {
		order := withLink(newTestOrder(userID), "pl_1", 23)
		repo := newMemOrderRepo(order)
		provider := &stubProvider{cancelErr: errors.New("boom")}
		svc := newTestService(repo, provider, nil)

		svcErr := svc.Cancel(context.Background(), order.ID, Caller{ID: userID.String()}, "")
		require.NotNil(t, svcErr)
		assert.Equal(t, http.StatusBadGateway, svcErr.StatusCode)
		assert.Equal(t, models.OrderStatusPending, repo.get(order.ID).Status)
	})
}

// Cancellation is terminal for the automatic paths: a paid signal arriving
// after cancellation must not flip isPaid. Only the operator escape hatch
// overrides it.
func TestCancellationTerminality(t *testing.T) {
	userID := uuid.New()
	adminID := uuid.New()

	t.Run("paid webhook on cancelled order leaves it unpaid", func(t *testing.T) {
		order := withLink(newTestOrder(userID), "pl_1", 4040)
		order.Status = models.OrderStatusCancelled
		repo := newMemOrderRepo(order)
		events := &collectingPublisher{}
		provider := &stubProvider{webhookData: &providers.WebhookData{
			OrderCode:     4040,
			Status:        providers.StatusPaid,
			TransactionID: "FT7777",
		}}
		svc := newTestService(repo, provider, events)

		res := svc.IngestWebhook(context.Background(), []byte(`{}`))
		assert.Equal(t, 0, res.Code)

		stored := repo.get(order.ID)
		assert.False(t, stored.IsPaid)
		assert.Nil(t, stored.PaidAt)
		assert.Equal(t, models.OrderStatusCancelled, stored.Status)
		assert.Empty(t, events.byType("payment_paid"))
	})

	t.Run("reconcile paid signal on cancelled order reports cancelled", func(t *testing.T) {
		order := withLink(newTestOrder(userID), "pl_1", 4041)
		order.Status = models.OrderStatusCancelled
		repo := newMemOrderRepo(order)
		provider := &stubProvider{linkInfo: &providers.LinkInfo{Status: providers.StatusPaid}}
		svc := newTestService(repo, provider, nil)

		res, svcErr := svc.Reconcile(context.Background(), order.ID, Caller{ID: userID.String()})
		require.Nil(t, svcErr)
		assert.False(t, res.IsPaid)
		assert.Equal(t, "cancelled", res.PaymentStatus)
		assert.Equal(t, models.OrderStatusCancelled, res.Order.Status)
		assert.False(t, repo.get(order.ID).IsPaid)
	})

	t.Run("force update overrides cancellation", func(t *testing.T) {
		order := newTestOrder(userID)
		order.Status = models.OrderStatusCancelled
		repo := newMemOrderRepo(order)
		events := &collectingPublisher{}
		svc := newTestService(repo, &stubProvider{}, events)

		res, svcErr := svc.ForceUpdate(context.Background(), order.ID, Caller{ID: adminID.String(), Role: "admin"})
		require.Nil(t, svcErr)
		assert.True(t, res.IsPaid)

		stored := repo.get(order.ID)
		assert.True(t, stored.IsPaid)
		assert.True(t, stored.PaymentInfo.UpdatedManually)

		paid := events.byType("payment_paid")
		require.Len(t, paid, 1)
		assert.Equal(t, "manual", paid[0].Source)
	})
}

// Concurrent webhook deliveries, polls and forced updates must collapse into
// exactly one paid transition and one published event.
func TestConcurrentPaidSignalsConverge(t *testing.T) {
	userID := uuid.New()
	adminID := uuid.New()
	order := withLink(newTestOrder(userID), "pl_1", 31)
	repo := newMemOrderRepo(order)
	events := &collectingPublisher{}
	provider := &stubProvider{
		linkInfo: &providers.LinkInfo{Status: providers.StatusPaid},
		webhookData: &providers.WebhookData{
			OrderCode: 31,
			Status:    providers.StatusPaid,
		},
	}
	svc := newTestService(repo, provider, events)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.IngestWebhook(context.Background(), []byte(`{}`))
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Reconcile(context.Background(), order.ID, Caller{ID: userID.String()})
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.ForceUpdate(context.Background(), order.ID, Caller{ID: adminID.String(), Role: "admin"})
		}()
	}
	wg.Wait()

	stored := repo.get(order.ID)
	assert.True(t, stored.IsPaid)
	assert.Len(t, events.byType("payment_paid"), 1)
}

func TestResolveLink(t *testing.T) {
	pendingOrder := &models.Order{Status: models.OrderStatusPending}

	tests := []struct {
		name  string
		info  *providers.LinkInfo
		order *models.Order
		want  linkOutcome
	}{
		{
			name:  "transactions beat pending status",
			info:  &providers.LinkInfo{Status: providers.StatusPending, Transactions: []providers.LinkTransaction{{Reference: "x"}}},
			order: pendingOrder,
			want:  outcomePaid,
		},
		{
			name:  "explicit PAID",
			info:  &providers.LinkInfo{Status: providers.StatusPaid},
			order: pendingOrder,
			want:  outcomePaid,
		},
		{
			name:  "SUCCESS counts as paid",
			info:  &providers.LinkInfo{Status: providers.StatusSuccess},
			order: pendingOrder,
			want:  outcomePaid,
		},
		{
			name:  "COMPLETED counts as paid",
			info:  &providers.LinkInfo{Status: providers.StatusCompleted},
			order: pendingOrder,
			want:  outcomePaid,
		},
		{
			name:  "CANCELLED",
			info:  &providers.LinkInfo{Status: providers.StatusCancelled},
			order: pendingOrder,
			want:  outcomeCancelled,
		},
		{
			name:  "PENDING",
			info:  &providers.LinkInfo{Status: providers.StatusPending},
			order: pendingOrder,
			want:  outcomePending,
		},
		{
			name:  "amount covered heuristic",
			info:  &providers.LinkInfo{Status: providers.StatusExpired, Amount: 100, AmountPaid: 100},
			order: pendingOrder,
			want:  outcomePaid,
		},
		{
			name:  "error sentinel with zero amounts stays unknown",
			info:  &providers.LinkInfo{Status: providers.StatusError},
			order: pendingOrder,
			want:  outcomeUnknown,
		},
		{
			name:  "post-payment order status heuristic",
			info:  &providers.LinkInfo{Status: providers.StatusError},
			order: &models.Order{Status: models.OrderStatusShipped},
			want:  outcomePaid,
		},
		{
			name:  "expired unpaid stays unknown",
			info:  &providers.LinkInfo{Status: providers.StatusExpired, Amount: 100, AmountPaid: 0},
			order: pendingOrder,
			want:  outcomeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveLink(tt.info, tt.order))
		})
	}
}

func TestNewLinkCodeRange(t *testing.T) {
	repo := newMemOrderRepo()
	svc := newTestService(repo, &stubProvider{}, nil)

	for i := 0; i < 50; i++ {
		code, err := svc.newLinkCode(context.Background())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, code, linkCodeMin)
		assert.Less(t, code, linkCodeMin+linkCodeSpan)
	}
}

func TestParseTransactionTime(t *testing.T) {
	assert.Nil(t, parseTransactionTime(""))
	assert.Nil(t, parseTransactionTime("not-a-time"))

	rfc := parseTransactionTime("2025-03-01T10:30:00Z")
	require.NotNil(t, rfc)
	assert.Equal(t, 2025, rfc.Year())

	plain := parseTransactionTime("2025-03-01 10:30:00")
	require.NotNil(t, plain)
	assert.Equal(t, time.March, plain.Month())
}
