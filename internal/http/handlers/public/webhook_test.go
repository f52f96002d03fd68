package public

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lumina-pay/internal/config"
	"github.com/lumina-pay/internal/constants"
	"github.com/lumina-pay/internal/models"
	"github.com/lumina-pay/internal/payment"
	"github.com/lumina-pay/internal/provider"
	"github.com/lumina-pay/internal/repository"
	"github.com/lumina-pay/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// fakeAdapter 按预置结果应答的提供方替身。
type fakeAdapter struct {
	method string
	event  *payment.Event
	err    error
}

func (a *fakeAdapter) Method() string { return a.method }

func (a *fakeAdapter) CreateOrder(ctx context.Context, input payment.CreateOrderInput) (*payment.CreateOrderResult, error) {
	return &payment.CreateOrderResult{
		TransactionID: "fake_" + input.OrderID,
		Interaction:   payment.InteractionRedirect,
		PayURL:        "https://pay.example.com/fake",
	}, nil
}

func (a *fakeAdapter) QueryOrder(ctx context.Context, transactionID string) (*payment.QueryResult, error) {
	return nil, payment.ErrNotFound
}

func (a *fakeAdapter) CancelOrder(ctx context.Context, transactionID string) error {
	return nil
}

func (a *fakeAdapter) HandleWebhook(ctx context.Context, req *http.Request, body []byte) (*payment.Event, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.event, nil
}

func (a *fakeAdapter) Refund(ctx context.Context, input payment.RefundInput) (*payment.RefundResult, error) {
	return &payment.RefundResult{RefundID: "rf_fake", Status: constants.PaymentStatusRefunded}, nil
}

func (a *fakeAdapter) WebhookAck() (string, []byte) {
	return "application/json", []byte(`{"received":true}`)
}

func setupWebhookHandlerTest(t *testing.T) (*Handler, *fakeAdapter) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:public_webhook_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(
		&models.PaymentRecord{},
		&models.SubscriptionState{},
		&models.MirrorSyncTask{},
	); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}

	cfg := &config.Config{}
	cfg.Region.Name = constants.RegionINTL

	adapter := &fakeAdapter{method: constants.PaymentMethodStripe}
	adapters := map[string]payment.Adapter{constants.PaymentMethodStripe: adapter}
	paymentRepo := repository.NewPaymentRepository(db)
	subscriptionSvc := service.NewSubscriptionService(cfg, repository.NewSubscriptionRepository(db))

	container := &provider.Container{
		Config:              cfg,
		PaymentRepo:         paymentRepo,
		Adapters:            adapters,
		PaymentService:      service.NewPaymentService(cfg, adapters, paymentRepo, nil),
		SubscriptionService: subscriptionSvc,
		WebhookService: service.NewWebhookService(
			cfg,
			adapters,
			paymentRepo,
			repository.NewMirrorTaskRepository(db),
			subscriptionSvc,
			nil,
			nil,
		),
	}
	return New(container), adapter
}

func performWebhook(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback/stripe", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	h.StripeWebhook(c)
	return w
}

func TestStripeWebhookAcksProcessedEvent(t *testing.T) {
	h, adapter := setupWebhookHandlerTest(t)
	adapter.event = &payment.Event{
		Kind:          payment.EventOrderCompleted,
		TransactionID: "cs_handler_1",
		Method:        constants.PaymentMethodStripe,
		UserID:        "u1",
		AmountValue:   "15",
		Currency:      constants.CurrencyUSD,
		PlanHint:      constants.PlanPro,
		CycleHint:     constants.BillingCycleMonthly,
	}

	w := performWebhook(t, h, `{"type":"checkout.session.completed"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status want 200 got %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"received":true}` {
		t.Fatalf("unexpected ack body %q", got)
	}

	record, err := h.PaymentRepo.GetByTransactionID("cs_handler_1")
	if err != nil || record == nil {
		t.Fatalf("ledger record missing: %v", err)
	}
	if record.Status != constants.PaymentStatusCompleted {
		t.Fatalf("expected completed, got %s", record.Status)
	}
}

func TestStripeWebhookVerificationFailureReturns401(t *testing.T) {
	h, adapter := setupWebhookHandlerTest(t)
	adapter.err = fmt.Errorf("%w: bad signature", payment.ErrVerification)

	w := performWebhook(t, h, `{"type":"checkout.session.completed"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status want 401 got %d", w.Code)
	}
}

func TestWebhookUnknownProviderReturns503(t *testing.T) {
	h, _ := setupWebhookHandlerTest(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback/alipay", strings.NewReader("{}"))
	h.AlipayWebhook(c)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status want 503 got %d", w.Code)
	}
}

func TestGetPaymentMethodsByRegion(t *testing.T) {
	h, _ := setupWebhookHandlerTest(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/public/payment-methods", nil)
	h.GetPaymentMethods(c)

	if w.Code != http.StatusOK {
		t.Fatalf("status want 200 got %d", w.Code)
	}
	var resp struct {
		StatusCode int `json:"status_code"`
		Data       struct {
			Region  string   `json:"region"`
			Methods []string `json:"methods"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response failed: %v", err)
	}
	if resp.StatusCode != 0 {
		t.Fatalf("status_code want 0 got %d", resp.StatusCode)
	}
	if resp.Data.Region != constants.RegionINTL {
		t.Fatalf("region want intl got %s", resp.Data.Region)
	}
	if len(resp.Data.Methods) != 1 || resp.Data.Methods[0] != constants.PaymentMethodStripe {
		t.Fatalf("methods want [stripe] got %v", resp.Data.Methods)
	}
}
