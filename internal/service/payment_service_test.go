package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lumina-pay/internal/config"
	"github.com/lumina-pay/internal/constants"
	"github.com/lumina-pay/internal/models"
	"github.com/lumina-pay/internal/payment"
	"github.com/lumina-pay/internal/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupPaymentServiceTest(t *testing.T, region string) (*PaymentService, repository.PaymentRepository) {
	t.Helper()
	dsn := fmt.Sprintf("file:payment_service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(&models.PaymentRecord{}); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}

	cfg := &config.Config{}
	cfg.Region.Name = region

	adapters := map[string]payment.Adapter{}
	for _, m := range constants.MethodsForRegion(region) {
		adapters[m] = &stubAdapter{method: m}
	}
	repo := repository.NewPaymentRepository(db)
	return NewPaymentService(cfg, adapters, repo, nil), repo
}

func TestAvailableMethodsByRegion(t *testing.T) {
	svc, _ := setupPaymentServiceTest(t, constants.RegionINTL)
	methods := svc.AvailableMethods()
	if len(methods) != 2 {
		t.Fatalf("expected 2 methods, got %v", methods)
	}
	for _, m := range methods {
		if m == constants.PaymentMethodWechat || m == constants.PaymentMethodAlipay {
			t.Fatalf("cn method %s leaked into intl region", m)
		}
	}

	cnSvc, _ := setupPaymentServiceTest(t, constants.RegionCN)
	for _, m := range cnSvc.AvailableMethods() {
		if m == constants.PaymentMethodStripe || m == constants.PaymentMethodPaypal {
			t.Fatalf("intl method %s leaked into cn region", m)
		}
	}
}

func TestCreatePaymentWritesPendingLedger(t *testing.T) {
	svc, repo := setupPaymentServiceTest(t, constants.RegionINTL)

	result, err := svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:       "u1",
		Email:        "buyer@example.com",
		Method:       constants.PaymentMethodStripe,
		Plan:         constants.PlanPro,
		BillingCycle: constants.BillingCycleMonthly,
	})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}
	if result.OrderID == "" || result.TransactionID == "" {
		t.Fatalf("missing identifiers: %+v", result)
	}
	// 金额按档位查表，不信任客户端
	if result.Amount != "15" || result.Currency != constants.CurrencyUSD {
		t.Fatalf("unexpected price %s %s", result.Amount, result.Currency)
	}

	record, err := repo.GetByOrderID(result.OrderID)
	if err != nil || record == nil {
		t.Fatalf("pending record missing: %v", err)
	}
	if record.Status != constants.PaymentStatusPending {
		t.Fatalf("expected pending, got %s", record.Status)
	}
	if record.UserID != "u1" || record.Plan != constants.PlanPro {
		t.Fatalf("record fields wrong: %+v", record)
	}
}

func TestCreatePaymentRejectsCrossRegionMethod(t *testing.T) {
	svc, _ := setupPaymentServiceTest(t, constants.RegionCN)
	_, err := svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:       "u1",
		Method:       constants.PaymentMethodStripe,
		Plan:         constants.PlanPro,
		BillingCycle: constants.BillingCycleMonthly,
	})
	if !errors.Is(err, ErrMethodNotAvailable) {
		t.Fatalf("expected method not available, got %v", err)
	}
}

func TestCreatePaymentRejectsUnknownPlan(t *testing.T) {
	svc, _ := setupPaymentServiceTest(t, constants.RegionINTL)
	_, err := svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:       "u1",
		Method:       constants.PaymentMethodStripe,
		Plan:         "free",
		BillingCycle: constants.BillingCycleMonthly,
	})
	if !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("expected invalid plan, got %v", err)
	}
}

func TestCancelOnlyNonTerminalOrders(t *testing.T) {
	svc, repo := setupPaymentServiceTest(t, constants.RegionINTL)

	result, err := svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:       "u1",
		Method:       constants.PaymentMethodStripe,
		Plan:         constants.PlanPro,
		BillingCycle: constants.BillingCycleMonthly,
	})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	if err := svc.Cancel(context.Background(), result.OrderID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	record, err := repo.GetByOrderID(result.OrderID)
	if err != nil || record == nil {
		t.Fatalf("record missing: %v", err)
	}
	if record.Status != constants.PaymentStatusCancelled {
		t.Fatalf("expected cancelled, got %s", record.Status)
	}

	// 重复取消幂等
	if err := svc.Cancel(context.Background(), result.OrderID); err != nil {
		t.Fatalf("repeated cancel must be a no-op, got %v", err)
	}

	if err := svc.Cancel(context.Background(), "LPmissing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCancelRejectsCompletedOrder(t *testing.T) {
	svc, repo := setupPaymentServiceTest(t, constants.RegionINTL)

	result, err := svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:       "u1",
		Method:       constants.PaymentMethodStripe,
		Plan:         constants.PlanPro,
		BillingCycle: constants.BillingCycleMonthly,
	})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}
	now := time.Now()
	if err := repo.UpsertByTransactionID(&models.PaymentRecord{
		TransactionID: result.TransactionID,
		Status:        constants.PaymentStatusCompleted,
		CompletedAt:   &now,
	}); err != nil {
		t.Fatalf("mark completed failed: %v", err)
	}

	if err := svc.Cancel(context.Background(), result.OrderID); !errors.Is(err, ErrOrderNotRefundable) {
		t.Fatalf("completed order must not be cancellable, got %v", err)
	}
}

func TestRefundRequiresCompletedOrder(t *testing.T) {
	svc, repo := setupPaymentServiceTest(t, constants.RegionINTL)

	result, err := svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:       "u1",
		Method:       constants.PaymentMethodStripe,
		Plan:         constants.PlanPro,
		BillingCycle: constants.BillingCycleMonthly,
	})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	if _, err := svc.Refund(context.Background(), result.TransactionID, "test"); !errors.Is(err, ErrOrderNotRefundable) {
		t.Fatalf("pending order must not be refundable, got %v", err)
	}

	now := time.Now()
	if err := repo.UpsertByTransactionID(&models.PaymentRecord{
		TransactionID: result.TransactionID,
		Status:        constants.PaymentStatusCompleted,
		CompletedAt:   &now,
	}); err != nil {
		t.Fatalf("mark completed failed: %v", err)
	}

	refund, err := svc.Refund(context.Background(), result.TransactionID, "user request")
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if refund.RefundID == "" {
		t.Fatalf("expected refund id")
	}
	record, err := repo.GetByTransactionID(result.TransactionID)
	if err != nil || record == nil {
		t.Fatalf("record missing: %v", err)
	}
	if record.Status != constants.PaymentStatusRefunded {
		t.Fatalf("expected refunded, got %s", record.Status)
	}
}
