package service

import (
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

func setupSubscriptionServiceTest(t *testing.T) (*SubscriptionService, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:subscription_service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(&models.SubscriptionState{}); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	cfg := &config.Config{}
	cfg.Providers.PricePlans = map[string]string{
		"price_pro_yearly": "pro:yearly",
		"price_ent":        "enterprise",
	}
	svc := NewSubscriptionService(cfg, repository.NewSubscriptionRepository(db))
	return svc, db
}

func TestComputeSubscriptionEndFromNow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got := ComputeSubscriptionEnd(nil, now, constants.BillingCycleMonthly)
	want := now.AddDate(0, 0, 30)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	// 已过期的旧到期时间不参与叠加
	expired := now.Add(-time.Hour)
	got = ComputeSubscriptionEnd(&expired, now, constants.BillingCycleYearly)
	want = now.AddDate(0, 0, 365)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestComputeSubscriptionEndStacksRemaining(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	existing := now.AddDate(0, 0, 10)

	got := ComputeSubscriptionEnd(&existing, now, constants.BillingCycleMonthly)
	want := existing.AddDate(0, 0, 30)
	if !got.Equal(want) {
		t.Fatalf("expected remaining 10 days stacked to %v, got %v", want, got)
	}
}

func TestResolvePlanByMetadata(t *testing.T) {
	svc, _ := setupSubscriptionServiceTest(t)

	res, err := svc.ResolvePlan(&payment.Event{
		PlanHint:  "pro",
		CycleHint: "monthly",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Plan != constants.PlanPro || res.Cycle != constants.BillingCycleMonthly {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	if res.ResolvedBy != "metadata" {
		t.Fatalf("expected metadata, got %s", res.ResolvedBy)
	}
}

func TestResolvePlanByNickname(t *testing.T) {
	svc, _ := setupSubscriptionServiceTest(t)

	res, err := svc.ResolvePlan(&payment.Event{
		NicknameHint: "Enterprise Yearly Plan",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Plan != constants.PlanEnterprise {
		t.Fatalf("expected enterprise, got %s", res.Plan)
	}
	if res.Cycle != constants.BillingCycleYearly {
		t.Fatalf("expected yearly, got %s", res.Cycle)
	}
	if res.ResolvedBy != "nickname" {
		t.Fatalf("expected nickname, got %s", res.ResolvedBy)
	}
}

func TestResolvePlanByPriceID(t *testing.T) {
	svc, _ := setupSubscriptionServiceTest(t)

	res, err := svc.ResolvePlan(&payment.Event{
		PriceID: "price_pro_yearly",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Plan != constants.PlanPro || res.Cycle != constants.BillingCycleYearly {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	if res.ResolvedBy != "price_id" {
		t.Fatalf("expected price_id, got %s", res.ResolvedBy)
	}
}

func TestResolvePlanByAmountHeuristic(t *testing.T) {
	svc, _ := setupSubscriptionServiceTest(t)

	// 月付 39 美元落在企业档阈值之上
	res, err := svc.ResolvePlan(&payment.Event{
		AmountValue: "39",
		Currency:    constants.CurrencyUSD,
		CycleHint:   "monthly",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Plan != constants.PlanEnterprise {
		t.Fatalf("expected enterprise, got %s", res.Plan)
	}
	if res.ResolvedBy != "amount_heuristic" {
		t.Fatalf("expected amount_heuristic, got %s", res.ResolvedBy)
	}

	res, err = svc.ResolvePlan(&payment.Event{
		AmountValue: "15",
		Currency:    constants.CurrencyUSD,
		CycleHint:   "monthly",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Plan != constants.PlanPro {
		t.Fatalf("expected pro, got %s", res.Plan)
	}
}

func TestResolvePlanUnresolvable(t *testing.T) {
	svc, _ := setupSubscriptionServiceTest(t)

	if _, err := svc.ResolvePlan(&payment.Event{}); err == nil {
		t.Fatalf("expected error for empty event")
	}
}

func TestApplyCompletionCreatesAndStacks(t *testing.T) {
	svc, _ := setupSubscriptionServiceTest(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	state, err := svc.ApplyCompletion("u1", constants.PlanPro, constants.BillingCycleMonthly, "tx1", nil, now)
	if err != nil {
		t.Fatalf("first completion failed: %v", err)
	}
	if state.EndsAt == nil || !state.EndsAt.Equal(now.AddDate(0, 0, 30)) {
		t.Fatalf("unexpected first ends_at: %v", state.EndsAt)
	}

	// 第二次续费在剩余时长之上叠加
	state, err = svc.ApplyCompletion("u1", constants.PlanPro, constants.BillingCycleMonthly, "tx2", nil, now)
	if err != nil {
		t.Fatalf("second completion failed: %v", err)
	}
	if state.EndsAt == nil || !state.EndsAt.Equal(now.AddDate(0, 0, 60)) {
		t.Fatalf("expected 60 days stacked, got %v", state.EndsAt)
	}
	if state.LastTransactionID != "tx2" {
		t.Fatalf("expected last transaction tx2, got %s", state.LastTransactionID)
	}
}

func TestApplyCompletionExplicitPeriodEnd(t *testing.T) {
	svc, _ := setupSubscriptionServiceTest(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// 首次授予：显式结束时间直接作为到期
	periodEnd := now.AddDate(0, 0, 45)
	state, err := svc.ApplyCompletion("u1", constants.PlanPro, constants.BillingCycleMonthly, "tx1", &periodEnd, now)
	if err != nil {
		t.Fatalf("completion failed: %v", err)
	}
	if state.EndsAt == nil || !state.EndsAt.Equal(periodEnd) {
		t.Fatalf("expected explicit period end %v, got %v", periodEnd, state.EndsAt)
	}

	// 显式结束早于未过期的旧到期时取旧到期
	earlier := now.AddDate(0, 0, 10)
	state, err = svc.ApplyCompletion("u1", constants.PlanPro, constants.BillingCycleMonthly, "tx2", &earlier, now)
	if err != nil {
		t.Fatalf("second completion failed: %v", err)
	}
	if state.EndsAt == nil || !state.EndsAt.Equal(periodEnd) {
		t.Fatalf("expected ends_at kept at %v, got %v", periodEnd, state.EndsAt)
	}

	// 显式结束晚于旧到期时取显式结束
	later := now.AddDate(0, 0, 90)
	state, err = svc.ApplyCompletion("u1", constants.PlanPro, constants.BillingCycleMonthly, "tx3", &later, now)
	if err != nil {
		t.Fatalf("third completion failed: %v", err)
	}
	if state.EndsAt == nil || !state.EndsAt.Equal(later) {
		t.Fatalf("expected ends_at %v, got %v", later, state.EndsAt)
	}
}

func TestApplyCompletionReactivatesCancelled(t *testing.T) {
	svc, _ := setupSubscriptionServiceTest(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := svc.ApplyCompletion("u1", constants.PlanPro, constants.BillingCycleMonthly, "tx1", nil, now); err != nil {
		t.Fatalf("completion failed: %v", err)
	}
	if err := svc.ApplyCancellation("u1", "tx_cancel", now); err != nil {
		t.Fatalf("cancellation failed: %v", err)
	}

	state, err := svc.ApplyCompletion("u1", constants.PlanPro, constants.BillingCycleMonthly, "tx2", nil, now)
	if err != nil {
		t.Fatalf("re-completion failed: %v", err)
	}
	if state.Status != constants.SubscriptionStatusActive {
		t.Fatalf("expected active after payment, got %s", state.Status)
	}
}

func TestApplyCancellationKeepsEndsAt(t *testing.T) {
	svc, _ := setupSubscriptionServiceTest(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	created, err := svc.ApplyCompletion("u1", constants.PlanPro, constants.BillingCycleMonthly, "tx1", nil, now)
	if err != nil {
		t.Fatalf("completion failed: %v", err)
	}
	originalEnd := *created.EndsAt

	if err := svc.ApplyCancellation("u1", "tx_cancel", now); err != nil {
		t.Fatalf("cancellation failed: %v", err)
	}

	state, plan, err := svc.GetEffective("u1", now)
	if err != nil {
		t.Fatalf("get effective failed: %v", err)
	}
	if state.Status != constants.SubscriptionStatusCancelled {
		t.Fatalf("expected cancelled, got %s", state.Status)
	}
	if state.EndsAt == nil || !state.EndsAt.Equal(originalEnd) {
		t.Fatalf("expected ends_at preserved, got %v", state.EndsAt)
	}
	// 取消后已付周期内档位仍生效
	if plan != constants.PlanPro {
		t.Fatalf("expected pro until period end, got %s", plan)
	}

	// 周期结束后回落到免费档
	_, plan, err = svc.GetEffective("u1", originalEnd.Add(time.Hour))
	if err != nil {
		t.Fatalf("get effective failed: %v", err)
	}
	if plan != constants.PlanFree {
		t.Fatalf("expected free after period end, got %s", plan)
	}
}

func TestApplyCancellationMissingUserIsNoop(t *testing.T) {
	svc, _ := setupSubscriptionServiceTest(t)
	if err := svc.ApplyCancellation("ghost", "tx", time.Now()); err != nil {
		t.Fatalf("expected noop, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	svc, db := setupSubscriptionServiceTest(t)
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.AddDate(0, 0, 10)

	seed := []models.SubscriptionState{
		{UserID: "old", Plan: constants.PlanPro, Status: constants.SubscriptionStatusActive, EndsAt: &past},
		{UserID: "live", Plan: constants.PlanPro, Status: constants.SubscriptionStatusActive, EndsAt: &future},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	swept, err := svc.SweepExpired(now, 10)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(swept) != 1 || swept[0] != "old" {
		t.Fatalf("unexpected swept users: %v", swept)
	}

	var state models.SubscriptionState
	if err := db.Where("user_id = ?", "old").First(&state).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if state.Status != constants.SubscriptionStatusExpired {
		t.Fatalf("expected expired, got %s", state.Status)
	}
}
