package stripe

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/lumina-pay/internal/constants"
	"github.com/lumina-pay/internal/payment"

	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v79"
)

func TestMinorUnitsRoundtrip(t *testing.T) {
	if got := toMinorUnits(decimal.RequireFromString("15.00")); got != 1500 {
		t.Fatalf("expected 1500, got %d", got)
	}
	if got := fromMinorUnits(1500).StringFixed(2); got != "15.00" {
		t.Fatalf("expected 15.00, got %q", got)
	}
	if got := toMinorUnits(decimal.RequireFromString("0.015")); got != 2 {
		t.Fatalf("expected rounding to 2, got %d", got)
	}
}

func TestSessionToStatus(t *testing.T) {
	cases := []struct {
		status        stripego.CheckoutSessionStatus
		paymentStatus stripego.CheckoutSessionPaymentStatus
		want          string
	}{
		{stripego.CheckoutSessionStatusComplete, stripego.CheckoutSessionPaymentStatusPaid, constants.PaymentStatusCompleted},
		{stripego.CheckoutSessionStatusComplete, stripego.CheckoutSessionPaymentStatusNoPaymentRequired, constants.PaymentStatusCompleted},
		{stripego.CheckoutSessionStatusComplete, stripego.CheckoutSessionPaymentStatusUnpaid, constants.PaymentStatusPending},
		{stripego.CheckoutSessionStatusExpired, stripego.CheckoutSessionPaymentStatusUnpaid, constants.PaymentStatusFailed},
		{stripego.CheckoutSessionStatusOpen, stripego.CheckoutSessionPaymentStatusUnpaid, constants.PaymentStatusPending},
	}
	for _, c := range cases {
		session := &stripego.CheckoutSession{Status: c.status, PaymentStatus: c.paymentStatus}
		if got := sessionToStatus(session); got != c.want {
			t.Fatalf("sessionToStatus(%s, %s) = %q, want %q", c.status, c.paymentStatus, got, c.want)
		}
	}
}

func rawEvent(t *testing.T, eventType stripego.EventType, payload string) *stripego.Event {
	t.Helper()
	return &stripego.Event{
		Type:    eventType,
		Created: 1756290600,
		Data:    &stripego.EventData{Raw: json.RawMessage(payload)},
	}
}

func TestNormalizeEventCheckoutCompleted(t *testing.T) {
	adapter := &Adapter{cfg: Config{SecretKey: "sk_test", WebhookSecret: "whsec_test"}}
	event := rawEvent(t, stripego.EventTypeCheckoutSessionCompleted, `{
		"id": "cs_test_1",
		"payment_status": "paid",
		"amount_total": 1500,
		"currency": "usd",
		"customer_email": "buyer@example.com",
		"metadata": {"user_id": "u1", "plan": "pro", "billing_cycle": "monthly"}
	}`)

	out, err := adapter.normalizeEvent(event)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if out.Kind != payment.EventOrderCompleted {
		t.Fatalf("expected order_completed, got %s", out.Kind)
	}
	if out.TransactionID != "cs_test_1" {
		t.Fatalf("unexpected transaction id %q", out.TransactionID)
	}
	if out.AmountValue != "15.00" || out.Currency != "USD" {
		t.Fatalf("unexpected amount %s %s", out.AmountValue, out.Currency)
	}
	if out.UserID != "u1" || out.PlanHint != "pro" || out.CycleHint != "monthly" {
		t.Fatalf("metadata not extracted: %+v", out)
	}
	if out.OccurredAt == nil {
		t.Fatalf("expected occurred_at from event created")
	}
}

func TestNormalizeEventUnpaidCompletedIsIgnored(t *testing.T) {
	adapter := &Adapter{cfg: Config{SecretKey: "sk_test", WebhookSecret: "whsec_test"}}
	event := rawEvent(t, stripego.EventTypeCheckoutSessionCompleted, `{
		"id": "cs_test_2",
		"payment_status": "unpaid",
		"amount_total": 1500,
		"currency": "usd"
	}`)

	out, err := adapter.normalizeEvent(event)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if out.Kind != payment.EventIgnored {
		t.Fatalf("unpaid session must be ignored, got %s", out.Kind)
	}
}

func TestNormalizeEventInvoiceRenewal(t *testing.T) {
	adapter := &Adapter{cfg: Config{SecretKey: "sk_test", WebhookSecret: "whsec_test"}}
	event := rawEvent(t, stripego.EventTypeInvoicePaymentSucceeded, `{
		"id": "in_1",
		"amount_paid": 30000,
		"currency": "usd",
		"customer_email": "buyer@example.com",
		"metadata": {"user_id": "u1"},
		"lines": {"data": [{
			"period": {"start": 1756290600, "end": 1787826600},
			"price": {
				"id": "price_ent_yearly",
				"nickname": "Enterprise Yearly",
				"metadata": {},
				"recurring": {"interval": "year"}
			}
		}]}
	}`)

	out, err := adapter.normalizeEvent(event)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if out.Kind != payment.EventSubscriptionRenewed {
		t.Fatalf("expected subscription_renewed, got %s", out.Kind)
	}
	if out.PriceID != "price_ent_yearly" || out.NicknameHint != "Enterprise Yearly" {
		t.Fatalf("price hints not extracted: %+v", out)
	}
	if out.CycleHint != constants.BillingCycleYearly {
		t.Fatalf("expected yearly from recurring interval, got %q", out.CycleHint)
	}
	if out.AmountValue != "300.00" {
		t.Fatalf("unexpected amount %s", out.AmountValue)
	}
	// 账单行的 period.end 作为本期到期口径透传
	if out.PeriodEnd == nil || out.PeriodEnd.Unix() != 1787826600 {
		t.Fatalf("expected period end from invoice line, got %v", out.PeriodEnd)
	}
}

func TestNormalizeEventChargeRefunded(t *testing.T) {
	adapter := &Adapter{cfg: Config{SecretKey: "sk_test", WebhookSecret: "whsec_test"}}
	event := rawEvent(t, stripego.EventTypeChargeRefunded, `{
		"id": "ch_1",
		"payment_intent": {"id": "pi_1"},
		"amount_refunded": 1500,
		"currency": "usd"
	}`)

	out, err := adapter.normalizeEvent(event)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if out.Kind != payment.EventRefunded {
		t.Fatalf("expected refunded, got %s", out.Kind)
	}
	if out.TransactionID != "pi_1" || out.ProviderRef != "ch_1" {
		t.Fatalf("unexpected ids: %+v", out)
	}
	if out.AmountValue != "15.00" {
		t.Fatalf("unexpected amount %s", out.AmountValue)
	}
}

func TestNormalizeEventUnknownTypeIgnored(t *testing.T) {
	adapter := &Adapter{cfg: Config{SecretKey: "sk_test", WebhookSecret: "whsec_test"}}
	event := rawEvent(t, "payment_intent.created", `{}`)

	out, err := adapter.normalizeEvent(event)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if out.Kind != payment.EventIgnored {
		t.Fatalf("expected ignored, got %s", out.Kind)
	}
}

func TestHandleWebhookWithoutSecret(t *testing.T) {
	adapter := &Adapter{cfg: Config{SecretKey: "sk_test"}}
	_, err := adapter.HandleWebhook(nil, nil, nil)
	if !errors.Is(err, payment.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestValidateConfigMissingFields(t *testing.T) {
	if err := ValidateConfig(&Config{}); !errors.Is(err, payment.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
