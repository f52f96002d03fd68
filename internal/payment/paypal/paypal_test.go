package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lumina-pay/internal/constants"
	"github.com/lumina-pay/internal/payment"
)

func TestToPaymentStatus(t *testing.T) {
	cases := []struct {
		eventType      string
		resourceStatus string
		want           string
	}{
		{"PAYMENT.CAPTURE.COMPLETED", "", constants.PaymentStatusCompleted},
		{"CHECKOUT.ORDER.COMPLETED", "", constants.PaymentStatusCompleted},
		{"CHECKOUT.ORDER.APPROVED", "", constants.PaymentStatusApproved},
		{"PAYMENT.CAPTURE.DENIED", "", constants.PaymentStatusFailed},
		{"", "COMPLETED", constants.PaymentStatusCompleted},
		{"", "APPROVED", constants.PaymentStatusApproved},
		{"", "VOIDED", constants.PaymentStatusFailed},
		{"", "REFUNDED", constants.PaymentStatusRefunded},
		{"", "CREATED", constants.PaymentStatusPending},
	}
	for _, c := range cases {
		if got := ToPaymentStatus(c.eventType, c.resourceStatus); got != c.want {
			t.Fatalf("ToPaymentStatus(%q, %q) = %q, want %q", c.eventType, c.resourceStatus, got, c.want)
		}
	}
}

func TestDecodeCustomID(t *testing.T) {
	out := &payment.Event{}
	decodeCustomID("u42|enterprise|yearly", out)
	if out.UserID != "u42" || out.PlanHint != "enterprise" || out.CycleHint != "yearly" {
		t.Fatalf("unexpected decode result: %+v", out)
	}

	// 已有字段不被覆盖
	out = &payment.Event{UserID: "keep"}
	decodeCustomID("other|pro|monthly", out)
	if out.UserID != "keep" {
		t.Fatalf("existing user_id overwritten: %q", out.UserID)
	}
}

func TestRelatedOrderID(t *testing.T) {
	var resource map[string]interface{}
	payload := `{
		"id": "CAP-1",
		"supplementary_data": {"related_ids": {"order_id": "ORD-9"}}
	}`
	if err := json.Unmarshal([]byte(payload), &resource); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got := relatedOrderID("PAYMENT.CAPTURE.COMPLETED", resource); got != "ORD-9" {
		t.Fatalf("expected ORD-9, got %q", got)
	}

	// CHECKOUT.ORDER 事件的资源本身就是订单
	orderResource := map[string]interface{}{"id": "ORD-5"}
	if got := relatedOrderID("CHECKOUT.ORDER.APPROVED", orderResource); got != "ORD-5" {
		t.Fatalf("expected ORD-5, got %q", got)
	}
}

func TestFillFromPurchaseUnit(t *testing.T) {
	var resource map[string]interface{}
	payload := `{
		"id": "ORD-1",
		"purchase_units": [{
			"description": "Lumina pro (monthly)",
			"custom_id": "u1|pro|monthly",
			"amount": {"value": "15.00", "currency_code": "usd"}
		}],
		"payer": {"email_address": "buyer@example.com"}
	}`
	if err := json.Unmarshal([]byte(payload), &resource); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	out := &payment.Event{}
	fillFromPurchaseUnit(out, resource)
	if out.AmountValue != "15.00" || out.Currency != "USD" {
		t.Fatalf("unexpected amount %s %s", out.AmountValue, out.Currency)
	}
	if out.UserID != "u1" || out.PlanHint != "pro" {
		t.Fatalf("custom_id not decoded: %+v", out)
	}
	if out.Email != "buyer@example.com" {
		t.Fatalf("payer email not filled: %q", out.Email)
	}
	if out.NicknameHint != "Lumina pro (monthly)" {
		t.Fatalf("description not filled: %q", out.NicknameHint)
	}
}

func TestParseRFC3339(t *testing.T) {
	if got := parseRFC3339("2026-08-27T10:30:00Z"); got == nil {
		t.Fatalf("expected parsed time")
	}
	if got := parseRFC3339("not-a-time"); got != nil {
		t.Fatalf("expected nil for invalid input, got %v", got)
	}
	if got := parseRFC3339(""); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

func TestValidateConfigMissingFields(t *testing.T) {
	err := ValidateConfig(&Config{})
	if err == nil {
		t.Fatalf("expected error for empty config")
	}
}

// newStubAPIAdapter 把适配器指向本地替身接口：token、验签、捕获各一个端点。
func newStubAPIAdapter(t *testing.T, verifyBody string, captureStatus int, captureBody string) *Adapter {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"test-token","expires_in":3600}`)
	})
	mux.HandleFunc("/v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, verifyBody)
	})
	mux.HandleFunc("/v2/checkout/orders/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(captureStatus)
		fmt.Fprint(w, captureBody)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &Adapter{
		cfg: Config{
			ClientID:     "cid",
			ClientSecret: "secret",
			WebhookID:    "wh_1",
			ReturnURL:    "https://app.example.com/return",
			CancelURL:    "https://app.example.com/cancel",
		},
		baseURL:    srv.URL,
		httpClient: srv.Client(),
	}
}

func newSignedWebhookRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "/api/v1/payments/callback/paypal", nil)
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	req.Header.Set("Paypal-Transmission-Id", "tid-1")
	req.Header.Set("Paypal-Transmission-Time", "2026-08-27T10:30:00Z")
	req.Header.Set("Paypal-Cert-Url", "https://api.paypal.com/cert")
	req.Header.Set("Paypal-Auth-Algo", "SHA256withRSA")
	req.Header.Set("Paypal-Transmission-Sig", "sig-1")
	return req
}

const approvedEventBody = `{
	"event_type": "CHECKOUT.ORDER.APPROVED",
	"create_time": "2026-08-27T10:30:00Z",
	"resource": {
		"id": "ORDER123",
		"purchase_units": [{
			"custom_id": "u7|pro|monthly",
			"amount": {"value": "15.00", "currency_code": "USD"}
		}]
	}
}`

func TestHandleWebhookApprovedCapturesAndCompletes(t *testing.T) {
	captureBody := `{
		"status": "COMPLETED",
		"purchase_units": [{
			"payments": {
				"captures": [{
					"id": "CAP1",
					"amount": {"value": "15.00", "currency_code": "USD"},
					"create_time": "2026-08-27T10:30:05Z"
				}]
			}
		}]
	}`
	adapter := newStubAPIAdapter(t, `{"verification_status":"SUCCESS"}`, http.StatusCreated, captureBody)

	event, err := adapter.HandleWebhook(context.Background(), newSignedWebhookRequest(t), []byte(approvedEventBody))
	if err != nil {
		t.Fatalf("handle webhook failed: %v", err)
	}
	if event.Kind != payment.EventOrderCompleted {
		t.Fatalf("expected order_completed after capture, got %s", event.Kind)
	}
	if !event.Kind.GrantsEntitlement() {
		t.Fatalf("captured order must grant entitlement")
	}
	if event.TransactionID != "ORDER123" {
		t.Fatalf("unexpected transaction id %q", event.TransactionID)
	}
	if event.ProviderRef != "CAP1" {
		t.Fatalf("expected capture id as provider ref, got %q", event.ProviderRef)
	}
	if event.UserID != "u7" || event.PlanHint != "pro" {
		t.Fatalf("custom_id not decoded: user=%q plan=%q", event.UserID, event.PlanHint)
	}
}

func TestHandleWebhookApprovedCaptureFailureStaysApproved(t *testing.T) {
	adapter := newStubAPIAdapter(t, `{"verification_status":"SUCCESS"}`,
		http.StatusUnprocessableEntity, `{"name":"UNPROCESSABLE_ENTITY"}`)

	event, err := adapter.HandleWebhook(context.Background(), newSignedWebhookRequest(t), []byte(approvedEventBody))
	if err != nil {
		t.Fatalf("handle webhook failed: %v", err)
	}
	// 捕获失败只通报 approved，入账等 PAYMENT.CAPTURE.COMPLETED 重试后再发
	if event.Kind != payment.EventOrderApproved {
		t.Fatalf("expected order_approved on capture failure, got %s", event.Kind)
	}
	if event.Kind.GrantsEntitlement() {
		t.Fatalf("capture failure must not grant entitlement")
	}
	if event.TransactionID != "ORDER123" {
		t.Fatalf("unexpected transaction id %q", event.TransactionID)
	}
}

func TestHandleWebhookRejectsFailedVerification(t *testing.T) {
	adapter := newStubAPIAdapter(t, `{"verification_status":"FAILURE"}`, http.StatusCreated, `{}`)

	_, err := adapter.HandleWebhook(context.Background(), newSignedWebhookRequest(t), []byte(approvedEventBody))
	if !errors.Is(err, payment.ErrVerification) {
		t.Fatalf("expected verification error, got %v", err)
	}
}

func TestHandleWebhookRejectsMissingSignatureHeaders(t *testing.T) {
	adapter := newStubAPIAdapter(t, `{"verification_status":"SUCCESS"}`, http.StatusCreated, `{}`)

	req, err := http.NewRequest(http.MethodPost, "/api/v1/payments/callback/paypal", nil)
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	_, err = adapter.HandleWebhook(context.Background(), req, []byte(approvedEventBody))
	if !errors.Is(err, payment.ErrVerification) {
		t.Fatalf("expected verification error, got %v", err)
	}
}
