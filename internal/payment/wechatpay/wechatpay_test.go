package wechatpay

import (
	"errors"
	"testing"

	"github.com/lumina-pay/internal/constants"
	"github.com/lumina-pay/internal/payment"
)

func TestToPaymentStatus(t *testing.T) {
	cases := []struct {
		tradeState string
		want       string
		wantOK     bool
	}{
		{"SUCCESS", constants.PaymentStatusCompleted, true},
		{"REFUND", constants.PaymentStatusRefunded, true},
		{"NOTPAY", constants.PaymentStatusPending, true},
		{"USERPAYING", constants.PaymentStatusPending, true},
		{"CLOSED", constants.PaymentStatusFailed, true},
		{"REVOKED", constants.PaymentStatusFailed, true},
		{"PAYERROR", constants.PaymentStatusFailed, true},
		{"success", constants.PaymentStatusCompleted, true},
		{"UNKNOWN_STATE", "", false},
	}
	for _, c := range cases {
		got, ok := ToPaymentStatus(c.tradeState)
		if got != c.want || ok != c.wantOK {
			t.Fatalf("ToPaymentStatus(%q) = (%q, %v), want (%q, %v)", c.tradeState, got, ok, c.want, c.wantOK)
		}
	}
}

func TestConvertAmountToFen(t *testing.T) {
	fen, err := convertAmountToFen("99.00")
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if fen != 9900 {
		t.Fatalf("expected 9900, got %d", fen)
	}

	if _, err := convertAmountToFen("0"); !errors.Is(err, payment.ErrConfiguration) {
		t.Fatalf("expected configuration error for zero amount, got %v", err)
	}
	// 超过分精度必须拒绝而不是静默截断
	if _, err := convertAmountToFen("0.001"); !errors.Is(err, payment.ErrConfiguration) {
		t.Fatalf("expected configuration error for sub-fen precision, got %v", err)
	}
	if _, err := convertAmountToFen("abc"); !errors.Is(err, payment.ErrConfiguration) {
		t.Fatalf("expected configuration error for invalid amount, got %v", err)
	}
}

func TestFenToAmountString(t *testing.T) {
	if got := fenToAmountString(9900); got != "99.00" {
		t.Fatalf("expected 99.00, got %q", got)
	}
	if got := fenToAmountString(1); got != "0.01" {
		t.Fatalf("expected 0.01, got %q", got)
	}
}

func TestAttachRoundtrip(t *testing.T) {
	out := &payment.Event{}
	decodeAttach(encodeAttach("u7", "enterprise", "yearly"), out)
	if out.UserID != "u7" || out.PlanHint != "enterprise" || out.CycleHint != "yearly" {
		t.Fatalf("attach roundtrip failed: %+v", out)
	}
}

func TestValidateConfigAPIV3KeyLength(t *testing.T) {
	cfg := &Config{
		AppID:              "wx1234567890",
		MerchantID:         "1900000001",
		MerchantSerialNo:   "ABCDEF",
		MerchantPrivateKey: "not-empty",
		APIV3Key:           "too-short",
		NotifyURL:          "https://pay.example.com/api/v1/payments/callback/wechat",
	}
	if err := ValidateConfig(cfg); !errors.Is(err, payment.ErrConfiguration) {
		t.Fatalf("expected configuration error for short api_v3_key, got %v", err)
	}
}
