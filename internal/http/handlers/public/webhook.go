package public

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/lumina-pay/internal/constants"
	"github.com/lumina-pay/internal/payment"

	"github.com/gin-gonic/gin"
)

const webhookLogValueLimit = 512

// StripeWebhook Stripe webhook 回调。
func (h *Handler) StripeWebhook(c *gin.Context) {
	h.handleProviderWebhook(c, constants.PaymentMethodStripe)
}

// PaypalWebhook PayPal webhook 回调。
func (h *Handler) PaypalWebhook(c *gin.Context) {
	h.handleProviderWebhook(c, constants.PaymentMethodPaypal)
}

// WechatWebhook 微信支付回调。
func (h *Handler) WechatWebhook(c *gin.Context) {
	h.handleProviderWebhook(c, constants.PaymentMethodWechat)
}

// AlipayWebhook 支付宝异步通知。
func (h *Handler) AlipayWebhook(c *gin.Context) {
	h.handleProviderWebhook(c, constants.PaymentMethodAlipay)
}

// handleProviderWebhook 回调统一入口：验签失败回非 2xx 让提供方重投，
// 验签通过后按各提供方要求的格式应答。
func (h *Handler) handleProviderWebhook(c *gin.Context, method string) {
	log := requestLog(c)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Warnw("webhook_body_read_failed", "provider", method, "error", err)
		c.String(http.StatusBadRequest, "bad request")
		return
	}
	log.Infow("webhook_received",
		"provider", method,
		"client_ip", c.ClientIP(),
		"content_type", strings.TrimSpace(c.GetHeader("Content-Type")),
		"body_size", len(body),
		"raw_body", truncateWebhookLogValue(string(body)),
	)

	outcome, err := h.WebhookService.HandleWebhook(c.Request.Context(), method, c.Request, body)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrVerification):
			c.String(http.StatusUnauthorized, "signature verification failed")
		case errors.Is(err, payment.ErrConfiguration):
			c.String(http.StatusServiceUnavailable, "provider not configured")
		default:
			c.String(http.StatusInternalServerError, "internal error")
		}
		return
	}

	adapter, ok := h.WebhookService.Adapter(method)
	if !ok {
		c.String(http.StatusServiceUnavailable, "provider not configured")
		return
	}
	if outcome != nil && outcome.Event != nil {
		log.Infow("webhook_processed",
			"provider", method,
			"event", string(outcome.Event.Kind),
			"provider_event", outcome.Event.ProviderEvent,
			"transaction_id", outcome.Event.TransactionID,
		)
	}
	contentType, ackBody := adapter.WebhookAck()
	c.Data(http.StatusOK, contentType, ackBody)
}

func truncateWebhookLogValue(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) <= webhookLogValueLimit {
		return raw
	}
	return raw[:webhookLogValueLimit] + "...(truncated)"
}
