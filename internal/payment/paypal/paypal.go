package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lumina-pay/internal/constants"
	"github.com/lumina-pay/internal/payment"
)

const (
	sandboxBaseURL = "https://api-m.sandbox.paypal.com"
	liveBaseURL    = "https://api-m.paypal.com"
	defaultTimeout = 12 * time.Second
)

// Config PayPal 渠道配置。
type Config struct {
	ClientID     string
	ClientSecret string
	Environment  string // sandbox / live
	WebhookID    string
	ReturnURL    string
	CancelURL    string
	BrandName    string
}

// ValidateConfig 校验配置。
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: paypal config is nil", payment.ErrConfiguration)
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return fmt.Errorf("%w: paypal client_id is required", payment.ErrConfiguration)
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return fmt.Errorf("%w: paypal client_secret is required", payment.ErrConfiguration)
	}
	if strings.TrimSpace(cfg.ReturnURL) == "" {
		return fmt.Errorf("%w: paypal return_url is required", payment.ErrConfiguration)
	}
	if strings.TrimSpace(cfg.CancelURL) == "" {
		return fmt.Errorf("%w: paypal cancel_url is required", payment.ErrConfiguration)
	}
	if _, err := url.ParseRequestURI(strings.TrimSpace(cfg.ReturnURL)); err != nil {
		return fmt.Errorf("%w: paypal return_url is invalid", payment.ErrConfiguration)
	}
	return nil
}

// Adapter PayPal 适配器，Orders v2 审批页模式。
// 签名校验走 /v1/notifications/verify-webhook-signature 官方接口。
type Adapter struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
}

// NewAdapter 创建 PayPal 适配器。
func NewAdapter(cfg Config) (*Adapter, error) {
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	baseURL := sandboxBaseURL
	if strings.EqualFold(strings.TrimSpace(cfg.Environment), "live") {
		baseURL = liveBaseURL
	}
	return &Adapter{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
	}, nil
}

// Method 渠道标识
func (a *Adapter) Method() string {
	return constants.PaymentMethodPaypal
}

// CreateOrder 创建 PayPal 订单并返回审批页地址。
func (a *Adapter) CreateOrder(ctx context.Context, input payment.CreateOrderInput) (*payment.CreateOrderResult, error) {
	if strings.TrimSpace(input.OrderID) == "" || strings.TrimSpace(input.AmountValue) == "" || strings.TrimSpace(input.Currency) == "" {
		return nil, fmt.Errorf("%w: order input is invalid", payment.ErrConfiguration)
	}

	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	description := strings.TrimSpace(input.Description)
	if description == "" {
		description = fmt.Sprintf("%s plan (%s)", input.Plan, input.BillingCycle)
	}
	appCtx := map[string]string{
		"return_url":          a.cfg.ReturnURL,
		"cancel_url":          a.cfg.CancelURL,
		"user_action":         "PAY_NOW",
		"shipping_preference": "NO_SHIPPING",
	}
	if brand := strings.TrimSpace(a.cfg.BrandName); brand != "" {
		appCtx["brand_name"] = brand
	}
	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"invoice_id": input.OrderID,
				"custom_id":  encodeCustomID(input.UserID, input.Plan, input.BillingCycle),
				"amount": map[string]string{
					"currency_code": strings.ToUpper(strings.TrimSpace(input.Currency)),
					"value":         strings.TrimSpace(input.AmountValue),
				},
				"description": description,
			},
		},
		"application_context": appCtx,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal create order request", payment.ErrProviderAPI)
	}

	respBody, statusCode, err := a.doJSON(ctx, http.MethodPost, "/v2/checkout/orders", token, body)
	if err != nil {
		return nil, err
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("%w: create order status %d", payment.ErrProviderAPI, statusCode)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode create order response", payment.ErrProviderAPI)
	}
	orderID := strings.TrimSpace(readString(raw, "id"))
	approvalURL := extractLinkByRel(raw, "approve")
	if orderID == "" || approvalURL == "" {
		return nil, fmt.Errorf("%w: missing order id or approve url", payment.ErrProviderAPI)
	}
	return &payment.CreateOrderResult{
		TransactionID: orderID,
		Interaction:   payment.InteractionRedirect,
		PayURL:        approvalURL,
		Raw:           raw,
	}, nil
}

// QueryOrder 查询 PayPal 订单状态。
func (a *Adapter) QueryOrder(ctx context.Context, transactionID string) (*payment.QueryResult, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, fmt.Errorf("%w: transaction id is empty", payment.ErrConfiguration)
	}
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	respBody, statusCode, err := a.doJSON(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(transactionID), token, nil)
	if err != nil {
		return nil, err
	}
	if statusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: order %s", payment.ErrNotFound, transactionID)
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("%w: query order status %d", payment.ErrProviderAPI, statusCode)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode query response", payment.ErrProviderAPI)
	}
	result := &payment.QueryResult{
		TransactionID: transactionID,
		Status:        ToPaymentStatus("", readString(raw, "status")),
		AmountValue:   readString(raw, "purchase_units", "0", "amount", "value"),
		Currency:      strings.ToUpper(readString(raw, "purchase_units", "0", "amount", "currency_code")),
		Raw:           raw,
	}
	return result, nil
}

// CaptureOrder 捕获已审批订单。
func (a *Adapter) CaptureOrder(ctx context.Context, orderID string) (map[string]interface{}, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	respBody, statusCode, err := a.doJSON(ctx, http.MethodPost, endpoint, token, []byte("{}"))
	if err != nil {
		return nil, err
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("%w: capture status %d", payment.ErrProviderAPI, statusCode)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode capture response", payment.ErrProviderAPI)
	}
	return raw, nil
}

// CancelOrder Orders v2 没有关单接口，未捕获的订单会在提供方侧自行过期，
// 这里只确认订单尚未入账。已入账的单子走退款，不能取消。
func (a *Adapter) CancelOrder(ctx context.Context, transactionID string) error {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return fmt.Errorf("%w: transaction id is empty", payment.ErrConfiguration)
	}
	result, err := a.QueryOrder(ctx, transactionID)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			return nil
		}
		return err
	}
	if result.Status == constants.PaymentStatusCompleted {
		return fmt.Errorf("%w: order already captured", payment.ErrProviderAPI)
	}
	return nil
}

// HandleWebhook 验签后归一化 PayPal 事件。
// 买家批准后本端主动捕获，入账以 PAYMENT.CAPTURE.COMPLETED 为准。
func (a *Adapter) HandleWebhook(ctx context.Context, req *http.Request, body []byte) (*payment.Event, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: webhook body is empty", payment.ErrVerification)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: webhook body invalid", payment.ErrVerification)
	}
	if err := a.verifyWebhookSignature(ctx, req.Header, raw); err != nil {
		return nil, err
	}

	eventType := strings.ToUpper(strings.TrimSpace(readString(raw, "event_type")))
	resource, _ := raw["resource"].(map[string]interface{})
	out := &payment.Event{
		Kind:          payment.EventIgnored,
		Method:        constants.PaymentMethodPaypal,
		ProviderEvent: eventType,
		Raw:           raw,
	}
	if t := parseRFC3339(readString(raw, "create_time")); t != nil {
		out.OccurredAt = t
	}

	switch eventType {
	case "CHECKOUT.ORDER.APPROVED":
		out.Kind = payment.EventOrderApproved
		out.TransactionID = strings.TrimSpace(readString(resource, "id"))
		fillFromPurchaseUnit(out, resource)
		// 审批不入账，立即发起捕获；入账结果由 capture 回调驱动
		if out.TransactionID != "" {
			if captured, err := a.CaptureOrder(ctx, out.TransactionID); err == nil {
				if strings.EqualFold(readString(captured, "status"), "COMPLETED") {
					out.Kind = payment.EventOrderCompleted
					fillFromCaptureResponse(out, captured)
				}
			}
		}

	case "PAYMENT.CAPTURE.COMPLETED":
		out.Kind = payment.EventOrderCompleted
		out.TransactionID = relatedOrderID(eventType, resource)
		out.ProviderRef = strings.TrimSpace(readString(resource, "id"))
		out.AmountValue = readString(resource, "amount", "value")
		out.Currency = strings.ToUpper(readString(resource, "amount", "currency_code"))
		decodeCustomID(readString(resource, "custom_id"), out)

	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED", "PAYMENT.CAPTURE.FAILED":
		out.Kind = payment.EventPaymentFailed
		out.TransactionID = relatedOrderID(eventType, resource)
		out.ProviderRef = strings.TrimSpace(readString(resource, "id"))
		decodeCustomID(readString(resource, "custom_id"), out)

	case "PAYMENT.CAPTURE.REFUNDED":
		out.Kind = payment.EventRefunded
		out.TransactionID = relatedOrderID(eventType, resource)
		out.ProviderRef = strings.TrimSpace(readString(resource, "id"))
		out.AmountValue = readString(resource, "amount", "value")
		out.Currency = strings.ToUpper(readString(resource, "amount", "currency_code"))

	case "BILLING.SUBSCRIPTION.CANCELLED":
		out.Kind = payment.EventSubscriptionCancelled
		out.TransactionID = strings.TrimSpace(readString(resource, "id"))
		decodeCustomID(readString(resource, "custom_id"), out)
	}

	return out, nil
}

// Refund 按 capture id 退款。
func (a *Adapter) Refund(ctx context.Context, input payment.RefundInput) (*payment.RefundResult, error) {
	captureID := strings.TrimSpace(input.ProviderRef)
	if captureID == "" {
		return nil, fmt.Errorf("%w: refund needs capture id", payment.ErrConfiguration)
	}
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{}
	if v := strings.TrimSpace(input.AmountValue); v != "" {
		payload["amount"] = map[string]string{
			"value":         v,
			"currency_code": strings.ToUpper(strings.TrimSpace(input.Currency)),
		}
	}
	if reason := strings.TrimSpace(input.Reason); reason != "" {
		payload["note_to_payer"] = reason
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal refund request", payment.ErrProviderAPI)
	}
	endpoint := "/v2/payments/captures/" + url.PathEscape(captureID) + "/refund"
	respBody, statusCode, err := a.doJSON(ctx, http.MethodPost, endpoint, token, body)
	if err != nil {
		return nil, err
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("%w: refund status %d", payment.ErrProviderAPI, statusCode)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode refund response", payment.ErrProviderAPI)
	}
	return &payment.RefundResult{
		RefundID: readString(raw, "id"),
		Status:   readString(raw, "status"),
		Raw:      raw,
	}, nil
}

// WebhookAck PayPal 要求 2xx 即可。
func (a *Adapter) WebhookAck() (string, []byte) {
	return "application/json", []byte(`{"received":true}`)
}

// verifyWebhookSignature 调用官方验签接口。
func (a *Adapter) verifyWebhookSignature(ctx context.Context, headers http.Header, event map[string]interface{}) error {
	if strings.TrimSpace(a.cfg.WebhookID) == "" {
		return fmt.Errorf("%w: paypal webhook_id is required", payment.ErrConfiguration)
	}
	token, err := a.accessToken(ctx)
	if err != nil {
		return err
	}

	payload := map[string]interface{}{
		"transmission_id":   strings.TrimSpace(headers.Get("Paypal-Transmission-Id")),
		"transmission_time": strings.TrimSpace(headers.Get("Paypal-Transmission-Time")),
		"cert_url":          strings.TrimSpace(headers.Get("Paypal-Cert-Url")),
		"auth_algo":         strings.TrimSpace(headers.Get("Paypal-Auth-Algo")),
		"transmission_sig":  strings.TrimSpace(headers.Get("Paypal-Transmission-Sig")),
		"webhook_id":        strings.TrimSpace(a.cfg.WebhookID),
		"webhook_event":     event,
	}
	for _, key := range []string{"transmission_id", "transmission_time", "cert_url", "auth_algo", "transmission_sig"} {
		if strings.TrimSpace(readString(payload, key)) == "" {
			return fmt.Errorf("%w: missing %s header", payment.ErrVerification, key)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal verify payload", payment.ErrVerification)
	}
	respBody, statusCode, err := a.doJSON(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", token, body)
	if err != nil {
		return err
	}
	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("%w: verify endpoint status %d", payment.ErrVerification, statusCode)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("%w: decode verify response", payment.ErrVerification)
	}
	if !strings.EqualFold(strings.TrimSpace(readString(resp, "verification_status")), "SUCCESS") {
		return fmt.Errorf("%w: verification_status is not success", payment.ErrVerification)
	}
	return nil
}

func (a *Adapter) accessToken(ctx context.Context) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	values := url.Values{}
	values.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/oauth2/token", strings.NewReader(values.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: build token request", payment.ErrProviderAPI)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(a.cfg.ClientID, a.cfg.ClientSecret)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: request token: %v", payment.ErrProviderAPI, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read token response", payment.ErrProviderAPI)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: token status %d", payment.ErrProviderAPI, resp.StatusCode)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode token response", payment.ErrProviderAPI)
	}
	token := strings.TrimSpace(readString(parsed, "access_token"))
	if token == "" {
		return "", fmt.Errorf("%w: access_token is empty", payment.ErrProviderAPI)
	}
	return token, nil
}

func (a *Adapter) doJSON(ctx context.Context, method, endpoint, token string, body []byte) ([]byte, int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+endpoint, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request", payment.ErrProviderAPI)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: http request: %v", payment.ErrProviderAPI, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response", payment.ErrProviderAPI)
	}
	return respBody, resp.StatusCode, nil
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultTimeout)
}

// encodeCustomID custom_id 承载用户与档位线索，竖线分隔。
func encodeCustomID(userID, plan, cycle string) string {
	return strings.Join([]string{
		strings.TrimSpace(userID),
		strings.TrimSpace(plan),
		strings.TrimSpace(cycle),
	}, "|")
}

func decodeCustomID(customID string, out *payment.Event) {
	parts := strings.Split(strings.TrimSpace(customID), "|")
	if len(parts) > 0 && out.UserID == "" {
		out.UserID = strings.TrimSpace(parts[0])
	}
	if len(parts) > 1 && out.PlanHint == "" {
		out.PlanHint = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 && out.CycleHint == "" {
		out.CycleHint = strings.TrimSpace(parts[2])
	}
}

func fillFromPurchaseUnit(out *payment.Event, resource map[string]interface{}) {
	out.AmountValue = readString(resource, "purchase_units", "0", "amount", "value")
	out.Currency = strings.ToUpper(readString(resource, "purchase_units", "0", "amount", "currency_code"))
	out.NicknameHint = readString(resource, "purchase_units", "0", "description")
	decodeCustomID(readString(resource, "purchase_units", "0", "custom_id"), out)
	if email := strings.TrimSpace(readString(resource, "payer", "email_address")); email != "" {
		out.Email = email
	}
}

func fillFromCaptureResponse(out *payment.Event, raw map[string]interface{}) {
	captures := readArray(raw, "purchase_units", "0", "payments", "captures")
	if len(captures) == 0 {
		return
	}
	captureMap, ok := captures[0].(map[string]interface{})
	if !ok {
		return
	}
	out.ProviderRef = strings.TrimSpace(readString(captureMap, "id"))
	if v := readString(captureMap, "amount", "value"); v != "" {
		out.AmountValue = v
		out.Currency = strings.ToUpper(readString(captureMap, "amount", "currency_code"))
	}
	if t := parseRFC3339(readString(captureMap, "create_time")); t != nil {
		out.OccurredAt = t
	}
}

// relatedOrderID 捕获类资源回溯其所属订单号。
func relatedOrderID(eventType string, resource map[string]interface{}) string {
	if val := strings.TrimSpace(readString(resource, "supplementary_data", "related_ids", "order_id")); val != "" {
		return val
	}
	if strings.HasPrefix(eventType, "CHECKOUT.ORDER") {
		if val := strings.TrimSpace(readString(resource, "id")); val != "" {
			return val
		}
	}
	return strings.TrimSpace(readString(resource, "order_id"))
}

// ToPaymentStatus 映射 PayPal 订单/捕获状态到系统支付状态。
func ToPaymentStatus(eventType, resourceStatus string) string {
	eventType = strings.ToUpper(strings.TrimSpace(eventType))
	resourceStatus = strings.ToUpper(strings.TrimSpace(resourceStatus))

	switch eventType {
	case "PAYMENT.CAPTURE.COMPLETED", "CHECKOUT.ORDER.COMPLETED":
		return constants.PaymentStatusCompleted
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED", "PAYMENT.CAPTURE.FAILED":
		return constants.PaymentStatusFailed
	case "CHECKOUT.ORDER.APPROVED":
		return constants.PaymentStatusApproved
	}

	switch resourceStatus {
	case "COMPLETED":
		return constants.PaymentStatusCompleted
	case "APPROVED":
		return constants.PaymentStatusApproved
	case "DENIED", "DECLINED", "FAILED", "VOIDED":
		return constants.PaymentStatusFailed
	case "REFUNDED":
		return constants.PaymentStatusRefunded
	default:
		return constants.PaymentStatusPending
	}
}

func parseRFC3339(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &parsed
}

func extractLinkByRel(raw map[string]interface{}, rel string) string {
	links, ok := raw["links"].([]interface{})
	if !ok {
		return ""
	}
	rel = strings.ToLower(strings.TrimSpace(rel))
	for _, item := range links {
		linkMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if strings.ToLower(strings.TrimSpace(readString(linkMap, "rel"))) != rel {
			continue
		}
		if href := strings.TrimSpace(readString(linkMap, "href")); href != "" {
			return href
		}
	}
	return ""
}

func readString(raw map[string]interface{}, path ...string) string {
	if raw == nil {
		return ""
	}
	var current interface{} = raw
	for _, seg := range path {
		if idx, err := strconv.Atoi(seg); err == nil {
			arr, ok := current.([]interface{})
			if !ok || idx < 0 || idx >= len(arr) {
				return ""
			}
			current = arr[idx]
			continue
		}
		next, ok := current.(map[string]interface{})
		if !ok {
			return ""
		}
		current = next[seg]
	}
	if current == nil {
		return ""
	}
	if str, ok := current.(string); ok {
		return str
	}
	return fmt.Sprintf("%v", current)
}

func readArray(raw map[string]interface{}, path ...string) []interface{} {
	if raw == nil {
		return nil
	}
	var current interface{} = raw
	for _, seg := range path {
		if idx, err := strconv.Atoi(seg); err == nil {
			arr, ok := current.([]interface{})
			if !ok || idx < 0 || idx >= len(arr) {
				return nil
			}
			current = arr[idx]
			continue
		}
		next, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current = next[seg]
	}
	arr, ok := current.([]interface{})
	if !ok {
		return nil
	}
	return arr
}
