package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lumina-pay/internal/constants"
	"github.com/lumina-pay/internal/payment"

	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Config Stripe 渠道配置。
type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// ValidateConfig 校验配置。
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: stripe config is nil", payment.ErrConfiguration)
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return fmt.Errorf("%w: stripe secret_key is required", payment.ErrConfiguration)
	}
	if strings.TrimSpace(cfg.SuccessURL) == "" {
		return fmt.Errorf("%w: stripe success_url is required", payment.ErrConfiguration)
	}
	if strings.TrimSpace(cfg.CancelURL) == "" {
		return fmt.Errorf("%w: stripe cancel_url is required", payment.ErrConfiguration)
	}
	return nil
}

// Adapter Stripe 适配器，托管页模式：下单创建 Checkout Session，
// 客户端跳转 session.URL 完成支付。
type Adapter struct {
	cfg Config
	api *client.API
}

// NewAdapter 创建 Stripe 适配器。
func NewAdapter(cfg Config) (*Adapter, error) {
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	api := &client.API{}
	api.Init(strings.TrimSpace(cfg.SecretKey), nil)
	return &Adapter{cfg: cfg, api: api}, nil
}

// Method 渠道标识
func (a *Adapter) Method() string {
	return constants.PaymentMethodStripe
}

// CreateOrder 创建 Checkout Session。
func (a *Adapter) CreateOrder(ctx context.Context, input payment.CreateOrderInput) (*payment.CreateOrderResult, error) {
	if strings.TrimSpace(input.OrderID) == "" || strings.TrimSpace(input.AmountValue) == "" {
		return nil, fmt.Errorf("%w: order input is invalid", payment.ErrConfiguration)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(input.AmountValue))
	if err != nil {
		return nil, fmt.Errorf("%w: amount is invalid", payment.ErrConfiguration)
	}

	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "usd"
	}
	name := strings.TrimSpace(input.Description)
	if name == "" {
		name = fmt.Sprintf("%s plan (%s)", strings.TrimSpace(input.Plan), strings.TrimSpace(input.BillingCycle))
	}

	params := &stripego.CheckoutSessionParams{
		Mode:       stripego.String(string(stripego.CheckoutSessionModePayment)),
		SuccessURL: stripego.String(a.cfg.SuccessURL),
		CancelURL:  stripego.String(a.cfg.CancelURL),
		LineItems: []*stripego.CheckoutSessionLineItemParams{
			{
				Quantity: stripego.Int64(1),
				PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripego.String(currency),
					UnitAmount: stripego.Int64(toMinorUnits(amount)),
					ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripego.String(name),
					},
				},
			},
		},
		ClientReferenceID: stripego.String(input.OrderID),
		Metadata: map[string]string{
			"order_id":      input.OrderID,
			"user_id":       strings.TrimSpace(input.UserID),
			"plan":          strings.TrimSpace(input.Plan),
			"billing_cycle": strings.TrimSpace(input.BillingCycle),
		},
	}
	if email := strings.TrimSpace(input.Email); email != "" {
		params.CustomerEmail = stripego.String(email)
	}
	params.Context = ctx

	session, err := a.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: create checkout session: %v", payment.ErrProviderAPI, err)
	}
	if session.ID == "" || session.URL == "" {
		return nil, fmt.Errorf("%w: checkout session missing id or url", payment.ErrProviderAPI)
	}

	result := &payment.CreateOrderResult{
		TransactionID: session.ID,
		Interaction:   payment.InteractionRedirect,
		PayURL:        session.URL,
	}
	if session.ExpiresAt > 0 {
		t := time.Unix(session.ExpiresAt, 0)
		result.ExpiresAt = &t
	}
	return result, nil
}

// QueryOrder 按 session id 主动查询。
func (a *Adapter) QueryOrder(ctx context.Context, transactionID string) (*payment.QueryResult, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, fmt.Errorf("%w: transaction id is empty", payment.ErrConfiguration)
	}
	params := &stripego.CheckoutSessionParams{}
	params.Context = ctx
	session, err := a.api.CheckoutSessions.Get(transactionID, params)
	if err != nil {
		var stripeErr *stripego.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: session %s", payment.ErrNotFound, transactionID)
		}
		return nil, fmt.Errorf("%w: get checkout session: %v", payment.ErrProviderAPI, err)
	}

	result := &payment.QueryResult{
		TransactionID: session.ID,
		Status:        sessionToStatus(session),
		Currency:      strings.ToUpper(string(session.Currency)),
	}
	if session.AmountTotal > 0 {
		result.AmountValue = fromMinorUnits(session.AmountTotal).StringFixed(2)
	}
	return result, nil
}

// CancelOrder 使未支付的 Checkout Session 过期。
// 已完成或已过期的 session 无法再 expire，视为已终态。
func (a *Adapter) CancelOrder(ctx context.Context, transactionID string) error {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return fmt.Errorf("%w: transaction id is empty", payment.ErrConfiguration)
	}
	params := &stripego.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := a.api.CheckoutSessions.Expire(transactionID, params); err != nil {
		var stripeErr *stripego.Error
		if errors.As(err, &stripeErr) &&
			(stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.HTTPStatusCode == http.StatusBadRequest) {
			return nil
		}
		return fmt.Errorf("%w: expire checkout session: %v", payment.ErrProviderAPI, err)
	}
	return nil
}

// HandleWebhook 用 webhook secret 验签并归一化事件。
func (a *Adapter) HandleWebhook(ctx context.Context, req *http.Request, body []byte) (*payment.Event, error) {
	if strings.TrimSpace(a.cfg.WebhookSecret) == "" {
		return nil, fmt.Errorf("%w: stripe webhook_secret is required", payment.ErrConfiguration)
	}
	sig := req.Header.Get("Stripe-Signature")
	event, err := webhook.ConstructEventWithOptions(body, sig, a.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: stripe signature: %v", payment.ErrVerification, err)
	}
	return a.normalizeEvent(&event)
}

func (a *Adapter) normalizeEvent(event *stripego.Event) (*payment.Event, error) {
	out := &payment.Event{
		Kind:          payment.EventIgnored,
		Method:        constants.PaymentMethodStripe,
		ProviderEvent: string(event.Type),
	}
	if event.Created > 0 {
		t := time.Unix(event.Created, 0)
		out.OccurredAt = &t
	}

	switch event.Type {
	case stripego.EventTypeCheckoutSessionCompleted:
		var session stripego.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: parse checkout session: %v", payment.ErrProviderAPI, err)
		}
		// async 支付方式下 completed 事件可能仍是 unpaid，等 async_payment_succeeded
		if session.PaymentStatus != stripego.CheckoutSessionPaymentStatusPaid &&
			session.PaymentStatus != stripego.CheckoutSessionPaymentStatusNoPaymentRequired {
			return out, nil
		}
		out.Kind = payment.EventOrderCompleted
		fillFromSession(out, &session)

	case stripego.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var session stripego.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: parse checkout session: %v", payment.ErrProviderAPI, err)
		}
		out.Kind = payment.EventOrderCompleted
		fillFromSession(out, &session)

	case stripego.EventTypeCheckoutSessionAsyncPaymentFailed, stripego.EventTypeCheckoutSessionExpired:
		var session stripego.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: parse checkout session: %v", payment.ErrProviderAPI, err)
		}
		out.Kind = payment.EventPaymentFailed
		fillFromSession(out, &session)

	case stripego.EventTypeInvoicePaymentSucceeded:
		var invoice stripego.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("%w: parse invoice: %v", payment.ErrProviderAPI, err)
		}
		out.Kind = payment.EventSubscriptionRenewed
		fillFromInvoice(out, &invoice)

	case stripego.EventTypeInvoicePaymentFailed:
		var invoice stripego.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("%w: parse invoice: %v", payment.ErrProviderAPI, err)
		}
		out.Kind = payment.EventPaymentFailed
		fillFromInvoice(out, &invoice)

	case stripego.EventTypeCustomerSubscriptionDeleted:
		var sub stripego.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: parse subscription: %v", payment.ErrProviderAPI, err)
		}
		out.Kind = payment.EventSubscriptionCancelled
		out.TransactionID = sub.ID
		out.UserID = sub.Metadata["user_id"]
		if sub.Customer != nil {
			out.ProviderRef = sub.Customer.ID
			if out.Email == "" {
				out.Email = sub.Customer.Email
			}
		}

	case stripego.EventTypeChargeRefunded:
		var charge stripego.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, fmt.Errorf("%w: parse charge: %v", payment.ErrProviderAPI, err)
		}
		out.Kind = payment.EventRefunded
		out.ProviderRef = charge.ID
		if charge.PaymentIntent != nil {
			out.TransactionID = charge.PaymentIntent.ID
		}
		out.AmountValue = fromMinorUnits(charge.AmountRefunded).StringFixed(2)
		out.Currency = strings.ToUpper(string(charge.Currency))
	}

	return out, nil
}

// Refund 按 payment_intent 退款。
func (a *Adapter) Refund(ctx context.Context, input payment.RefundInput) (*payment.RefundResult, error) {
	ref := strings.TrimSpace(input.ProviderRef)
	if ref == "" {
		return nil, fmt.Errorf("%w: refund needs payment intent reference", payment.ErrConfiguration)
	}
	params := &stripego.RefundParams{
		PaymentIntent: stripego.String(ref),
	}
	if v := strings.TrimSpace(input.AmountValue); v != "" {
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("%w: refund amount is invalid", payment.ErrConfiguration)
		}
		params.Amount = stripego.Int64(toMinorUnits(amount))
	}
	params.Context = ctx

	r, err := a.api.Refunds.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: create refund: %v", payment.ErrProviderAPI, err)
	}
	return &payment.RefundResult{
		RefundID: r.ID,
		Status:   string(r.Status),
	}, nil
}

// WebhookAck Stripe 要求 2xx 即可。
func (a *Adapter) WebhookAck() (string, []byte) {
	return "application/json", []byte(`{"received":true}`)
}

func fillFromSession(out *payment.Event, session *stripego.CheckoutSession) {
	out.TransactionID = session.ID
	out.UserID = session.Metadata["user_id"]
	out.PlanHint = session.Metadata["plan"]
	out.CycleHint = session.Metadata["billing_cycle"]
	out.Email = session.CustomerEmail
	if out.Email == "" && session.CustomerDetails != nil {
		out.Email = session.CustomerDetails.Email
	}
	if session.PaymentIntent != nil {
		out.ProviderRef = session.PaymentIntent.ID
	}
	out.AmountValue = fromMinorUnits(session.AmountTotal).StringFixed(2)
	out.Currency = strings.ToUpper(string(session.Currency))
}

func fillFromInvoice(out *payment.Event, invoice *stripego.Invoice) {
	out.TransactionID = invoice.ID
	out.AmountValue = fromMinorUnits(invoice.AmountPaid).StringFixed(2)
	if invoice.AmountPaid == 0 {
		out.AmountValue = fromMinorUnits(invoice.AmountDue).StringFixed(2)
	}
	out.Currency = strings.ToUpper(string(invoice.Currency))
	out.Email = invoice.CustomerEmail
	if invoice.Customer != nil {
		out.ProviderRef = invoice.Customer.ID
		if out.Email == "" {
			out.Email = invoice.Customer.Email
		}
	}
	out.UserID = invoice.Metadata["user_id"]
	if out.UserID == "" && invoice.Subscription != nil {
		out.UserID = invoice.Subscription.Metadata["user_id"]
	}
	if invoice.Lines != nil && len(invoice.Lines.Data) > 0 {
		line := invoice.Lines.Data[0]
		if line.Period != nil && line.Period.End > 0 {
			periodEnd := time.Unix(line.Period.End, 0)
			out.PeriodEnd = &periodEnd
		}
		if line.Price != nil {
			out.PriceID = line.Price.ID
			out.NicknameHint = line.Price.Nickname
			if out.PlanHint == "" {
				out.PlanHint = line.Price.Metadata["plan"]
			}
			if out.CycleHint == "" {
				out.CycleHint = line.Price.Metadata["billing_cycle"]
			}
			if out.CycleHint == "" && line.Price.Recurring != nil {
				switch line.Price.Recurring.Interval {
				case stripego.PriceRecurringIntervalYear:
					out.CycleHint = constants.BillingCycleYearly
				case stripego.PriceRecurringIntervalMonth:
					out.CycleHint = constants.BillingCycleMonthly
				}
			}
		}
	}
	if out.UserID == "" && invoice.SubscriptionDetails != nil {
		out.UserID = invoice.SubscriptionDetails.Metadata["user_id"]
	}
}

func sessionToStatus(session *stripego.CheckoutSession) string {
	switch session.Status {
	case stripego.CheckoutSessionStatusComplete:
		if session.PaymentStatus == stripego.CheckoutSessionPaymentStatusPaid ||
			session.PaymentStatus == stripego.CheckoutSessionPaymentStatusNoPaymentRequired {
			return constants.PaymentStatusCompleted
		}
		return constants.PaymentStatusPending
	case stripego.CheckoutSessionStatusExpired:
		return constants.PaymentStatusFailed
	default:
		return constants.PaymentStatusPending
	}
}

// toMinorUnits 主货币单位转最小单位（分）。
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromMinorUnits(amount int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Div(decimal.NewFromInt(100))
}
