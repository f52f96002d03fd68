package payment

import (
	"context"
	"net/http"
	"time"
)

// InteractionKind 客户端完成支付所需的交互方式。
type InteractionKind string

const (
	InteractionQR       InteractionKind = "qr"       // 展示二维码（微信 Native、支付宝当面付）
	InteractionRedirect InteractionKind = "redirect" // 跳转提供方托管页（Stripe Checkout、PayPal 审批页）
	InteractionClient   InteractionKind = "client"   // 客户端 SDK 凭据（预留）
)

// CreateOrderInput 下单输入。
type CreateOrderInput struct {
	// OrderID 本系统业务单号，透传给提供方做对账引用。
	OrderID string

	UserID string
	Email  string

	AmountValue string // 十进制字符串
	Currency    string

	Plan         string
	BillingCycle string

	Description string

	// ClientIP H5/网页下单场景部分提供方要求上送。
	ClientIP string
}

// CreateOrderResult 下单结果。
type CreateOrderResult struct {
	// TransactionID 提供方交易号，后续回调以它为幂等键。
	TransactionID string

	Interaction InteractionKind

	// PayURL 跳转地址或二维码内容，取决于 Interaction。
	PayURL string

	ExpiresAt *time.Time

	Raw map[string]interface{}
}

// QueryResult 主动查询结果。
type QueryResult struct {
	TransactionID string
	Status        string // constants.PaymentStatus*
	AmountValue   string
	Currency      string
	PaidAt        *time.Time
	Raw           map[string]interface{}
}

// RefundInput 退款输入。
type RefundInput struct {
	TransactionID string
	ProviderRef   string
	AmountValue   string
	Currency      string
	Reason        string
}

// RefundResult 退款结果。
type RefundResult struct {
	RefundID string
	Status   string
	Raw      map[string]interface{}
}

// Adapter 支付提供方适配器契约。四个提供方各自实现，上层只依赖此接口。
// 所有方法内部把具体失败包装到 ErrConfiguration/ErrProviderAPI/
// ErrVerification/ErrNotFound 四类上。
type Adapter interface {
	// Method 返回 constants.PaymentMethod* 之一。
	Method() string

	// CreateOrder 创建支付单并返回客户端交互所需信息。
	CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error)

	// QueryOrder 主动查询交易状态，用于轮询兜底。
	QueryOrder(ctx context.Context, transactionID string) (*QueryResult, error)

	// CancelOrder 尽力关闭提供方侧订单。提供方侧已终态不算错误。
	CancelOrder(ctx context.Context, transactionID string) error

	// HandleWebhook 验签并把原始回调归一化为内部事件。
	// 验签失败返回 ErrVerification，调用方必须回非 2xx 且不落库。
	HandleWebhook(ctx context.Context, req *http.Request, body []byte) (*Event, error)

	// Refund 提交退款。退款不回滚订阅权益。
	Refund(ctx context.Context, input RefundInput) (*RefundResult, error)

	// WebhookAck 提供方要求的成功应答体与 Content-Type。
	WebhookAck() (contentType string, body []byte)
}
