package payment

import "time"

// EventKind 归一化后的内部事件类型。各提供方的原始事件名在适配器内
// 收敛到这组词汇，下游只认识这组词汇。
type EventKind string

const (
	// EventOrderApproved 买家已批准但未入账（如 PayPal CHECKOUT.ORDER.APPROVED）。
	EventOrderApproved EventKind = "order_approved"

	// EventOrderCompleted 入账完成，唯一允许发放权益的事件。
	EventOrderCompleted EventKind = "order_completed"

	// EventPaymentFailed 扣款失败。
	EventPaymentFailed EventKind = "payment_failed"

	// EventSubscriptionRenewed 订阅周期性续费成功（如 Stripe invoice.payment_succeeded）。
	EventSubscriptionRenewed EventKind = "subscription_renewed"

	// EventSubscriptionCancelled 订阅被取消。
	EventSubscriptionCancelled EventKind = "subscription_cancelled"

	// EventRefunded 已退款。
	EventRefunded EventKind = "refunded"

	// EventIgnored 验签通过但业务上不关心，直接确认不做任何变更。
	EventIgnored EventKind = "ignored"
)

// GrantsEntitlement 该事件是否允许发放/延长订阅权益。
// 只有入账完成与续费成功属于授予事件，approved/pending 一律不算。
func (k EventKind) GrantsEntitlement() bool {
	return k == EventOrderCompleted || k == EventSubscriptionRenewed
}

// Event 验签通过后归一化出的内部事件。
type Event struct {
	Kind EventKind

	// TransactionID 提供方交易号，幂等键。
	TransactionID string

	// ProviderRef 提供方二级引用（payment_intent、capture id 等）。
	ProviderRef string

	// ProviderEvent 提供方原始事件名，仅用于日志与留痕。
	ProviderEvent string

	Method string // stripe/paypal/wechat/alipay

	UserID string
	Email  string

	AmountValue string // 十进制字符串，主货币单位
	Currency    string

	// PlanHint / CycleHint 来自提供方元数据的档位与周期线索，
	// 可能为空，由计划解析链继续兜底。
	PlanHint  string
	CycleHint string

	// NicknameHint 价格/商品展示名，用于子串匹配解析档位。
	NicknameHint string

	// PriceID 提供方价格标识（Stripe price id 等）。
	PriceID string

	OccurredAt *time.Time

	// PeriodEnd 提供方声明的本期结束时间（如 Stripe 账单行的 period.end）。
	// 有值时订阅到期取 max(未过期的旧到期, PeriodEnd)，不再按周期天数叠加。
	PeriodEnd *time.Time

	// Raw 原始载荷摘录，随流水落库留痕。
	Raw map[string]interface{}
}
