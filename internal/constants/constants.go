package constants

// 支付状态常量
const (
	PaymentStatusPending   = "pending"
	PaymentStatusApproved  = "approved"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
	PaymentStatusRefunded  = "refunded"
)

// 支付方式常量
const (
	PaymentMethodStripe = "stripe"
	PaymentMethodPaypal = "paypal"
	PaymentMethodWechat = "wechat"
	PaymentMethodAlipay = "alipay"
)

// 支付交互方式常量
const (
	PaymentInteractionQR       = "qr"
	PaymentInteractionRedirect = "redirect"
	PaymentInteractionPage     = "page"
	PaymentInteractionClient   = "client"
)

// 订阅计划常量
const (
	PlanFree       = "free"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// 计费周期常量
const (
	BillingCycleMonthly = "monthly"
	BillingCycleYearly  = "yearly"
)

// 计费周期天数
const (
	MonthlyCycleDays = 30
	YearlyCycleDays  = 365
)

// 订阅状态常量
const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusCancelled = "cancelled"
)

// 部署区域常量
const (
	RegionCN   = "cn"
	RegionINTL = "intl"
)

// 区域默认币种
const (
	CurrencyCNY = "CNY"
	CurrencyUSD = "USD"
)

// 队列与任务常量
const (
	QueueDefault    = "default"
	QueueCritical   = "critical"
	TaskMirrorSync  = "mirror:sync"
	TaskPaymentPoll = "payment:poll"
)

// IsPaymentStatusTerminal 判断支付状态是否为终态。
func IsPaymentStatusTerminal(status string) bool {
	switch status {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// IsPaymentMethodValid 判断支付方式是否受支持。
func IsPaymentMethodValid(method string) bool {
	switch method {
	case PaymentMethodStripe, PaymentMethodPaypal, PaymentMethodWechat, PaymentMethodAlipay:
		return true
	default:
		return false
	}
}

// BillingCycleDays 返回计费周期对应的天数，默认按月。
func BillingCycleDays(cycle string) int {
	if cycle == BillingCycleYearly {
		return YearlyCycleDays
	}
	return MonthlyCycleDays
}

// MethodsForRegion 返回区域允许的下单支付方式。
func MethodsForRegion(region string) []string {
	if region == RegionCN {
		return []string{PaymentMethodWechat, PaymentMethodAlipay}
	}
	return []string{PaymentMethodStripe, PaymentMethodPaypal}
}

// DefaultCurrencyForRegion 返回区域默认币种。
func DefaultCurrencyForRegion(region string) string {
	if region == RegionCN {
		return CurrencyCNY
	}
	return CurrencyUSD
}
