package models

import (
	"time"

	"github.com/lumina-pay/internal/constants"
)

// PaymentRecord 支付流水，按 transaction_id 幂等去重。
// 同一 transaction_id 的多次写入只保留一条记录，created_at 不变。
type PaymentRecord struct {
	ID uint `gorm:"primarykey" json:"id"`

	// TransactionID 提供方侧的唯一交易标识（Stripe session id、
	// PayPal order id、微信商户单号、支付宝商户单号）。
	TransactionID string `gorm:"uniqueIndex;size:128;not null" json:"transaction_id"`

	// OrderID 本系统生成的业务单号，用于客户端查询。
	OrderID string `gorm:"index;size:64" json:"order_id"`

	UserID string `gorm:"index;size:64" json:"user_id"`
	Email  string `gorm:"size:255" json:"email"`

	Method   string `gorm:"index;size:32;not null" json:"method"` // stripe/paypal/wechat/alipay
	Status   string `gorm:"index;size:32;not null" json:"status"`
	Amount   Money  `gorm:"type:decimal(12,2)" json:"amount"`
	Currency string `gorm:"size:8" json:"currency"`

	// Plan / BillingCycle 从回调价格信息解析出的订阅档位与周期。
	Plan         string `gorm:"size:32" json:"plan"`
	BillingCycle string `gorm:"size:16" json:"billing_cycle"`

	// ProviderRef 提供方的二级引用（Stripe payment_intent、微信 transaction_id 等）。
	ProviderRef string `gorm:"index;size:128" json:"provider_ref"`

	Metadata JSONMap `gorm:"type:text" json:"metadata"`

	// GrantedAt 订阅授予完成时间。收款完成但尚未对账授予
	// （如轮询推进的 completed）时为空，回调管线据此补授。
	GrantedAt *time.Time `json:"granted_at"`

	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (PaymentRecord) TableName() string {
	return "payment_records"
}

// IsCompleted 是否已完成收款
func (p *PaymentRecord) IsCompleted() bool {
	return p.Status == constants.PaymentStatusCompleted
}

// IsTerminal 是否处于终态
func (p *PaymentRecord) IsTerminal() bool {
	return constants.IsPaymentStatusTerminal(p.Status)
}

// IsGranted 该笔交易的订阅权益是否已发放。
func (p *PaymentRecord) IsGranted() bool {
	return p.GrantedAt != nil
}
