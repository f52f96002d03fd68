package models

import (
	"time"

	"github.com/lumina-pay/internal/constants"
)

// SubscriptionState 用户订阅权威状态，每用户一行。
// 续费叠加规则：新到期 = max(未过期的旧到期, 现在) + 周期天数。
type SubscriptionState struct {
	ID uint `gorm:"primarykey" json:"id"`

	UserID string `gorm:"uniqueIndex;size:64;not null" json:"user_id"`

	Plan         string `gorm:"size:32;not null" json:"plan"`
	BillingCycle string `gorm:"size:16" json:"billing_cycle"`
	Status       string `gorm:"size:32;not null" json:"status"`

	// EndsAt 订阅到期时间，free 档位可为空。
	EndsAt *time.Time `json:"ends_at"`

	// LastTransactionID 最近一次驱动状态变化的交易，用于排障。
	LastTransactionID string `gorm:"size:128" json:"last_transaction_id"`

	// Version 乐观锁版本号，并发回调下保证叠加算术不丢更新。
	Version int64 `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (SubscriptionState) TableName() string {
	return "subscription_states"
}

// EffectivePlan 返回考虑过期后的实际档位：到期即回落 free。
// 取消只是停止续费，已付周期内仍保留档位。
func (s *SubscriptionState) EffectivePlan(now time.Time) string {
	if s == nil {
		return constants.PlanFree
	}
	if s.EndsAt == nil {
		if s.Status == constants.SubscriptionStatusActive {
			return s.Plan
		}
		return constants.PlanFree
	}
	if !s.EndsAt.After(now) {
		return constants.PlanFree
	}
	return s.Plan
}

// IsActive 订阅在 now 时刻是否有效
func (s *SubscriptionState) IsActive(now time.Time) bool {
	return s.EffectivePlan(now) != constants.PlanFree
}
