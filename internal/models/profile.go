package models

import "time"

// ProfileMirror 订阅状态在本库内的冗余镜像，供读路径低成本查询。
// 镜像允许短暂滞后，权威数据以 SubscriptionState 为准。
type ProfileMirror struct {
	ID uint `gorm:"primarykey" json:"id"`

	UserID string `gorm:"uniqueIndex;size:64;not null" json:"user_id"`

	Plan   string     `gorm:"size:32" json:"plan"`
	EndsAt *time.Time `json:"ends_at"`

	// SyncedAt 最近一次同步成功时间
	SyncedAt time.Time `json:"synced_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (ProfileMirror) TableName() string {
	return "profile_mirrors"
}
