package models

import "time"

// 镜像同步任务状态
const (
	MirrorSyncPending = "pending"
	MirrorSyncDone    = "done"
	MirrorSyncFailed  = "failed"
)

// MirrorSyncTask 镜像同步待办记录。权威订阅状态落库后先写一条待办，
// 再交给队列异步推送镜像；推送失败由队列重试，全部用尽后标记 failed
// 供管理端排查补偿。
type MirrorSyncTask struct {
	ID uint `gorm:"primarykey" json:"id"`

	UserID        string `gorm:"index;size:64;not null" json:"user_id"`
	TransactionID string `gorm:"size:128" json:"transaction_id"`

	Status   string `gorm:"index;size:16;not null;default:pending" json:"status"`
	Attempts int    `gorm:"not null;default:0" json:"attempts"`
	LastErr  string `gorm:"size:512" json:"last_err"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (MirrorSyncTask) TableName() string {
	return "mirror_sync_tasks"
}
