package repository

import "time"

// PaymentListFilter 查询支付流水列表的过滤条件
type PaymentListFilter struct {
	Page          int
	PageSize      int
	UserID        string
	Method        string
	Status        string
	Plan          string
	TransactionID string
	Search        string
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
}

// MirrorTaskListFilter 查询镜像同步任务的过滤条件
type MirrorTaskListFilter struct {
	Page     int
	PageSize int
	UserID   string
	Status   string
}
