package queue

import (
	"encoding/json"

	"github.com/lumina-pay/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskMirrorSync 订阅镜像同步任务
	TaskMirrorSync = constants.TaskMirrorSync
	// TaskPaymentPoll 轮询兜底任务：回调迟迟不到时主动查单
	TaskPaymentPoll = constants.TaskPaymentPoll
)

// MirrorSyncPayload 镜像同步任务载荷
type MirrorSyncPayload struct {
	TaskID uint   `json:"task_id"`
	UserID string `json:"user_id"`
}

// PaymentPollPayload 主动查单任务载荷
type PaymentPollPayload struct {
	TransactionID string `json:"transaction_id"`
	Method        string `json:"method"`
}

// NewMirrorSyncTask 创建镜像同步任务
func NewMirrorSyncTask(payload MirrorSyncPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMirrorSync, body), nil
}

// NewPaymentPollTask 创建主动查单任务
func NewPaymentPollTask(payload PaymentPollPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentPoll, body), nil
}
