package worker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/lumina-pay/internal/logger"
	"github.com/lumina-pay/internal/provider"
	"github.com/lumina-pay/internal/queue"
	"github.com/lumina-pay/internal/service"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskMirrorSync, c.handleMirrorSync)
	mux.HandleFunc(queue.TaskPaymentPoll, c.handlePaymentPoll)
}

func (c *Consumer) handleMirrorSync(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_mirror_sync_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.MirrorSyncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_mirror_sync_unmarshal_failed", "error", err)
		return err
	}
	if payload.UserID == "" {
		logger.Debugw("worker_mirror_sync_skip_invalid_payload", "task_id", payload.TaskID)
		return nil
	}
	if c.MirrorService == nil {
		logger.Warnw("worker_mirror_sync_skip_service_nil", "task_id", payload.TaskID)
		return nil
	}

	retryCount, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	isFinal := retryCount >= maxRetry

	if err := c.MirrorService.SyncUser(ctx, payload.TaskID, payload.UserID, isFinal); err != nil {
		logger.Warnw("worker_mirror_sync_failed",
			"task_id", payload.TaskID,
			"user_id", payload.UserID,
			"retry_count", retryCount,
			"is_final", isFinal,
			"error", err,
		)
		return err
	}
	return nil
}

func (c *Consumer) handlePaymentPoll(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_payment_poll_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.PaymentPollPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_payment_poll_unmarshal_failed", "error", err)
		return err
	}
	if payload.TransactionID == "" {
		logger.Debugw("worker_payment_poll_skip_invalid_payload")
		return nil
	}
	if c.PaymentService == nil {
		logger.Warnw("worker_payment_poll_skip_service_nil", "transaction_id", payload.TransactionID)
		return nil
	}
	_, err := c.PaymentService.RefreshByTransactionID(ctx, payload.TransactionID)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			logger.Debugw("worker_payment_poll_skip_order_not_found", "transaction_id", payload.TransactionID)
			return nil
		}
		logger.Warnw("worker_payment_poll_failed", "transaction_id", payload.TransactionID, "error", err)
		return err
	}
	return nil
}
