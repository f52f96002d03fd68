package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lumina-pay/internal/authdir"
	"github.com/lumina-pay/internal/cache"
	"github.com/lumina-pay/internal/config"
	"github.com/lumina-pay/internal/constants"
	"github.com/lumina-pay/internal/logger"
	"github.com/lumina-pay/internal/models"
	"github.com/lumina-pay/internal/payment"
	"github.com/lumina-pay/internal/queue"
	"github.com/lumina-pay/internal/repository"
)

// WebhookOutcome 回调处理结果，交由 HTTP 层按提供方格式应答。
type WebhookOutcome struct {
	// Ack 为 true 时按适配器的 WebhookAck 回 2xx；
	// 为 false 时回非 2xx，提供方会重投。
	Ack bool

	Event *payment.Event
}

// WebhookService 回调管线：验签 → 归一化 → 解析用户 → 幂等入账 → 订阅对账 → 镜像派发。
type WebhookService struct {
	cfg *config.Config

	adapters map[string]payment.Adapter

	paymentRepo    repository.PaymentRepository
	mirrorTaskRepo repository.MirrorTaskRepository

	subscriptionSvc *SubscriptionService
	authdirClient   *authdir.Client
	queueClient     *queue.Client
}

// NewWebhookService 创建回调服务
func NewWebhookService(
	cfg *config.Config,
	adapters map[string]payment.Adapter,
	paymentRepo repository.PaymentRepository,
	mirrorTaskRepo repository.MirrorTaskRepository,
	subscriptionSvc *SubscriptionService,
	authdirClient *authdir.Client,
	queueClient *queue.Client,
) *WebhookService {
	return &WebhookService{
		cfg:             cfg,
		adapters:        adapters,
		paymentRepo:     paymentRepo,
		mirrorTaskRepo:  mirrorTaskRepo,
		subscriptionSvc: subscriptionSvc,
		authdirClient:   authdirClient,
		queueClient:     queueClient,
	}
}

// Adapter 按支付方式取适配器，HTTP 层用它拿 WebhookAck。
func (s *WebhookService) Adapter(method string) (payment.Adapter, bool) {
	adapter, ok := s.adapters[method]
	return adapter, ok
}

// HandleWebhook 处理一条提供方回调。
// 验签失败返回 error 且不落任何状态；验签通过后尽量吞掉下游错误并确认，
// 避免提供方无限重投一条我们已经留痕的消息。
func (s *WebhookService) HandleWebhook(ctx context.Context, method string, req *http.Request, body []byte) (*WebhookOutcome, error) {
	adapter, ok := s.adapters[method]
	if !ok {
		return nil, payment.ErrConfiguration
	}

	event, err := adapter.HandleWebhook(ctx, req, body)
	if err != nil {
		if errors.Is(err, payment.ErrVerification) {
			logger.Warnw("webhook_verification_failed",
				"method", method,
				"error", err.Error(),
			)
		} else {
			logger.Errorw("webhook_handle_failed",
				"method", method,
				"error", err.Error(),
			)
		}
		return nil, err
	}

	if event.Kind == payment.EventIgnored {
		logger.Debugw("webhook_ignored",
			"method", method,
			"provider_event", event.ProviderEvent,
		)
		return &WebhookOutcome{Ack: true, Event: event}, nil
	}

	if err := s.processEvent(ctx, event); err != nil {
		return nil, err
	}
	return &WebhookOutcome{Ack: true, Event: event}, nil
}

// processEvent 对归一化事件做幂等入账与订阅对账。
func (s *WebhookService) processEvent(ctx context.Context, event *payment.Event) error {
	now := time.Now()

	// 同一交易的授予事件只能生效一次。判定依据是 granted_at 而不是
	// 流水状态：轮询可能先把流水推成 completed，但权益要等回调来补授。
	existing, err := s.paymentRepo.GetByTransactionID(event.TransactionID)
	if err != nil {
		return err
	}
	if existing != nil && event.Kind.GrantsEntitlement() {
		if existing.Status == constants.PaymentStatusRefunded {
			logger.Warnw("webhook_stale_completion_after_refund",
				"method", event.Method,
				"transaction_id", event.TransactionID,
				"provider_event", event.ProviderEvent,
			)
			return nil
		}
		if existing.IsGranted() {
			logger.Infow("webhook_duplicate_completion",
				"method", event.Method,
				"transaction_id", event.TransactionID,
				"provider_event", event.ProviderEvent,
			)
			return nil
		}
	}

	userID := s.resolveUserID(ctx, event, existing)

	record := s.buildRecord(event, existing, userID, now)
	if err := s.paymentRepo.UpsertByTransactionID(record); err != nil {
		logger.Errorw("payment_ledger_upsert_failed",
			"method", event.Method,
			"transaction_id", event.TransactionID,
			"error", err.Error(),
		)
		return err
	}

	// 用户解析不出来：流水已留痕，确认回调并告警，等人工或补偿流程认领。
	if userID == "" && requiresUser(event.Kind) {
		logger.Errorw("payment_user_unresolved",
			"method", event.Method,
			"transaction_id", event.TransactionID,
			"provider_event", event.ProviderEvent,
			"email", event.Email,
		)
		return nil
	}

	switch {
	case event.Kind.GrantsEntitlement():
		return s.applyGrant(ctx, event, record, userID, now)
	case event.Kind == payment.EventSubscriptionCancelled:
		if err := s.subscriptionSvc.ApplyCancellation(userID, event.TransactionID, now); err != nil {
			logger.Errorw("subscription_cancel_failed",
				"user_id", userID,
				"transaction_id", event.TransactionID,
				"error", err.Error(),
			)
			return err
		}
		s.invalidateSubscriptionCache(ctx, userID)
		logger.Infow("subscription_cancelled",
			"user_id", userID,
			"transaction_id", event.TransactionID,
		)
		return nil
	default:
		// failed / approved / refunded 只改流水状态。退款不回收已授予的订阅时长。
		logger.Infow("payment_status_recorded",
			"method", event.Method,
			"transaction_id", event.TransactionID,
			"status", record.Status,
			"provider_event", event.ProviderEvent,
		)
		return nil
	}
}

// applyGrant 授予事件：订阅叠加 + 镜像待办 + 异步同步。
func (s *WebhookService) applyGrant(ctx context.Context, event *payment.Event, record *models.PaymentRecord, userID string, now time.Time) error {
	resolution, err := s.subscriptionSvc.ResolvePlan(event)
	if err != nil {
		logger.Errorw("plan_resolution_failed",
			"method", event.Method,
			"transaction_id", event.TransactionID,
			"error", err.Error(),
		)
		// 钱已收、流水已落，确认回调，由管理端对账补授。
		return nil
	}
	if resolution.ResolvedBy != "metadata" {
		// 把解析出的档位回写到流水，后续查询口径一致。
		record.Plan = resolution.Plan
		record.BillingCycle = resolution.Cycle
		if err := s.paymentRepo.UpsertByTransactionID(record); err != nil {
			logger.Warnw("payment_plan_backfill_failed",
				"transaction_id", event.TransactionID,
				"error", err.Error(),
			)
		}
	}

	state, err := s.subscriptionSvc.ApplyCompletion(userID, resolution.Plan, resolution.Cycle, event.TransactionID, event.PeriodEnd, now)
	if err != nil {
		logger.Errorw("subscription_apply_failed",
			"user_id", userID,
			"transaction_id", event.TransactionID,
			"plan", resolution.Plan,
			"error", err.Error(),
		)
		return err
	}
	// 重投靠 granted_at 短路；标记失败只告警，不回滚已授予的订阅。
	if err := s.paymentRepo.MarkGranted(event.TransactionID, now); err != nil {
		logger.Errorw("payment_mark_granted_failed",
			"transaction_id", event.TransactionID,
			"error", err.Error(),
		)
	}
	s.invalidateSubscriptionCache(ctx, userID)

	logger.Infow("subscription_granted",
		"user_id", userID,
		"transaction_id", event.TransactionID,
		"plan", state.Plan,
		"cycle", state.BillingCycle,
		"ends_at", state.EndsAt,
		"resolved_by", resolution.ResolvedBy,
	)

	s.dispatchMirrorSync(userID, event.TransactionID)
	return nil
}

// dispatchMirrorSync 先落待办再入队；入队失败只告警，待办兜底可补偿。
func (s *WebhookService) dispatchMirrorSync(userID, transactionID string) {
	task := &models.MirrorSyncTask{
		UserID:        userID,
		TransactionID: transactionID,
		Status:        models.MirrorSyncPending,
	}
	if err := s.mirrorTaskRepo.Create(task); err != nil {
		logger.Errorw("mirror_task_create_failed",
			"user_id", userID,
			"transaction_id", transactionID,
			"error", err.Error(),
		)
		return
	}
	if s.queueClient == nil || !s.queueClient.Enabled() {
		logger.Warnw("mirror_sync_queue_disabled", "task_id", task.ID, "user_id", userID)
		return
	}
	maxRetry := s.cfg.Mirror.SyncMaxRetry
	if err := s.queueClient.EnqueueMirrorSync(queue.MirrorSyncPayload{TaskID: task.ID, UserID: userID}, maxRetry); err != nil {
		logger.Errorw("mirror_sync_enqueue_failed",
			"task_id", task.ID,
			"user_id", userID,
			"error", err.Error(),
		)
	}
}

// resolveUserID 事件内用户优先，其次旧流水，最后按邮箱查账号目录。
func (s *WebhookService) resolveUserID(ctx context.Context, event *payment.Event, existing *models.PaymentRecord) string {
	if id := strings.TrimSpace(event.UserID); id != "" {
		return id
	}
	if existing != nil && existing.UserID != "" {
		return existing.UserID
	}
	email := strings.TrimSpace(event.Email)
	if email == "" || s.authdirClient == nil || !s.authdirClient.Enabled() {
		return ""
	}
	id, err := s.authdirClient.ResolveUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, authdir.ErrUserNotFound) {
			logger.Warnw("authdir_lookup_failed", "email", email, "error", err.Error())
		}
		return ""
	}
	return id
}

// buildRecord 由事件构造流水写入行，幂等合并规则在仓储层的 upsert 里。
func (s *WebhookService) buildRecord(event *payment.Event, existing *models.PaymentRecord, userID string, now time.Time) *models.PaymentRecord {
	record := &models.PaymentRecord{
		TransactionID: event.TransactionID,
		UserID:        userID,
		Email:         event.Email,
		Method:        event.Method,
		Status:        eventToPaymentStatus(event.Kind),
		Currency:      strings.ToUpper(strings.TrimSpace(event.Currency)),
		Plan:          event.PlanHint,
		BillingCycle:  event.CycleHint,
		ProviderRef:   event.ProviderRef,
	}
	if event.AmountValue != "" {
		if amount, err := models.NewMoneyFromString(event.AmountValue); err == nil {
			record.Amount = amount
		}
	} else if existing != nil {
		record.Amount = existing.Amount
	}
	if existing != nil && existing.OrderID != "" {
		record.OrderID = existing.OrderID
	}
	record.Metadata = models.JSONMap{
		"provider_event": event.ProviderEvent,
	}
	if event.PriceID != "" {
		record.Metadata["price_id"] = event.PriceID
	}
	if event.Kind.GrantsEntitlement() {
		completedAt := now
		if event.OccurredAt != nil {
			completedAt = *event.OccurredAt
		}
		record.CompletedAt = &completedAt
	}
	return record
}

func (s *WebhookService) invalidateSubscriptionCache(ctx context.Context, userID string) {
	if !cache.Enabled() {
		return
	}
	if err := cache.Del(ctx, cache.SubscriptionKey(userID)); err != nil {
		logger.Debugw("subscription_cache_del_failed", "user_id", userID, "error", err.Error())
	}
}

// requiresUser 需要落到具体用户才能继续的事件类型。
func requiresUser(kind payment.EventKind) bool {
	switch kind {
	case payment.EventOrderCompleted, payment.EventSubscriptionRenewed, payment.EventSubscriptionCancelled:
		return true
	default:
		return false
	}
}

// eventToPaymentStatus 事件到流水状态的映射。
func eventToPaymentStatus(kind payment.EventKind) string {
	switch kind {
	case payment.EventOrderApproved:
		return constants.PaymentStatusApproved
	case payment.EventOrderCompleted, payment.EventSubscriptionRenewed:
		return constants.PaymentStatusCompleted
	case payment.EventPaymentFailed:
		return constants.PaymentStatusFailed
	case payment.EventRefunded:
		return constants.PaymentStatusRefunded
	case payment.EventSubscriptionCancelled:
		return constants.PaymentStatusCancelled
	default:
		return constants.PaymentStatusPending
	}
}
