package service

import (
	"context"
	"fmt"
	"time"

	"github.com/lumina-pay/internal/authdir"
	"github.com/lumina-pay/internal/cache"
	"github.com/lumina-pay/internal/config"
	"github.com/lumina-pay/internal/constants"
	"github.com/lumina-pay/internal/logger"
	"github.com/lumina-pay/internal/models"
	"github.com/lumina-pay/internal/repository"
)

// SubscriptionSnapshot 推送给镜像端与缓存的订阅视图。
type SubscriptionSnapshot struct {
	UserID string     `json:"user_id"`
	Plan   string     `json:"plan"`
	Cycle  string     `json:"cycle,omitempty"`
	Status string     `json:"status"`
	EndsAt *time.Time `json:"ends_at,omitempty"`
}

// MirrorService 把权威订阅状态同步到三个非权威镜像：
// 本地 profile 表、Redis 缓存、账号目录服务。
type MirrorService struct {
	cfg *config.Config

	subscriptionRepo repository.SubscriptionRepository
	profileRepo      repository.ProfileRepository
	mirrorTaskRepo   repository.MirrorTaskRepository

	authdirClient *authdir.Client
}

// NewMirrorService 创建镜像同步服务
func NewMirrorService(
	cfg *config.Config,
	subscriptionRepo repository.SubscriptionRepository,
	profileRepo repository.ProfileRepository,
	mirrorTaskRepo repository.MirrorTaskRepository,
	authdirClient *authdir.Client,
) *MirrorService {
	return &MirrorService{
		cfg:              cfg,
		subscriptionRepo: subscriptionRepo,
		profileRepo:      profileRepo,
		mirrorTaskRepo:   mirrorTaskRepo,
		authdirClient:    authdirClient,
	}
}

// SyncUser 执行一次镜像同步。返回 error 表示本次失败、交给队列重试；
// isFinal 为 true 时任务已用尽重试，标记 failed 留给管理端补偿。
func (s *MirrorService) SyncUser(ctx context.Context, taskID uint, userID string, isFinal bool) error {
	now := time.Now()
	snapshot, err := s.buildSnapshot(userID, now)
	if err != nil {
		return s.recordFailure(taskID, isFinal, fmt.Errorf("load subscription: %w", err))
	}

	if !s.cfg.Mirror.DisableProfile {
		mirror := &models.ProfileMirror{
			UserID:   userID,
			Plan:     snapshot.Plan,
			EndsAt:   snapshot.EndsAt,
			SyncedAt: now,
		}
		if err := s.profileRepo.Upsert(mirror); err != nil {
			return s.recordFailure(taskID, isFinal, fmt.Errorf("profile mirror: %w", err))
		}
	}

	if !s.cfg.Mirror.DisableRedisCopy && cache.Enabled() {
		ttl := time.Duration(s.cfg.Mirror.CacheTTLSeconds) * time.Second
		if err := cache.SetJSON(ctx, cache.SubscriptionKey(userID), snapshot, ttl); err != nil {
			// 缓存是性能镜像不是权威，失败降级告警即可
			logger.Warnw("mirror_cache_set_failed", "user_id", userID, "error", err.Error())
		}
	}

	if s.authdirClient != nil && s.authdirClient.Enabled() {
		payload := authdir.MirrorPayload{
			UserID: userID,
			Plan:   snapshot.Plan,
			EndsAt: snapshot.EndsAt,
		}
		if err := s.authdirClient.PushMirror(ctx, payload); err != nil {
			return s.recordFailure(taskID, isFinal, fmt.Errorf("authdir push: %w", err))
		}
	}

	if taskID > 0 {
		if err := s.mirrorTaskRepo.MarkDone(taskID); err != nil {
			logger.Warnw("mirror_task_mark_done_failed", "task_id", taskID, "error", err.Error())
		}
	}
	logger.Infow("mirror_synced",
		"user_id", userID,
		"plan", snapshot.Plan,
		"ends_at", snapshot.EndsAt,
	)
	return nil
}

// buildSnapshot 从权威表读取并按当前时间计算生效档位。
func (s *MirrorService) buildSnapshot(userID string, now time.Time) (*SubscriptionSnapshot, error) {
	state, err := s.subscriptionRepo.GetByUserID(userID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return &SubscriptionSnapshot{
			UserID: userID,
			Plan:   constants.PlanFree,
			Status: constants.SubscriptionStatusExpired,
		}, nil
	}
	return &SubscriptionSnapshot{
		UserID: userID,
		Plan:   state.EffectivePlan(now),
		Cycle:  state.BillingCycle,
		Status: state.Status,
		EndsAt: state.EndsAt,
	}, nil
}

// recordFailure 记一次失败。非最后一次返回原错误让队列重投。
func (s *MirrorService) recordFailure(taskID uint, isFinal bool, cause error) error {
	if taskID > 0 {
		if isFinal {
			if err := s.mirrorTaskRepo.MarkFailed(taskID, cause.Error()); err != nil {
				logger.Warnw("mirror_task_mark_failed_error", "task_id", taskID, "error", err.Error())
			}
		} else {
			if err := s.mirrorTaskRepo.RecordAttempt(taskID, cause.Error()); err != nil {
				logger.Warnw("mirror_task_record_attempt_error", "task_id", taskID, "error", err.Error())
			}
		}
	}
	return cause
}
