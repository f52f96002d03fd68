package worker

import (
	"context"
	"errors"
	"time"

	"github.com/lumina-pay/internal/config"
	"github.com/lumina-pay/internal/logger"
	"github.com/lumina-pay/internal/queue"

	"github.com/hibiken/asynq"
)

const (
	expirySweepInterval  = 10 * time.Minute
	expirySweepBatchSize = 200
)

// Service 异步队列服务
type Service struct {
	name     string
	server   *asynq.Server
	mux      *asynq.ServeMux
	consumer *Consumer
}

// NewService 创建异步队列服务
func NewService(cfg *config.QueueConfig, consumer *Consumer) (*Service, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(cfg)
	server := asynq.NewServer(opt, serverCfg)
	mux := asynq.NewServeMux()
	consumer.Register(mux)
	return &Service{
		name:     "worker",
		server:   server,
		mux:      mux,
		consumer: consumer,
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	if s.consumer != nil && s.consumer.SubscriptionService != nil {
		go s.runExpirySweepLoop(ctx)
	}
	return s.server.Run(s.mux)
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	_ = ctx
	s.server.Shutdown()
	return nil
}

// runExpirySweepLoop 周期性把过期订阅落为 expired 并刷新镜像。
func (s *Service) runExpirySweepLoop(ctx context.Context) {
	if s == nil || s.consumer == nil || s.consumer.SubscriptionService == nil {
		return
	}
	runOnce := func() {
		userIDs, err := s.consumer.SubscriptionService.SweepExpired(time.Now(), expirySweepBatchSize)
		if err != nil {
			logger.Warnw("worker_expiry_sweep_failed", "error", err)
		}
		if s.consumer.MirrorService == nil {
			return
		}
		for _, userID := range userIDs {
			if err := s.consumer.MirrorService.SyncUser(ctx, 0, userID, false); err != nil {
				logger.Warnw("worker_expiry_mirror_sync_failed", "user_id", userID, "error", err)
			}
		}
	}
	runOnce()

	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
