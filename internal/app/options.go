package app

import (
	"os"
	"syscall"
	"time"

	"github.com/lumina-pay/internal/config"
	"github.com/lumina-pay/internal/logger"

	"go.uber.org/zap"
)

const (
	// ModeAll 同进程跑支付网关与镜像同步消费者，单机部署默认。
	ModeAll = "all"

	// ModeAPI 只跑支付网关：公开支付接口、提供方回调、管理端。
	ModeAPI = "api"

	// ModeWorker 只跑 asynq 消费者，处理镜像同步任务。
	ModeWorker = "worker"
)

// Options 应用启动选项
type Options struct {
	Config          *config.Config
	Logger          *zap.SugaredLogger
	Signals         []os.Signal
	ShutdownTimeout time.Duration
	Mode            string
}

// normalizeOptions 补齐默认参数。停机窗口要容下在途回调与镜像任务收尾。
func normalizeOptions(opts Options) Options {
	if opts.Logger == nil {
		opts.Logger = logger.S()
	}
	if len(opts.Signals) == 0 {
		opts.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.Mode == "" {
		opts.Mode = ModeAll
	}
	return opts
}
