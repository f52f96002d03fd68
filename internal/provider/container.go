package provider

import (
	"github.com/lumina-pay/internal/authdir"
	"github.com/lumina-pay/internal/cache"
	"github.com/lumina-pay/internal/config"
	"github.com/lumina-pay/internal/constants"
	"github.com/lumina-pay/internal/logger"
	"github.com/lumina-pay/internal/models"
	"github.com/lumina-pay/internal/payment"
	"github.com/lumina-pay/internal/payment/alipay"
	"github.com/lumina-pay/internal/payment/paypal"
	"github.com/lumina-pay/internal/payment/stripe"
	"github.com/lumina-pay/internal/payment/wechatpay"
	"github.com/lumina-pay/internal/queue"
	"github.com/lumina-pay/internal/repository"
	"github.com/lumina-pay/internal/service"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client

	// Repositories
	PaymentRepo      repository.PaymentRepository
	SubscriptionRepo repository.SubscriptionRepository
	ProfileRepo      repository.ProfileRepository
	MirrorTaskRepo   repository.MirrorTaskRepository

	// Adapters
	Adapters map[string]payment.Adapter

	// Services
	AuthService         *service.AuthService
	PaymentService      *service.PaymentService
	WebhookService      *service.WebhookService
	SubscriptionService *service.SubscriptionService
	MirrorService       *service.MirrorService

	AuthDirClient *authdir.Client
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
	}

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 装配支付适配器
	c.initAdapters()

	// 3. 初始化 Services
	c.initServices()

	return c
}

func (c *Container) initRepositories() {
	db := models.DB
	c.PaymentRepo = repository.NewPaymentRepository(db)
	c.SubscriptionRepo = repository.NewSubscriptionRepository(db)
	c.ProfileRepo = repository.NewProfileRepository(db)
	c.MirrorTaskRepo = repository.NewMirrorTaskRepository(db)
}

// initAdapters 装配凭证齐全的适配器，缺凭证降级告警，
// 不让一个提供方的配置问题拖垮整个服务启动。
// 区域外但配好凭证的提供方也装配：下单在门面层按区域拦截，
// 回调仍要能处理，切区域时在途支付不能丢。
func (c *Container) initAdapters() {
	c.Adapters = make(map[string]payment.Adapter)
	p := c.Config.Providers

	regionMethods := make(map[string]bool)
	for _, method := range constants.MethodsForRegion(c.Config.Region.Name) {
		regionMethods[method] = true
	}

	allMethods := []string{
		constants.PaymentMethodStripe,
		constants.PaymentMethodPaypal,
		constants.PaymentMethodWechat,
		constants.PaymentMethodAlipay,
	}
	for _, method := range allMethods {
		var (
			adapter payment.Adapter
			err     error
		)
		// 区域外且完全未配置的直接跳过，不算告警
		if !regionMethods[method] && !c.providerConfigured(method) {
			continue
		}
		switch method {
		case constants.PaymentMethodStripe:
			adapter, err = stripe.NewAdapter(stripe.Config{
				SecretKey:     p.Stripe.SecretKey,
				WebhookSecret: p.Stripe.WebhookSecret,
				SuccessURL:    p.Stripe.SuccessURL,
				CancelURL:     p.Stripe.CancelURL,
			})
		case constants.PaymentMethodPaypal:
			adapter, err = paypal.NewAdapter(paypal.Config{
				ClientID:     p.Paypal.ClientID,
				ClientSecret: p.Paypal.ClientSecret,
				Environment:  p.Paypal.Environment,
				WebhookID:    p.Paypal.WebhookID,
				ReturnURL:    p.Paypal.ReturnURL,
				CancelURL:    p.Paypal.CancelURL,
				BrandName:    p.Paypal.BrandName,
			})
		case constants.PaymentMethodWechat:
			adapter, err = wechatpay.NewAdapter(wechatpay.Config{
				AppID:              p.Wechat.AppID,
				MerchantID:         p.Wechat.MerchantID,
				MerchantSerialNo:   p.Wechat.MerchantSerialNo,
				MerchantPrivateKey: p.Wechat.MerchantPrivateKey,
				APIV3Key:           p.Wechat.APIV3Key,
				NotifyURL:          p.Wechat.NotifyURL,
			})
		case constants.PaymentMethodAlipay:
			adapter, err = alipay.NewAdapter(alipay.Config{
				AppID:           p.Alipay.AppID,
				PrivateKey:      p.Alipay.PrivateKey,
				AlipayPublicKey: p.Alipay.AlipayPublicKey,
				GatewayURL:      p.Alipay.GatewayURL,
				NotifyURL:       p.Alipay.NotifyURL,
				ReturnURL:       p.Alipay.ReturnURL,
			})
		}
		if err != nil {
			logger.Warnw("provider_adapter_unavailable",
				"method", method,
				"region", c.Config.Region.Name,
				"error", err.Error(),
			)
			continue
		}
		if adapter != nil {
			c.Adapters[method] = adapter
		}
	}

	if len(c.Adapters) == 0 {
		logger.Warnw("provider_no_adapters_configured", "region", c.Config.Region.Name)
	}
}

// providerConfigured 判断提供方是否配置了主凭证。
func (c *Container) providerConfigured(method string) bool {
	p := c.Config.Providers
	switch method {
	case constants.PaymentMethodStripe:
		return p.Stripe.SecretKey != ""
	case constants.PaymentMethodPaypal:
		return p.Paypal.ClientID != ""
	case constants.PaymentMethodWechat:
		return p.Wechat.MerchantID != ""
	case constants.PaymentMethodAlipay:
		return p.Alipay.AppID != ""
	}
	return false
}

func (c *Container) initServices() {
	c.AuthDirClient = authdir.NewClient(&c.Config.Mirror)

	c.AuthService = service.NewAuthService(c.Config)
	c.SubscriptionService = service.NewSubscriptionService(c.Config, c.SubscriptionRepo)
	c.PaymentService = service.NewPaymentService(c.Config, c.Adapters, c.PaymentRepo, c.QueueClient)
	c.WebhookService = service.NewWebhookService(
		c.Config,
		c.Adapters,
		c.PaymentRepo,
		c.MirrorTaskRepo,
		c.SubscriptionService,
		c.AuthDirClient,
		c.QueueClient,
	)
	c.MirrorService = service.NewMirrorService(
		c.Config,
		c.SubscriptionRepo,
		c.ProfileRepo,
		c.MirrorTaskRepo,
		c.AuthDirClient,
	)
}

// Close 释放容器持有的外部连接。
func (c *Container) Close() {
	if c.QueueClient != nil {
		if err := c.QueueClient.Close(); err != nil {
			logger.Warnw("provider_queue_close_failed", "error", err)
		}
	}
}
