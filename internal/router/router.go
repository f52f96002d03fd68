package router

import (
	"fmt"
	"strings"

	"github.com/lumina-pay/internal/cache"
	"github.com/lumina-pay/internal/config"
	adminhandlers "github.com/lumina-pay/internal/http/handlers/admin"
	publichandlers "github.com/lumina-pay/internal/http/handlers/public"
	"github.com/lumina-pay/internal/logger"
	"github.com/lumina-pay/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.Z()
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)

	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "lp"
	}
	redisClient := cache.Client()
	createOrderRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:create_order", redisPrefix),
		WindowSeconds: cfg.Security.CreateOrderRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.CreateOrderRateLimit.MaxRequests,
		BlockSeconds:  cfg.Security.CreateOrderRateLimit.BlockSeconds,
		Message:       "下单过于频繁，请稍后再试",
	}
	adminLoginRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:admin_login", redisPrefix),
		WindowSeconds: cfg.Security.CreateOrderRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.CreateOrderRateLimit.MaxRequests,
		BlockSeconds:  cfg.Security.CreateOrderRateLimit.BlockSeconds,
		Message:       "登录尝试过于频繁，请稍后再试",
	}

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	// API 路由组
	apiV1 := r.Group("/api/v1")
	{
		// 公开接口
		public := apiV1.Group("/public")
		{
			public.GET("/payment-methods", publicHandler.GetPaymentMethods)
		}

		// 支付接口
		apiV1.POST("/payments", RateLimitMiddleware(redisClient, createOrderRule, KeyByIPAndJSONField("user_id")), publicHandler.CreatePayment)
		apiV1.GET("/payments/by-order-id/:order_id", publicHandler.GetPaymentByOrderID)
		apiV1.POST("/payments/:order_id/cancel", publicHandler.CancelPayment)

		// 订阅查询（供站内其他服务读取）
		apiV1.GET("/subscriptions/:user_id", publicHandler.GetSubscription)

		// 提供方回调 / webhook
		apiV1.POST("/payments/callback/stripe", publicHandler.StripeWebhook)
		apiV1.POST("/payments/callback/paypal", publicHandler.PaypalWebhook)
		apiV1.POST("/payments/callback/wechat", publicHandler.WechatWebhook)
		apiV1.POST("/payments/callback/alipay", publicHandler.AlipayWebhook)

		// 管理员接口
		admin := apiV1.Group("/admin")
		{
			// 登录接口（无需鉴权）
			admin.POST("/login", RateLimitMiddleware(redisClient, adminLoginRule, KeyByIP), adminHandler.AdminLogin)

			// 需要鉴权的接口
			authorized := admin.Use(AdminJWTAuthMiddleware(c.AuthService))
			{
				authorized.GET("/payments", adminHandler.AdminListPayments)
				authorized.GET("/payments/stats", adminHandler.AdminGetPaymentStats)
				authorized.POST("/payments/:transaction_id/refund", adminHandler.AdminRefundPayment)

				authorized.GET("/subscriptions/:user_id", adminHandler.AdminGetSubscription)
				authorized.POST("/subscriptions/:user_id/resync-mirror", adminHandler.AdminResyncMirror)

				authorized.GET("/mirror-tasks", adminHandler.AdminListMirrorTasks)
				authorized.POST("/mirror-tasks/:id/retry", adminHandler.AdminRetryMirrorTask)
			}
		}
	}

	// 健康检查
	r.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok", "region": cfg.Region.Name})
	})

	return r
}
