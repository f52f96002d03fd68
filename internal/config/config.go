package config

import (
	"fmt"
	"strings"

	"github.com/lumina-pay/internal/logger"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Region    RegionConfig    `mapstructure:"region"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
	Security  SecurityConfig  `mapstructure:"security"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Providers ProvidersConfig `mapstructure:"providers"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver"` // sqlite / postgres
	DSN    string             `mapstructure:"dsn"`
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
}

// RegionConfig 部署区域配置
type RegionConfig struct {
	Name            string `mapstructure:"name"`             // cn / intl
	DefaultCurrency string `mapstructure:"default_currency"` // 为空时按区域推导
}

// AdminConfig 管理端配置
type AdminConfig struct {
	Username         string `mapstructure:"username"`
	PasswordHash     string `mapstructure:"password_hash"` // bcrypt 哈希
	JWTSecret        string `mapstructure:"jwt_secret"`
	TokenExpireHours int    `mapstructure:"token_expire_hours"`
}

// MirrorConfig 订阅镜像同步配置
type MirrorConfig struct {
	AuthDirBaseURL   string `mapstructure:"auth_dir_base_url"` // 认证服务管理 API 地址
	AuthDirAPIKey    string `mapstructure:"auth_dir_api_key"`
	CacheTTLSeconds  int    `mapstructure:"cache_ttl_seconds"`
	SyncMaxRetry     int    `mapstructure:"sync_max_retry"`
	SyncTimeoutMS    int    `mapstructure:"sync_timeout_ms"`
	DisableAuthDir   bool   `mapstructure:"disable_auth_dir"`
	DisableProfile   bool   `mapstructure:"disable_profile"`
	DisableRedisCopy bool   `mapstructure:"disable_redis_copy"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	CreateOrderRateLimit RateLimitConfig `mapstructure:"create_order_rate_limit"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
	BlockSeconds  int `mapstructure:"block_seconds"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// ProvidersConfig 各支付提供方凭证配置。
// 凭证完整性在下单/回调时校验（ConfigurationError），启动时不强制。
type ProvidersConfig struct {
	Stripe StripeConfig `mapstructure:"stripe"`
	Paypal PaypalConfig `mapstructure:"paypal"`
	Wechat WechatConfig `mapstructure:"wechat"`
	Alipay AlipayConfig `mapstructure:"alipay"`

	// PricePlans 已知 price id 到计划档位的映射（计划解析回退链第 3 级）。
	PricePlans map[string]string `mapstructure:"price_plans"`
}

// StripeConfig Stripe 凭证配置
type StripeConfig struct {
	SecretKey      string `mapstructure:"secret_key"`
	PublishableKey string `mapstructure:"publishable_key"`
	WebhookSecret  string `mapstructure:"webhook_secret"`
	SuccessURL     string `mapstructure:"success_url"`
	CancelURL      string `mapstructure:"cancel_url"`
}

// PaypalConfig PayPal 凭证配置
type PaypalConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Environment  string `mapstructure:"environment"` // sandbox / live
	WebhookID    string `mapstructure:"webhook_id"`
	ReturnURL    string `mapstructure:"return_url"`
	CancelURL    string `mapstructure:"cancel_url"`
	BrandName    string `mapstructure:"brand_name"`
}

// WechatConfig 微信支付凭证配置
type WechatConfig struct {
	AppID              string `mapstructure:"app_id"`
	MerchantID         string `mapstructure:"merchant_id"`
	MerchantSerialNo   string `mapstructure:"merchant_serial_no"`
	MerchantPrivateKey string `mapstructure:"merchant_private_key"`
	APIV3Key           string `mapstructure:"api_v3_key"`
	NotifyURL          string `mapstructure:"notify_url"`
}

// AlipayConfig 支付宝凭证配置
type AlipayConfig struct {
	AppID           string `mapstructure:"app_id"`
	PrivateKey      string `mapstructure:"private_key"`
	AlipayPublicKey string `mapstructure:"alipay_public_key"`
	GatewayURL      string `mapstructure:"gateway_url"`
	NotifyURL       string `mapstructure:"notify_url"`
	ReturnURL       string `mapstructure:"return_url"`
}

// Load 从 config.yaml 加载配置
func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("./etc")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("log.dir", "")
	viper.SetDefault("log.filename", "lumina-pay.log")
	viper.SetDefault("log.max_size_mb", 100)
	viper.SetDefault("log.max_backups", 7)
	viper.SetDefault("log.max_age_days", 30)
	viper.SetDefault("log.compress", true)
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.dsn", "./db/lumina-pay.db")
	viper.SetDefault("database.pool.max_open_conns", 10)
	viper.SetDefault("database.pool.max_idle_conns", 5)
	viper.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	viper.SetDefault("database.pool.conn_max_idle_time_seconds", 0)
	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "127.0.0.1")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.prefix", "lp")
	viper.SetDefault("queue.enabled", true)
	viper.SetDefault("queue.host", "127.0.0.1")
	viper.SetDefault("queue.port", 6379)
	viper.SetDefault("queue.password", "")
	viper.SetDefault("queue.db", 1)
	viper.SetDefault("queue.concurrency", 10)
	viper.SetDefault("queue.queues", map[string]int{
		"default":  10,
		"critical": 5,
	})
	viper.SetDefault("region.name", "intl")
	viper.SetDefault("region.default_currency", "")
	viper.SetDefault("admin.username", "admin")
	viper.SetDefault("admin.password_hash", "")
	viper.SetDefault("admin.jwt_secret", "change-me-in-production")
	viper.SetDefault("admin.token_expire_hours", 24)
	viper.SetDefault("mirror.cache_ttl_seconds", 300)
	viper.SetDefault("mirror.sync_max_retry", 10)
	viper.SetDefault("mirror.sync_timeout_ms", 5000)
	viper.SetDefault("security.create_order_rate_limit.window_seconds", 60)
	viper.SetDefault("security.create_order_rate_limit.max_requests", 10)
	viper.SetDefault("security.create_order_rate_limit.block_seconds", 300)
	viper.SetDefault("cors.allowed_origins", []string{"*"})
	viper.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	viper.SetDefault("cors.allowed_headers", []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		"Authorization",
		"Cache-Control",
		"X-Requested-With",
	})
	viper.SetDefault("cors.allow_credentials", true)
	viper.SetDefault("cors.max_age", 600)

	// 环境变量支持：region.name -> LUMINA_REGION_NAME
	viper.SetEnvPrefix("lumina")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", viper.ConfigFileUsed())
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("config unmarshal failed: %w", err))
	}
	cfg.normalize()
	return &cfg
}

func (c *Config) normalize() {
	c.Region.Name = strings.ToLower(strings.TrimSpace(c.Region.Name))
	if c.Region.Name == "" {
		c.Region.Name = "intl"
	}
	c.Region.DefaultCurrency = strings.ToUpper(strings.TrimSpace(c.Region.DefaultCurrency))
}
