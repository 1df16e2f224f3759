package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pickupdrop/checkout/internal/logger"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Session   SessionConfig   `mapstructure:"session"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Poller    PollerConfig    `mapstructure:"poller"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        string `mapstructure:"port"`
	Mode        string `mapstructure:"mode"`         // debug / release
	FrontendURL string `mapstructure:"frontend_url"` // 回跳页面的前端根地址

	ReadHeaderTimeoutSeconds int `mapstructure:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds   int `mapstructure:"shutdown_timeout_seconds"`
}

// Addr 监听地址
func (c ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// ReadHeaderTimeout 读取请求头超时，默认 10 秒
func (c ServerConfig) ReadHeaderTimeout() time.Duration {
	if c.ReadHeaderTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ReadHeaderTimeoutSeconds) * time.Second
}

// ShutdownTimeout 优雅退出等待时间，默认 10 秒
func (c ServerConfig) ShutdownTimeout() time.Duration {
	if c.ShutdownTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
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
		Level:      c.Level,
		Console:    c.Console,
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// BackendConfig 商城后端接口配置
type BackendConfig struct {
	BaseURL          string           `mapstructure:"base_url"`
	TimeoutMS        int              `mapstructure:"timeout_ms"`
	RetryMaxAttempts int              `mapstructure:"retry_max_attempts"`
	RetryStepMS      int              `mapstructure:"retry_step_ms"`
	Endpoints        BackendEndpoints `mapstructure:"endpoints"`
}

// BackendEndpoints 后端接口路径
type BackendEndpoints struct {
	TokenRefresh   string `mapstructure:"token_refresh"`
	CreateOrder    string `mapstructure:"create_order"`
	OrderStatus    string `mapstructure:"order_status"`
	VerifyPayment  string `mapstructure:"verify_payment"`
	RedeemDiscount string `mapstructure:"redeem_discount"`
}

// Timeout 单次请求超时
func (c BackendConfig) Timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 12 * time.Second
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// RetryStep 线性退避步长
func (c BackendConfig) RetryStep() time.Duration {
	if c.RetryStepMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.RetryStepMS) * time.Millisecond
}

// SessionConfig 登录会话配置
type SessionConfig struct {
	RefreshThresholdSeconds int    `mapstructure:"refresh_threshold_seconds"`
	ContinuePath            string `mapstructure:"continue_path"`
	CacheIdleSeconds        int    `mapstructure:"cache_idle_seconds"`
	CacheMaxEntries         int    `mapstructure:"cache_max_entries"`
}

// CacheIdle 进程内会话编排组件的空闲回收时间
func (c SessionConfig) CacheIdle() time.Duration {
	if c.CacheIdleSeconds <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.CacheIdleSeconds) * time.Second
}

// RefreshThreshold access token 剩余有效期低于该值时主动刷新
func (c SessionConfig) RefreshThreshold() time.Duration {
	if c.RefreshThresholdSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.RefreshThresholdSeconds) * time.Second
}

// GatewayConfig 托管支付网关配置
type GatewayConfig struct {
	Provider     string   `mapstructure:"provider"`
	CallbackURL  string   `mapstructure:"callback_url"`
	AllowedHosts []string `mapstructure:"allowed_hosts"`
}

// StorePoolConfig 数据库连接池配置
type StorePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// StoreConfig 持久化存储配置
type StoreConfig struct {
	Driver string          `mapstructure:"driver"` // sqlite / postgres / redis
	DSN    string          `mapstructure:"dsn"`
	Pool   StorePoolConfig `mapstructure:"pool"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
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

// PollerConfig 订单状态轮询配置
type PollerConfig struct {
	IntervalSeconds      int `mapstructure:"interval_seconds"`
	MaxAttempts          int `mapstructure:"max_attempts"`
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"` // 0 关闭兜底扫描
	StaleAfterSeconds    int `mapstructure:"stale_after_seconds"`
	SweepBatchSize       int `mapstructure:"sweep_batch_size"`
}

// Interval 两次轮询之间的间隔
func (c PollerConfig) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

// AttemptLimit 单个订单最多轮询次数
func (c PollerConfig) AttemptLimit() int {
	if c.MaxAttempts <= 0 {
		return 20
	}
	return c.MaxAttempts
}

// SweepInterval 兜底扫描间隔，返回 0 表示关闭
func (c PollerConfig) SweepInterval() time.Duration {
	if c.SweepIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// StaleAfter 会话多久未更新后进入兜底扫描
func (c PollerConfig) StaleAfter() time.Duration {
	if c.StaleAfterSeconds <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.StaleAfterSeconds) * time.Second
}

// BatchSize 单次兜底扫描的会话数量
func (c PollerConfig) BatchSize() int {
	if c.SweepBatchSize <= 0 {
		return 100
	}
	return c.SweepBatchSize
}

// RateLimitConfig 下单频率限制，依赖 Redis
type RateLimitConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	SubmitWindowSeconds int  `mapstructure:"submit_window_seconds"`
	SubmitMaxRequests   int  `mapstructure:"submit_max_requests"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// Load 从 config.yml 加载配置
func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")   // 如果从 cmd/server 运行
	viper.AddConfigPath("./etc") // etc 文件夹

	setDefaults(viper.GetViper())

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // backend.base_url -> BACKEND_BASE_URL

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
		panic(fmt.Errorf("配置解析失败: %w", err))
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.frontend_url", "http://localhost:3000")
	v.SetDefault("server.read_header_timeout_seconds", 10)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("log.level", "")
	v.SetDefault("log.console", false)
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "checkout.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("backend.base_url", "http://127.0.0.1:8000/api")
	v.SetDefault("backend.timeout_ms", 12000)
	v.SetDefault("backend.retry_max_attempts", 3)
	v.SetDefault("backend.retry_step_ms", 500)
	v.SetDefault("backend.endpoints.token_refresh", "/auth/token/refresh/")
	v.SetDefault("backend.endpoints.create_order", "/orders/")
	v.SetDefault("backend.endpoints.order_status", "/orders/%s/")
	v.SetDefault("backend.endpoints.verify_payment", "/payments/verify/")
	v.SetDefault("backend.endpoints.redeem_discount", "/discounts/%s/")
	v.SetDefault("session.refresh_threshold_seconds", 60)
	v.SetDefault("session.continue_path", "/checkout")
	v.SetDefault("session.cache_idle_seconds", 1800)
	v.SetDefault("session.cache_max_entries", 10000)
	v.SetDefault("gateway.provider", "hosted")
	v.SetDefault("gateway.callback_url", "http://localhost:8080/api/v1/checkout/callback")
	v.SetDefault("gateway.allowed_hosts", []string{})
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "./db/checkout.db")
	v.SetDefault("store.pool.max_open_conns", 1)
	v.SetDefault("store.pool.max_idle_conns", 1)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "co")
	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.concurrency", 5)
	v.SetDefault("queue.queues", map[string]int{"default": 10})
	v.SetDefault("poller.interval_seconds", 30)
	v.SetDefault("poller.max_attempts", 20)
	v.SetDefault("poller.sweep_interval_seconds", 300)
	v.SetDefault("poller.stale_after_seconds", 900)
	v.SetDefault("poller.sweep_batch_size", 100)
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.submit_window_seconds", 60)
	v.SetDefault("rate_limit.submit_max_requests", 10)
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		"Authorization",
		"Cache-Control",
		"X-Requested-With",
		"X-Checkout-Session",
	})
	v.SetDefault("cors.allow_credentials", true)
	v.SetDefault("cors.max_age", 600)
}
