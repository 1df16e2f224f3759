package provider

import (
	"errors"
	"strings"

	"github.com/pickupdrop/checkout/internal/backend"
	"github.com/pickupdrop/checkout/internal/config"
	"github.com/pickupdrop/checkout/internal/constants"
	"github.com/pickupdrop/checkout/internal/logger"
	"github.com/pickupdrop/checkout/internal/models"
	"github.com/pickupdrop/checkout/internal/payment/hosted"
	"github.com/pickupdrop/checkout/internal/queue"
	"github.com/pickupdrop/checkout/internal/repository"
	"github.com/pickupdrop/checkout/internal/service"
	"github.com/pickupdrop/checkout/internal/store"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client

	// Storage
	StoreBackend      store.Backend
	CheckoutEntryRepo *repository.GormCheckoutEntryRepository
	RedisClient       *redis.Client

	// Clients
	BackendClient *backend.Client
	Gateway       *hosted.Gateway

	// Services
	CheckoutManager *service.CheckoutManager
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
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

	// 1. 初始化存储
	if err := c.initStore(models.DB); err != nil {
		return nil, err
	}

	// 2. 初始化外部客户端
	if err := c.initClients(); err != nil {
		return nil, err
	}

	// 3. 初始化 Services
	c.initServices()

	return c, nil
}

func (c *Container) initStore(db *gorm.DB) error {
	driver := strings.ToLower(strings.TrimSpace(c.Config.Store.Driver))
	if driver == constants.StoreDriverRedis {
		redisBackend := store.NewRedisBackend(&c.Config.Redis)
		c.StoreBackend = redisBackend
		c.RedisClient = redisBackend.Client()
		logger.Infow("provider_store_ready", "driver", driver)
		return nil
	}
	if c.Config.RateLimit.Enabled {
		c.RedisClient = store.NewRedisClient(&c.Config.Redis)
	}
	if db == nil {
		return errors.New("database not initialized")
	}
	c.CheckoutEntryRepo = repository.NewCheckoutEntryRepository(db)
	c.StoreBackend = c.CheckoutEntryRepo
	logger.Infow("provider_store_ready", "driver", driver)
	return nil
}

func (c *Container) initClients() error {
	client, err := backend.NewClient(c.Config.Backend, nil)
	if err != nil {
		logger.Errorw("provider_init_backend_client_failed", "error", err)
		return err
	}
	c.BackendClient = client

	gatewayCfg := hosted.ConfigFrom(c.Config.Gateway)
	if err := hosted.ValidateConfig(gatewayCfg); err != nil {
		// 网关不可用时下单会直接返回 ErrGatewayUnavailable
		logger.Warnw("provider_gateway_config_invalid", "error", err)
	}
	c.Gateway = hosted.New(gatewayCfg)
	return nil
}

func (c *Container) initServices() {
	var scheduler service.PollScheduler
	if c.QueueClient != nil {
		scheduler = c.QueueClient
	}
	c.CheckoutManager = service.NewCheckoutManager(c.StoreBackend, c.BackendClient, c.Gateway, scheduler, service.CheckoutOptions{
		RefreshThreshold: c.Config.Session.RefreshThreshold(),
		ContinuePath:     c.Config.Session.ContinuePath,
		PollDelay:        c.Config.Poller.Interval(),
		IdleTTL:          c.Config.Session.CacheIdle(),
		MaxSessions:      c.Config.Session.CacheMaxEntries,
	})
}

// Close 释放队列与 Redis 连接
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.QueueClient != nil {
		errs = append(errs, c.QueueClient.Close())
	}
	if c.RedisClient != nil {
		errs = append(errs, c.RedisClient.Close())
	}
	return errors.Join(errs...)
}
