package main

import (
	"flag"
	"os"
	"strings"
	"syscall"

	"github.com/pickupdrop/checkout/internal/app"
	"github.com/pickupdrop/checkout/internal/config"
	"github.com/pickupdrop/checkout/internal/constants"
	"github.com/pickupdrop/checkout/internal/logger"
	"github.com/pickupdrop/checkout/internal/models"

	"github.com/gin-gonic/gin"
)

func main() {
	mode := flag.String("mode", app.ModeAll, "启动模式: all | api | worker | sweep")
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	defer func() { _ = logger.Z().Sync() }()
	log := logger.S()

	if strings.TrimSpace(cfg.Backend.BaseURL) == "" {
		log.Fatalw("startup_config_invalid", "field", "backend.base_url")
	}
	if strings.TrimSpace(cfg.Gateway.CallbackURL) == "" {
		log.Warnw("startup_gateway_callback_missing", "effect", "the gateway falls back to its own return url")
	}

	if !strings.EqualFold(strings.TrimSpace(cfg.Store.Driver), constants.StoreDriverRedis) {
		if err := models.InitDB(cfg.Store.Driver, cfg.Store.DSN, models.DBPoolConfig{
			MaxOpenConns:           cfg.Store.Pool.MaxOpenConns,
			MaxIdleConns:           cfg.Store.Pool.MaxIdleConns,
			ConnMaxLifetimeSeconds: cfg.Store.Pool.ConnMaxLifetimeSeconds,
			ConnMaxIdleTimeSeconds: cfg.Store.Pool.ConnMaxIdleTimeSeconds,
		}); err != nil {
			log.Fatalw("startup_db_open_failed", "driver", cfg.Store.Driver, "error", err)
		}
		if err := models.AutoMigrate(nil); err != nil {
			log.Fatalw("startup_db_migrate_failed", "error", err)
		}
	}

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := app.Run(app.Options{
		Config:  cfg,
		Logger:  log,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		Mode:    *mode,
	}); err != nil {
		log.Fatalw("app_exit", "mode", *mode, "error", err)
	}
}
