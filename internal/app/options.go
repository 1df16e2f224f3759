package app

import (
	"os"
	"time"

	"github.com/pickupdrop/checkout/internal/config"
	"github.com/pickupdrop/checkout/internal/logger"

	"go.uber.org/zap"
)

// 启动模式
const (
	ModeAll    = "all"    // HTTP + 轮询消费 + 周期扫描
	ModeAPI    = "api"    // 仅 HTTP
	ModeWorker = "worker" // 轮询消费 + 周期扫描
	ModeSweep  = "sweep"  // 扫描一次后退出
)

// Options 应用启动选项
type Options struct {
	Config          *config.Config
	Logger          *zap.SugaredLogger
	Signals         []os.Signal
	ShutdownTimeout time.Duration
	Mode            string
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logger.S()
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 10 * time.Second
		if o.Config != nil {
			o.ShutdownTimeout = o.Config.Server.ShutdownTimeout()
		}
	}
	if o.Mode == "" {
		o.Mode = ModeAll
	}
	return o
}
