package app

import (
	"errors"
	"fmt"

	"github.com/pickupdrop/checkout/internal/config"
	"github.com/pickupdrop/checkout/internal/logger"
	"github.com/pickupdrop/checkout/internal/provider"
	"github.com/pickupdrop/checkout/internal/router"
	"github.com/pickupdrop/checkout/internal/worker"
)

// BuildRunner 按启动模式组装服务
func BuildRunner(cfg *config.Config, mode string) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	switch mode {
	case ModeAll, ModeAPI, ModeWorker, ModeSweep:
	default:
		return nil, fmt.Errorf("unknown mode: %s", mode)
	}

	container, err := provider.NewContainer(cfg)
	if err != nil {
		return nil, err
	}
	services, err := buildServices(cfg, container, mode)
	if err != nil {
		_ = container.Close()
		return nil, err
	}
	if len(services) == 0 {
		_ = container.Close()
		return nil, fmt.Errorf("no services enabled for mode %s", mode)
	}
	runner := NewRunner(services...)
	runner.OnClose(container.Close)
	return runner, nil
}

func buildServices(cfg *config.Config, container *provider.Container, mode string) ([]Service, error) {
	var services []Service
	if mode == ModeAll || mode == ModeAPI {
		services = append(services, NewHTTPService(cfg.Server, router.SetupRouter(cfg, container)))
	}
	if mode == ModeAPI {
		return services, nil
	}

	consumer := worker.NewConsumer(container)
	if mode == ModeSweep {
		sweeper, err := worker.NewOneShotSweeper(consumer)
		if err != nil {
			return nil, err
		}
		return append(services, sweeper), nil
	}

	// all 模式下队列未启用时不启动消费端
	switch {
	case cfg.Queue.Enabled:
		workerService, err := worker.NewService(&cfg.Queue, consumer)
		if err != nil {
			return nil, err
		}
		services = append(services, workerService)
	case mode == ModeWorker:
		return nil, errors.New("worker mode requires queue.enabled")
	default:
		logger.Warnw("app_worker_skipped", "reason", "queue disabled")
	}

	if sweeper, err := worker.NewSweeper(consumer); err == nil {
		services = append(services, sweeper)
	} else {
		logger.Infow("app_sweeper_skipped", "reason", err.Error())
	}
	return services, nil
}

// Run 应用启动入口
func Run(opts Options) error {
	opts = opts.withDefaults()
	if opts.Config == nil {
		return errors.New("config is nil")
	}
	runner, err := BuildRunner(opts.Config, opts.Mode)
	if err != nil {
		return err
	}
	opts.Logger.Infow("app_start", "addr", opts.Config.Server.Addr(), "mode", opts.Mode)
	return RunWithOptions(runner, opts)
}
