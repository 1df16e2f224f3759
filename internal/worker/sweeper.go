package worker

import (
	"context"
	"errors"
	"time"

	"github.com/pickupdrop/checkout/internal/logger"
)

// Sweeper 定时扫描长时间未更新的会话并补查待结算订单
type Sweeper struct {
	consumer *Consumer
	interval time.Duration
	once     bool
	now      func() time.Time
}

// NewSweeper 创建周期扫描服务，间隔取 poller.sweep_interval_seconds
func NewSweeper(consumer *Consumer) (*Sweeper, error) {
	if consumer == nil || consumer.Sessions == nil || consumer.Manager == nil {
		return nil, errors.New("sweeper requires a database backed store")
	}
	interval := consumer.Poller.SweepInterval()
	if interval <= 0 {
		return nil, errors.New("sweeper disabled")
	}
	return &Sweeper{consumer: consumer, interval: interval, now: time.Now}, nil
}

// NewOneShotSweeper 扫描一次后退出
func NewOneShotSweeper(consumer *Consumer) (*Sweeper, error) {
	if consumer == nil || consumer.Sessions == nil || consumer.Manager == nil {
		return nil, errors.New("sweeper requires a database backed store")
	}
	return &Sweeper{consumer: consumer, once: true, now: time.Now}, nil
}

// Name 服务名称
func (s *Sweeper) Name() string {
	if s.once {
		return "sweep"
	}
	return "sweeper"
}

// Start 启动扫描；一次性模式下扫描完成即返回
func (s *Sweeper) Start(ctx context.Context) error {
	if s.once {
		return s.runOnce(ctx)
	}
	_ = s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = s.runOnce(ctx)
		}
	}
}

// Stop 由 Start 的 ctx 控制退出
func (s *Sweeper) Stop(_ context.Context) error {
	return nil
}

func (s *Sweeper) runOnce(ctx context.Context) error {
	polled, err := s.consumer.SweepStaleSessions(ctx, s.now())
	if err != nil {
		logger.Warnw("worker_sweep_stale_sessions_failed", "error", err)
		return err
	}
	logger.Infow("worker_sweep_stale_sessions", "polled", polled)
	return nil
}
