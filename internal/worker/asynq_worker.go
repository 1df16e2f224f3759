package worker

import (
	"context"
	"errors"
	"time"

	"github.com/pickupdrop/checkout/internal/backend"
	"github.com/pickupdrop/checkout/internal/config"
	"github.com/pickupdrop/checkout/internal/logger"
	"github.com/pickupdrop/checkout/internal/provider"
	"github.com/pickupdrop/checkout/internal/queue"
	"github.com/pickupdrop/checkout/internal/service"

	"github.com/hibiken/asynq"
)

// NamespaceLister 列出长时间未更新的会话
type NamespaceLister interface {
	ListNamespacesUpdatedBefore(ctx context.Context, before time.Time, limit int) ([]string, error)
}

// Consumer 异步任务消费者
type Consumer struct {
	Manager   *service.CheckoutManager
	Scheduler service.PollScheduler
	Sessions  NamespaceLister
	Poller    config.PollerConfig
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	if c == nil {
		return &Consumer{}
	}
	consumer := &Consumer{Manager: c.CheckoutManager}
	if c.QueueClient != nil {
		consumer.Scheduler = c.QueueClient
	}
	if c.CheckoutEntryRepo != nil {
		consumer.Sessions = c.CheckoutEntryRepo
	}
	if c.Config != nil {
		consumer.Poller = c.Config.Poller
	}
	return consumer
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskOrderStatusPoll, c.handleOrderStatusPoll)
}

func (c *Consumer) handleOrderStatusPoll(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil || c.Manager == nil {
		logger.Debugw("worker_order_status_poll_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	payload, err := queue.ParseOrderStatusPollPayload(task.Payload())
	if err != nil {
		logger.Warnw("worker_order_status_poll_unmarshal_failed", "error", err)
		return err
	}
	return c.pollOnce(ctx, payload)
}

// pollOnce 查询一次订单状态，未结算时按间隔重新入队
func (c *Consumer) pollOnce(ctx context.Context, payload queue.OrderStatusPollPayload) error {
	log := logger.ForSession(ctx, payload.SessionID, "order_reference", payload.OrderReference, "attempt", payload.Attempt)
	checkout, err := c.Manager.Session(payload.SessionID)
	if err != nil {
		log.Warnw("worker_order_status_poll_session_failed", "error", err)
		return nil
	}
	tracked, err := checkout.TracksOrder(ctx, payload.OrderReference)
	if err != nil {
		log.Warnw("worker_order_status_poll_load_failed", "error", err)
		return c.reschedule(ctx, payload)
	}
	if !tracked {
		log.Debugw("worker_order_status_poll_skip_untracked")
		return nil
	}

	result, err := checkout.Poller.Poll(ctx, payload.OrderReference)
	switch {
	case err == nil:
		if result.Settled || result.Terminal {
			log.Infow("worker_order_status_poll_done", "status", result.Order.Status, "cleaned_up", result.CleanedUp)
			return nil
		}
	case errors.Is(err, service.ErrAuthExpired):
		log.Infow("worker_order_status_poll_skip_auth_expired")
		return nil
	case errors.Is(err, backend.ErrNotFound), errors.Is(err, service.ErrOrderReferenceRequired):
		log.Warnw("worker_order_status_poll_skip_order_missing", "error", err)
		return nil
	default:
		log.Warnw("worker_order_status_poll_failed", "error", err)
	}
	return c.reschedule(ctx, payload)
}

func (c *Consumer) reschedule(ctx context.Context, payload queue.OrderStatusPollPayload) error {
	log := logger.ForSession(ctx, payload.SessionID, "order_reference", payload.OrderReference, "attempt", payload.Attempt)
	if payload.Attempt >= c.Poller.AttemptLimit() {
		log.Infow("worker_order_status_poll_give_up")
		return nil
	}
	if c.Scheduler == nil {
		log.Debugw("worker_order_status_poll_skip_no_scheduler")
		return nil
	}
	next := payload
	next.Attempt++
	if err := c.Scheduler.EnqueueOrderStatusPoll(next, c.Poller.Interval()); err != nil {
		log.Warnw("worker_order_status_poll_enqueue_failed", "error", err)
		return err
	}
	return nil
}

// SweepStaleSessions 对长时间未更新且仍有待结算订单的会话补发一次轮询
func (c *Consumer) SweepStaleSessions(ctx context.Context, now time.Time) (int, error) {
	if c == nil || c.Sessions == nil || c.Manager == nil {
		return 0, nil
	}
	namespaces, err := c.Sessions.ListNamespacesUpdatedBefore(ctx, now.Add(-c.Poller.StaleAfter()), c.Poller.BatchSize())
	if err != nil {
		return 0, err
	}
	polled := 0
	for _, namespace := range namespaces {
		checkout, err := c.Manager.Session(namespace)
		if err != nil {
			logger.Warnw("worker_sweep_session_failed", "session_id", namespace, "error", err)
			continue
		}
		pending, err := checkout.Pending.Read(ctx)
		if err != nil {
			logger.Warnw("worker_sweep_pending_read_failed", "session_id", namespace, "error", err)
			continue
		}
		if pending == nil {
			continue
		}
		// 兜底扫描只查一次，不再重新入队
		payload := queue.OrderStatusPollPayload{
			SessionID:      namespace,
			OrderReference: pending.OrderReference,
			Attempt:        c.Poller.AttemptLimit(),
		}
		if err := c.pollOnce(ctx, payload); err != nil {
			logger.Warnw("worker_sweep_poll_failed", "session_id", namespace, "error", err)
			continue
		}
		polled++
	}
	return polled, nil
}
