package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pickupdrop/checkout/internal/config"
	"github.com/pickupdrop/checkout/internal/constants"

	"github.com/hibiken/asynq"
)

// Client 订单状态轮询的任务调度端
type Client struct {
	client *asynq.Client
	queue  string
}

// NewClient 创建调度端；队列未启用时返回错误
func NewClient(cfg *config.QueueConfig) (*Client, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	return &Client{
		client: asynq.NewClient(redisOpt(cfg)),
		queue:  constants.QueueDefault,
	}, nil
}

// Close 关闭调度端
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueOrderStatusPoll 延迟 delay 后查询一次订单状态。
// 同一会话、订单与轮次只会入队一次，重复入队视为成功。
func (c *Client) EnqueueOrderStatusPoll(payload OrderStatusPollPayload, delay time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}
	task, err := NewOrderStatusPollTask(payload)
	if err != nil {
		return err
	}
	if delay < 0 {
		delay = 0
	}
	_, err = c.client.Enqueue(task,
		asynq.Queue(c.queue),
		asynq.TaskID(PollTaskID(payload)),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(0),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

// PollTaskID 轮询任务去重标识
func PollTaskID(payload OrderStatusPollPayload) string {
	return fmt.Sprintf("%s:%s:%s:%d", TaskOrderStatusPoll, payload.SessionID, payload.OrderReference, payload.Attempt)
}

// BuildServerConfig 生成消费端配置
func BuildServerConfig(cfg *config.QueueConfig) (asynq.RedisClientOpt, asynq.Config) {
	serverCfg := asynq.Config{
		Concurrency: 10,
		Queues:      map[string]int{constants.QueueDefault: 1},
	}
	if cfg != nil {
		if cfg.Concurrency > 0 {
			serverCfg.Concurrency = cfg.Concurrency
		}
		if len(cfg.Queues) > 0 {
			serverCfg.Queues = cfg.Queues
		}
	}
	return redisOpt(cfg), serverCfg
}

func redisOpt(cfg *config.QueueConfig) asynq.RedisClientOpt {
	opt := asynq.RedisClientOpt{Addr: "127.0.0.1:6379"}
	if cfg == nil {
		return opt
	}
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		port = 6379
	}
	opt.Addr = fmt.Sprintf("%s:%d", host, port)
	opt.Password = cfg.Password
	opt.DB = cfg.DB
	return opt
}
