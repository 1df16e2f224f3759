package queue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pickupdrop/checkout/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskOrderStatusPoll 订单状态轮询任务
	TaskOrderStatusPoll = constants.TaskOrderStatusPoll
)

// OrderStatusPollPayload 订单状态轮询任务载荷
type OrderStatusPollPayload struct {
	SessionID      string `json:"session_id"`
	OrderReference string `json:"order_reference"`
	Attempt        int    `json:"attempt"`
}

// NewOrderStatusPollTask 创建订单状态轮询任务
func NewOrderStatusPollTask(payload OrderStatusPollPayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.SessionID) == "" || strings.TrimSpace(payload.OrderReference) == "" {
		return nil, fmt.Errorf("order status poll payload requires session id and order reference")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderStatusPoll, body), nil
}

// ParseOrderStatusPollPayload 解析订单状态轮询任务载荷
func ParseOrderStatusPollPayload(body []byte) (OrderStatusPollPayload, error) {
	var payload OrderStatusPollPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return payload, err
	}
	payload.SessionID = strings.TrimSpace(payload.SessionID)
	payload.OrderReference = strings.TrimSpace(payload.OrderReference)
	if payload.SessionID == "" || payload.OrderReference == "" {
		return payload, fmt.Errorf("order status poll payload requires session id and order reference")
	}
	return payload, nil
}
