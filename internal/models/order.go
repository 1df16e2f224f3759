package models

import (
	"strings"
	"time"

	"github.com/pickupdrop/checkout/internal/constants"
)

// Order 后端订单（本服务只读）
type Order struct {
	Reference string     `json:"reference"`
	Status    string     `json:"status"`
	Total     Money      `json:"total"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// IsSettled PROCESSING 与 FULFILLED 视为结算完成
func (o *Order) IsSettled() bool {
	if o == nil {
		return false
	}
	return IsSettledStatus(o.Status)
}

// IsTerminalFailure 订单已失败或已取消
func (o *Order) IsTerminalFailure() bool {
	if o == nil {
		return false
	}
	switch strings.ToUpper(strings.TrimSpace(o.Status)) {
	case constants.OrderStatusFailed, constants.OrderStatusCancelled:
		return true
	}
	return false
}

// IsSettledStatus 判断状态是否代表结算完成
func IsSettledStatus(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case constants.OrderStatusProcessing, constants.OrderStatusFulfilled:
		return true
	}
	return false
}
