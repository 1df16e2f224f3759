package models

import "time"

// PendingOrder 等待网关结算的订单标记
type PendingOrder struct {
	OrderReference   string    `json:"order_reference"`
	GatewayReference string    `json:"gateway_reference"`
	Amount           Money     `json:"amount"`
	CreatedAt        time.Time `json:"created_at"`
}

// LastOrderSnapshot 最近一次下单的金额快照
type LastOrderSnapshot struct {
	OrderReference       string    `json:"order_reference"`
	TransactionReference string    `json:"transaction_reference"`
	Subtotal             Money     `json:"subtotal"`
	DeliveryFee          Money     `json:"delivery_fee"`
	PickupFee            Money     `json:"pickup_fee"`
	Total                Money     `json:"total"`
	CreatedAt            time.Time `json:"created_at"`
}

// FailedAttempt 下单失败快照，供人工排查使用
type FailedAttempt struct {
	TransactionReference string       `json:"transaction_reference"`
	Summary              OrderSummary `json:"summary"`
	Cart                 []CartItem   `json:"cart"`
	Error                string       `json:"error"`
	CreatedAt            time.Time    `json:"created_at"`
}

// CheckoutDraft 结算页草稿字段
type CheckoutDraft struct {
	Phone      string       `json:"phone,omitempty"`
	Delivery   *LocationFee `json:"delivery,omitempty"`
	Pickup     *LocationFee `json:"pickup,omitempty"`
	UseSame    bool         `json:"use_same"`
	PickupSlot string       `json:"pickup_slot,omitempty"`
}

// CheckoutSnapshot 单个会话的全部持久化状态
type CheckoutSnapshot struct {
	Session        *AuthSession       `json:"session,omitempty"`
	Pending        *PendingOrder      `json:"pending,omitempty"`
	LastOrder      *LastOrderSnapshot `json:"last_order,omitempty"`
	Cart           []CartItem         `json:"cart,omitempty"`
	Draft          *CheckoutDraft     `json:"draft,omitempty"`
	FailedAttempts []FailedAttempt    `json:"failed_attempts,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// ClearCheckoutState 清除结算相关状态，保留登录凭证
func (s *CheckoutSnapshot) ClearCheckoutState() {
	if s == nil {
		return
	}
	s.Pending = nil
	s.LastOrder = nil
	s.Cart = nil
	s.Draft = nil
}
