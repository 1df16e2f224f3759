package public

import "github.com/pickupdrop/checkout/internal/provider"

// Handler 结算接口处理器入口
// 说明：所有接口都以 X-Checkout-Session 标识的会话为作用域。
type Handler struct {
	*provider.Container
}

// New 创建结算处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
