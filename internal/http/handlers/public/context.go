package public

import (
	handlershared "github.com/pickupdrop/checkout/internal/http/handlers/shared"
	"github.com/pickupdrop/checkout/internal/http/response"
	"github.com/pickupdrop/checkout/internal/service"

	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, code int, key string, err error) {
	handlershared.RespondError(c, code, key, err)
}

// getCheckout 获取当前会话的结算组件
func (h *Handler) getCheckout(c *gin.Context) (*service.Checkout, bool) {
	if h == nil || h.Container == nil || h.CheckoutManager == nil {
		respondError(c, response.CodeInternal, "error.checkout_state_failed", nil)
		return nil, false
	}
	checkout, err := h.CheckoutManager.Session(handlershared.SessionID(c))
	if err != nil {
		respondCheckoutError(c, err)
		return nil, false
	}
	return checkout, true
}

// frontendURL 回跳页面的前端根地址
func (h *Handler) frontendURL() string {
	if h == nil || h.Container == nil || h.Config == nil {
		return ""
	}
	return h.Config.Server.FrontendURL
}
