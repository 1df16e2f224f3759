package public

import (
	"errors"
	"strings"

	"github.com/pickupdrop/checkout/internal/http/response"
	"github.com/pickupdrop/checkout/internal/service"

	"github.com/gin-gonic/gin"
)

// GetOrderStatus 查询订单状态，已结算时清理本地结算状态
func (h *Handler) GetOrderStatus(c *gin.Context) {
	checkout, ok := h.getCheckout(c)
	if !ok {
		return
	}
	reference := strings.TrimSpace(c.Param("reference"))
	if reference == "" {
		respondError(c, response.CodeBadRequest, "error.order_reference_required", nil)
		return
	}

	result, err := checkout.Poller.Poll(c.Request.Context(), reference)
	if err != nil {
		if errors.Is(err, service.ErrAuthExpired) {
			route := checkout.Guard.Expire(c.Request.Context())
			respondWithMappedErrorData(c, err, checkoutCommonErrorRules, response.CodeUnauthorized, "error.auth_expired", &SubmitResponse{
				Action: service.SubmitNavigated,
				Route:  &route,
				Path:   route.Path(),
			})
			return
		}
		respondOrderStatusError(c, err)
		return
	}
	response.Success(c, result)
}
