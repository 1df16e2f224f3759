package public

import (
	"github.com/pickupdrop/checkout/internal/http/response"
	"github.com/pickupdrop/checkout/internal/models"

	"github.com/gin-gonic/gin"
)

// CartRequest 购物车与结算草稿保存请求
type CartRequest struct {
	Items []models.CartItem     `json:"items"`
	Draft *models.CheckoutDraft `json:"draft"`
}

// CartResponse 购物车响应
type CartResponse struct {
	Items []models.CartItem     `json:"items"`
	Draft *models.CheckoutDraft `json:"draft,omitempty"`
}

// GetCart 获取购物车
func (h *Handler) GetCart(c *gin.Context) {
	checkout, ok := h.getCheckout(c)
	if !ok {
		return
	}
	snapshot, err := checkout.Snapshot(c.Request.Context())
	if err != nil {
		respondCheckoutError(c, err)
		return
	}
	response.Success(c, buildCartResponse(snapshot))
}

// PutCart 覆盖保存购物车
func (h *Handler) PutCart(c *gin.Context) {
	checkout, ok := h.getCheckout(c)
	if !ok {
		return
	}

	var req CartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	items := make([]models.CartItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.ServiceID == "" || item.Quantity <= 0 {
			continue
		}
		items = append(items, item)
	}

	snapshot, err := checkout.SaveCart(c.Request.Context(), items, req.Draft)
	if err != nil {
		respondCheckoutError(c, err)
		return
	}
	response.Success(c, buildCartResponse(snapshot))
}

func buildCartResponse(snapshot *models.CheckoutSnapshot) CartResponse {
	resp := CartResponse{Items: []models.CartItem{}}
	if snapshot == nil {
		return resp
	}
	if len(snapshot.Cart) > 0 {
		resp.Items = snapshot.Cart
	}
	resp.Draft = snapshot.Draft
	return resp
}
