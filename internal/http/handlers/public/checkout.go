package public

import (
	"github.com/pickupdrop/checkout/internal/http/response"
	"github.com/pickupdrop/checkout/internal/models"
	"github.com/pickupdrop/checkout/internal/service"

	"github.com/gin-gonic/gin"
)

// CheckoutRequest 结算请求，未填写的字段回落到已保存的购物车与草稿
type CheckoutRequest struct {
	Items      []models.CartItem       `json:"items"`
	Phone      string                  `json:"phone"`
	Delivery   *models.LocationFee     `json:"delivery"`
	Pickup     *models.LocationFee     `json:"pickup"`
	UseSame    *bool                   `json:"use_same"`
	PickupSlot string                  `json:"pickup_slot"`
	Discounts  []models.DiscountRecord `json:"discounts"`
	Promotion  *models.DiscountRecord  `json:"promotion"`
}

// SummaryResponse 金额预览响应
type SummaryResponse struct {
	Summary   *models.OrderSummary     `json:"summary"`
	Discounts []models.DiscountPayload `json:"discounts"`
}

// SubmitResponse 下单响应
type SubmitResponse struct {
	Action               string        `json:"action"`
	URL                  string        `json:"url,omitempty"`
	Route                *models.Route `json:"route,omitempty"`
	Path                 string        `json:"path,omitempty"`
	TransactionReference string        `json:"transaction_reference,omitempty"`
	OrderReference       string        `json:"order_reference,omitempty"`
}

// PendingResponse 待结算订单响应
type PendingResponse struct {
	Pending   *models.PendingOrder      `json:"pending"`
	LastOrder *models.LastOrderSnapshot `json:"last_order"`
}

// PreviewSummary 金额预览，不发起任何后端请求
func (h *Handler) PreviewSummary(c *gin.Context) {
	checkout, ok := h.getCheckout(c)
	if !ok {
		return
	}
	req, ok := h.bindCheckoutRequest(c, checkout)
	if !ok {
		return
	}

	summary := service.CalculateSummary(service.SummaryInput{
		Cart:      req.Items,
		Delivery:  req.Delivery,
		Pickup:    req.Pickup,
		UseSame:   useSame(req),
		Discounts: req.Discounts,
		Promotion: req.Promotion,
	})
	discounts := service.BuildDiscountPayload(summary, service.EligibilityFromRecords(req.Discounts, req.Promotion))
	if discounts == nil {
		discounts = []models.DiscountPayload{}
	}
	response.Success(c, SummaryResponse{Summary: summary, Discounts: discounts})
}

// SubmitCheckout 提交订单并返回跳转决策
func (h *Handler) SubmitCheckout(c *gin.Context) {
	checkout, ok := h.getCheckout(c)
	if !ok {
		return
	}
	req, ok := h.bindCheckoutRequest(c, checkout)
	if !ok {
		return
	}

	nav := service.NewNavigationRecorder()
	outcome, err := checkout.Submitter.Submit(c.Request.Context(), service.SubmitInput{
		Cart:       req.Items,
		Phone:      req.Phone,
		Delivery:   req.Delivery,
		Pickup:     req.Pickup,
		UseSame:    useSame(req),
		PickupSlot: req.PickupSlot,
		Discounts:  req.Discounts,
		Promotion:  req.Promotion,
		Navigator:  nav,
	})
	if err != nil {
		respondSubmitError(c, err, buildSubmitResponse(outcome, nav))
		return
	}
	response.Success(c, buildSubmitResponse(outcome, nav))
}

// GetPending 获取待结算订单与最近下单快照
func (h *Handler) GetPending(c *gin.Context) {
	checkout, ok := h.getCheckout(c)
	if !ok {
		return
	}
	snapshot, err := checkout.Snapshot(c.Request.Context())
	if err != nil {
		respondCheckoutError(c, err)
		return
	}
	response.Success(c, PendingResponse{Pending: snapshot.Pending, LastOrder: snapshot.LastOrder})
}

// AbandonCheckout 主动放弃结算，清除待结算订单与购物车，保留登录凭证
func (h *Handler) AbandonCheckout(c *gin.Context) {
	checkout, ok := h.getCheckout(c)
	if !ok {
		return
	}
	if err := checkout.Abandon(c.Request.Context()); err != nil {
		respondCheckoutError(c, err)
		return
	}
	response.Success(c, nil)
}

// bindCheckoutRequest 解析请求并用已保存的购物车与草稿补齐
func (h *Handler) bindCheckoutRequest(c *gin.Context, checkout *service.Checkout) (*CheckoutRequest, bool) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return nil, false
	}
	snapshot, err := checkout.Snapshot(c.Request.Context())
	if err != nil {
		respondCheckoutError(c, err)
		return nil, false
	}
	mergeSavedCheckout(&req, snapshot)
	return &req, true
}

func mergeSavedCheckout(req *CheckoutRequest, snapshot *models.CheckoutSnapshot) {
	if req == nil || snapshot == nil {
		return
	}
	if len(req.Items) == 0 {
		req.Items = snapshot.Cart
	}
	draft := snapshot.Draft
	if draft == nil {
		return
	}
	if req.Phone == "" {
		req.Phone = draft.Phone
	}
	if req.Delivery == nil {
		req.Delivery = draft.Delivery
	}
	if req.Pickup == nil {
		req.Pickup = draft.Pickup
	}
	if req.UseSame == nil {
		value := draft.UseSame
		req.UseSame = &value
	}
	if req.PickupSlot == "" {
		req.PickupSlot = draft.PickupSlot
	}
}

func useSame(req *CheckoutRequest) bool {
	return req != nil && req.UseSame != nil && *req.UseSame
}

func buildSubmitResponse(outcome *service.SubmitOutcome, nav *service.NavigationRecorder) interface{} {
	if outcome == nil {
		return nil
	}
	resp := &SubmitResponse{
		Action:               outcome.Action,
		URL:                  outcome.RedirectURL,
		Route:                outcome.Route,
		TransactionReference: outcome.TransactionReference,
		OrderReference:       outcome.OrderReference,
	}
	if resp.URL == "" && nav != nil {
		resp.URL = nav.RedirectURL()
	}
	if resp.Route != nil {
		resp.Path = resp.Route.Path()
	}
	return resp
}
