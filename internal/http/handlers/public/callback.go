package public

import (
	"net/http"
	"strings"

	handlershared "github.com/pickupdrop/checkout/internal/http/handlers/shared"
	"github.com/pickupdrop/checkout/internal/models"
	"github.com/pickupdrop/checkout/internal/service"

	"github.com/gin-gonic/gin"
)

// CheckoutCallback 网关回跳入口，始终以 302 跳回前端页面
func (h *Handler) CheckoutCallback(c *gin.Context) {
	log := handlershared.RequestLog(c)
	if h == nil || h.Container == nil || h.CheckoutManager == nil {
		log.Errorw("checkout_callback_manager_missing")
		c.Redirect(http.StatusFound, h.frontendTarget(service.CheckoutRoute()))
		return
	}
	checkout, err := h.CheckoutManager.Session(handlershared.SessionID(c))
	if err != nil {
		log.Warnw("checkout_callback_session_missing", "error", err)
		c.Redirect(http.StatusFound, h.frontendTarget(service.CheckoutRoute()))
		return
	}

	nav := service.NewNavigationRecorder()
	resolution, err := checkout.Reconciler.Reconcile(c.Request.Context(), service.CallbackParams{
		Query:     c.Request.URL.Query(),
		Navigator: nav,
	})
	if err != nil {
		log.Warnw("checkout_callback_unresolved", "error", err)
	}

	route, ok := nav.Route()
	if !ok && resolution != nil {
		route = resolution.Route
	}
	if route.Name == "" {
		route = service.CheckoutRoute()
	}
	if resolution != nil {
		log.Infow("checkout_callback_resolved", "outcome", resolution.Outcome, "route", route.Name)
	}
	c.Redirect(http.StatusFound, h.frontendTarget(route))
}

// frontendTarget 拼接前端根地址与路由路径
func (h *Handler) frontendTarget(route models.Route) string {
	base := strings.TrimRight(strings.TrimSpace(h.frontendURL()), "/")
	return base + route.Path()
}
