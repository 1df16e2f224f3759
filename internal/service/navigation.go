package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pickupdrop/checkout/internal/constants"
	"github.com/pickupdrop/checkout/internal/models"
)

// Navigator 执行页面跳转与外部网关跳转
type Navigator interface {
	Navigate(ctx context.Context, route models.Route) error
	Redirect(ctx context.Context, target string) error
}

// CheckoutRoute 返回结算页
func CheckoutRoute() models.Route {
	return models.Route{Name: constants.RouteCheckout}
}

// OrdersRoute 返回订单列表页
func OrdersRoute(marker string) models.Route {
	route := models.Route{Name: constants.RouteOrders}
	if marker != "" {
		route.Query = map[string]string{constants.QueryPaymentMarker: marker}
	}
	return route
}

// OrderDetailRoute 返回订单详情页，marker 为空时不带支付标记
func OrderDetailRoute(reference, marker string) models.Route {
	route := models.Route{
		Name:   constants.RouteOrderDetail,
		Params: map[string]string{constants.RouteParamReference: strings.TrimSpace(reference)},
	}
	if marker != "" {
		route.Query = map[string]string{constants.QueryPaymentMarker: marker}
	}
	return route
}

// LoginRoute 返回登录页并携带继续结算的路径
func LoginRoute(continuePath string) models.Route {
	continuePath = strings.TrimSpace(continuePath)
	if continuePath == "" {
		continuePath = constants.DefaultContinuePath
	}
	return models.Route{
		Name:  constants.RouteLogin,
		Query: map[string]string{constants.QueryRedirect: continuePath},
	}
}

// NavigationRecorder 记录最后一次跳转决策，供 HTTP 层渲染响应
type NavigationRecorder struct {
	mu       sync.Mutex
	route    *models.Route
	redirect string
}

// NewNavigationRecorder 创建跳转记录器
func NewNavigationRecorder() *NavigationRecorder {
	return &NavigationRecorder{}
}

// Navigate 记录页面跳转
func (r *NavigationRecorder) Navigate(_ context.Context, route models.Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.route = &route
	r.redirect = ""
	return nil
}

// Redirect 记录外部跳转
func (r *NavigationRecorder) Redirect(_ context.Context, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redirect = target
	r.route = nil
	return nil
}

// Route 最后一次页面跳转
func (r *NavigationRecorder) Route() (models.Route, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.route == nil {
		return models.Route{}, false
	}
	return *r.route, true
}

// RedirectURL 最后一次外部跳转地址
func (r *NavigationRecorder) RedirectURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.redirect
}

type discardNavigator struct{}

func (discardNavigator) Navigate(context.Context, models.Route) error { return nil }
func (discardNavigator) Redirect(context.Context, string) error       { return nil }

func navigatorOrDiscard(nav Navigator) Navigator {
	if nav == nil {
		return discardNavigator{}
	}
	return nav
}

// LeaveGuard 跳转网关期间阻止意外离开
type LeaveGuard struct {
	armed atomic.Bool
}

// Arm 开启离开保护
func (g *LeaveGuard) Arm() {
	g.armed.Store(true)
}

// Release 解除离开保护
func (g *LeaveGuard) Release() {
	g.armed.Store(false)
}

// Armed 是否处于保护中
func (g *LeaveGuard) Armed() bool {
	return g.armed.Load()
}
