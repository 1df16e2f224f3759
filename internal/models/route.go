package models

import (
	"net/url"
	"strings"

	"github.com/pickupdrop/checkout/internal/constants"
)

// Route 页面跳转目标
type Route struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`
	Query  map[string]string `json:"query,omitempty"`
}

// Path 将路由渲染为前端路径
func (r Route) Path() string {
	var path string
	switch r.Name {
	case constants.RouteOrderDetail:
		path = "/orders/" + url.PathEscape(strings.TrimSpace(r.Params[constants.RouteParamReference]))
	case constants.RouteOrders:
		path = "/orders"
	case constants.RouteLogin:
		path = "/login"
	default:
		path = "/checkout"
	}
	if len(r.Query) == 0 {
		return path
	}
	values := url.Values{}
	for key, value := range r.Query {
		values.Set(key, value)
	}
	return path + "?" + values.Encode()
}
