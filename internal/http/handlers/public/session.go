package public

import (
	"github.com/pickupdrop/checkout/internal/constants"
	"github.com/pickupdrop/checkout/internal/http/response"

	"github.com/gin-gonic/gin"
)

const sessionCookieMaxAge = 30 * 24 * 3600

// SessionRequest 登录凭证写入请求
type SessionRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// PutSession 保存登录时获取的凭证
func (h *Handler) PutSession(c *gin.Context) {
	checkout, ok := h.getCheckout(c)
	if !ok {
		return
	}

	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}

	session, err := checkout.Guard.SetSession(c.Request.Context(), req.AccessToken, req.RefreshToken)
	if err != nil {
		respondSessionError(c, err)
		return
	}

	// 网关回跳时浏览器不会携带自定义请求头，使用 Cookie 定位会话
	c.SetCookie(constants.SessionCookie, checkout.SessionID, sessionCookieMaxAge, "/", "", c.Request.TLS != nil, true)
	response.Success(c, gin.H{
		"user_id": session.UserID,
		"expiry":  session.Expiry,
	})
}

// DeleteSession 退出登录，丢弃凭证
func (h *Handler) DeleteSession(c *gin.Context) {
	checkout, ok := h.getCheckout(c)
	if !ok {
		return
	}
	if err := checkout.Guard.Logout(c.Request.Context()); err != nil {
		respondCheckoutError(c, err)
		return
	}
	response.Success(c, nil)
}
