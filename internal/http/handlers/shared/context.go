package shared

import (
	"strings"

	"github.com/pickupdrop/checkout/internal/constants"

	"github.com/gin-gonic/gin"
)

// SessionID 读取中间件解析出的结算会话 ID。
func SessionID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	value, ok := c.Get(constants.SessionContextKey)
	if !ok {
		return ""
	}
	id, _ := value.(string)
	return strings.TrimSpace(id)
}

// ResolveSessionID 依次从请求头与 Cookie 中读取会话 ID。
func ResolveSessionID(c *gin.Context) string {
	if c == nil || c.Request == nil {
		return ""
	}
	if id := strings.TrimSpace(c.GetHeader(constants.SessionHeader)); id != "" {
		return id
	}
	if id, err := c.Cookie(constants.SessionCookie); err == nil {
		return strings.TrimSpace(id)
	}
	return ""
}
