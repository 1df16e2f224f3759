package shared

import (
	"github.com/pickupdrop/checkout/internal/http/response"
	"github.com/pickupdrop/checkout/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLog 返回带 request_id 与会话 ID 的日志实例。
func RequestLog(c *gin.Context) *zap.SugaredLogger {
	if c == nil || c.Request == nil {
		return logger.S()
	}
	if sessionID := SessionID(c); sessionID != "" {
		return logger.FromContext(c.Request.Context(), "session_id", sessionID)
	}
	return logger.FromContext(c.Request.Context())
}

// RespondError 按消息 key 返回错误响应，并在有原始错误时记录日志。
func RespondError(c *gin.Context, code int, key string, err error) {
	RespondErrorWithData(c, code, key, err, nil)
}

// RespondErrorWithData 返回带数据的错误响应，用于同时下发跳转决策。
func RespondErrorWithData(c *gin.Context, code int, key string, err error, data interface{}) {
	msg := response.Message(key)
	if err != nil {
		log := RequestLog(c).With("code", code, "message_key", key, "error", err)
		if code >= response.CodeInternal {
			log.Errorw("handler_error")
		} else {
			log.Warnw("handler_error")
		}
	}
	if data == nil {
		response.Error(c, code, msg)
		return
	}
	response.ErrorWithData(c, code, msg, data)
}
