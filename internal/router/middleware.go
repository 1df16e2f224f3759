package router

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pickupdrop/checkout/internal/config"
	"github.com/pickupdrop/checkout/internal/constants"
	handlershared "github.com/pickupdrop/checkout/internal/http/handlers/shared"
	"github.com/pickupdrop/checkout/internal/http/response"
	"github.com/pickupdrop/checkout/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

var defaultCORSHeaders = []string{
	"Content-Type",
	"Accept-Encoding",
	"Authorization",
	"Cache-Control",
	"X-Requested-With",
	requestIDHeader,
	constants.SessionHeader,
}

// corsPolicy 预先计算好的跨域响应头
type corsPolicy struct {
	anyOrigin   bool
	origins     map[string]struct{}
	credentials bool
	methods     string
	headers     string
	maxAge      string
}

func newCORSPolicy(cfg config.CORSConfig) corsPolicy {
	policy := corsPolicy{
		origins:     make(map[string]struct{}),
		credentials: cfg.AllowCredentials,
		methods:     "GET, POST, PUT, DELETE, OPTIONS",
		headers:     strings.Join(defaultCORSHeaders, ", "),
	}
	for _, origin := range cfg.AllowedOrigins {
		origin = strings.ToLower(strings.TrimSpace(origin))
		if origin == "*" {
			policy.anyOrigin = true
		} else if origin != "" {
			policy.origins[origin] = struct{}{}
		}
	}
	if len(cfg.AllowedOrigins) == 0 {
		policy.anyOrigin = true
	}
	if len(cfg.AllowedMethods) > 0 {
		policy.methods = strings.Join(cfg.AllowedMethods, ", ")
	}
	if len(cfg.AllowedHeaders) > 0 {
		policy.headers = strings.Join(cfg.AllowedHeaders, ", ")
	}
	if cfg.MaxAge > 0 {
		policy.maxAge = strconv.Itoa(cfg.MaxAge)
	}
	return policy
}

// allowOrigin 返回应写入 Access-Control-Allow-Origin 的值，空串表示不允许。
// 携带凭证时不能返回 *，改为回显来源。
func (p corsPolicy) allowOrigin(origin string) string {
	origin = strings.TrimSpace(origin)
	if p.anyOrigin {
		if p.credentials && origin != "" {
			return origin
		}
		return "*"
	}
	if _, ok := p.origins[strings.ToLower(origin)]; ok && origin != "" {
		return origin
	}
	return ""
}

// CORSMiddleware 跨域中间件
func CORSMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	policy := newCORSPolicy(cfg)
	return func(c *gin.Context) {
		header := c.Writer.Header()
		if origin := policy.allowOrigin(c.GetHeader("Origin")); origin != "" {
			header.Set("Access-Control-Allow-Origin", origin)
			if origin != "*" {
				header.Add("Vary", "Origin")
			}
		}
		if policy.credentials {
			header.Set("Access-Control-Allow-Credentials", "true")
		}
		header.Set("Access-Control-Allow-Headers", policy.headers)
		header.Set("Access-Control-Allow-Methods", policy.methods)
		header.Set("Access-Control-Expose-Headers", requestIDHeader)
		if policy.maxAge != "" {
			header.Set("Access-Control-Max-Age", policy.maxAge)
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestIDMiddleware 透传或生成请求 ID，并挂到请求 ctx 的日志字段上
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		c.Set(constants.RequestIDContextKey, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), "request_id", requestID))
		c.Next()
	}
}

// LoggerMiddleware 请求日志，5xx 与处理器错误记为 error
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log := handlershared.RequestLog(c).With(
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
		switch {
		case len(c.Errors) > 0:
			log.Errorw("request", "errors", c.Errors.String())
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Errorw("request")
		default:
			log.Infow("request")
		}
	}
}

// SessionMiddleware 解析结算会话 ID，缺失时拒绝请求
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := handlershared.ResolveSessionID(c)
		if sessionID == "" {
			response.BadRequest(c, response.Message("error.session_required"))
			c.Abort()
			return
		}
		c.Set(constants.SessionContextKey, sessionID)
		c.Next()
	}
}

// OptionalSessionMiddleware 解析结算会话 ID，缺失时交由处理器决定
func OptionalSessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if sessionID := handlershared.ResolveSessionID(c); sessionID != "" {
			c.Set(constants.SessionContextKey, sessionID)
		}
		c.Next()
	}
}
