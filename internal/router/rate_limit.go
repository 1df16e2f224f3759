package router

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pickupdrop/checkout/internal/config"
	"github.com/pickupdrop/checkout/internal/constants"
	handlershared "github.com/pickupdrop/checkout/internal/http/handlers/shared"
	"github.com/pickupdrop/checkout/internal/http/response"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimitKeyFunc 生成限流 key
type RateLimitKeyFunc func(*gin.Context) string

// RateLimitRule 固定窗口限流规则
type RateLimitRule struct {
	Prefix      string
	Window      time.Duration
	MaxRequests int64
}

// SubmitRateLimitRule 下单接口限流规则，未启用时返回空规则
func SubmitRateLimitRule(cfg config.RateLimitConfig, redisPrefix string) RateLimitRule {
	if !cfg.Enabled {
		return RateLimitRule{}
	}
	redisPrefix = strings.TrimSpace(redisPrefix)
	if redisPrefix == "" {
		redisPrefix = constants.RedisPrefixDefault
	}
	return RateLimitRule{
		Prefix:      redisPrefix + ":rate:submit",
		Window:      time.Duration(cfg.SubmitWindowSeconds) * time.Second,
		MaxRequests: int64(cfg.SubmitMaxRequests),
	}
}

// 返回 {当前计数, 剩余秒数}
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return {current, redis.call("TTL", KEYS[1])}
`)

// RateLimitMiddleware 基于 Redis 的固定窗口限流；Redis 不可用时放行并记录告警
func RateLimitMiddleware(client *redis.Client, rule RateLimitRule, keyFunc RateLimitKeyFunc) gin.HandlerFunc {
	windowSeconds := int64(rule.Window / time.Second)
	return func(c *gin.Context) {
		if client == nil || windowSeconds <= 0 || rule.MaxRequests <= 0 {
			c.Next()
			return
		}
		key := rateLimitKey(c, rule.Prefix, keyFunc)
		values, err := fixedWindowScript.Run(c.Request.Context(), client, []string{key}, windowSeconds).Int64Slice()
		if err != nil || len(values) < 2 {
			handlershared.RequestLog(c).Warnw("rate_limit_unavailable", "key", key, "error", err)
			c.Next()
			return
		}
		if values[0] > rule.MaxRequests {
			wait := retryAfterSeconds(values[1], windowSeconds)
			c.Header("Retry-After", strconv.FormatInt(wait, 10))
			response.Error(c, response.CodeTooManyRequests, response.Messagef("error.rate_limited", wait))
			c.Abort()
			return
		}
		c.Next()
	}
}

func rateLimitKey(c *gin.Context, prefix string, keyFunc RateLimitKeyFunc) string {
	key := ""
	if keyFunc != nil {
		key = strings.TrimSpace(keyFunc(c))
	}
	if key == "" {
		key = c.ClientIP()
	}
	if prefix == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", prefix, key)
}

// retryAfterSeconds TTL 异常时退回整个窗口，至少 1 秒
func retryAfterSeconds(ttl, window int64) int64 {
	if ttl >= 1 {
		return ttl
	}
	if window >= 1 {
		return window
	}
	return 1
}

// KeyBySession 按结算会话限流，缺失时回落到 IP
func KeyBySession(c *gin.Context) string {
	if sessionID := handlershared.SessionID(c); sessionID != "" {
		return "session|" + sessionID
	}
	return c.ClientIP()
}
