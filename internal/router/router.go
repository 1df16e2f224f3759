package router

import (
	"github.com/pickupdrop/checkout/internal/config"
	publichandlers "github.com/pickupdrop/checkout/internal/http/handlers/public"
	"github.com/pickupdrop/checkout/internal/http/response"
	"github.com/pickupdrop/checkout/internal/logger"
	"github.com/pickupdrop/checkout/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	if logger.L == nil {
		logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	handler := publichandlers.New(c)
	submitRule := SubmitRateLimitRule(cfg.RateLimit, cfg.Redis.Prefix)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware(cfg.CORS))

	r.GET("/healthz", func(ctx *gin.Context) {
		response.Success(ctx, gin.H{"status": "ok"})
	})

	apiV1 := r.Group("/api/v1")
	{
		// 网关回跳由浏览器直接访问，只能依赖 Cookie 定位会话
		apiV1.GET("/checkout/callback", OptionalSessionMiddleware(), handler.CheckoutCallback)

		scoped := apiV1.Group("")
		scoped.Use(SessionMiddleware())
		{
			scoped.PUT("/session", handler.PutSession)
			scoped.DELETE("/session", handler.DeleteSession)

			scoped.GET("/cart", handler.GetCart)
			scoped.PUT("/cart", handler.PutCart)

			scoped.POST("/checkout/summary", handler.PreviewSummary)
			scoped.POST("/checkout/submit", RateLimitMiddleware(c.RedisClient, submitRule, KeyBySession), handler.SubmitCheckout)
			scoped.GET("/checkout/pending", handler.GetPending)
			scoped.DELETE("/checkout/pending", handler.AbandonCheckout)

			scoped.GET("/orders/:reference/status", handler.GetOrderStatus)
		}
	}

	return r
}
