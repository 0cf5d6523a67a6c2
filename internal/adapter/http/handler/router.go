package handler

import (
	"pesaflow/config"
	"pesaflow/internal/adapter/http/middleware"
	redisStore "pesaflow/internal/adapter/storage/redis"
	"pesaflow/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	PaymentSvc     ports.PaymentService
	Gateway        ports.GatewayClient
	Frontend       config.FrontendConfig
	APIKey         string                     // empty = inbound auth disabled
	Environment    string                     // sandbox or production, reported by /health
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.Environment, deps.HealthCheckers...))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	apiKeyAuth := middleware.APIKeyAuth(deps.APIKey, deps.Logger)
	paymentHandler := NewPaymentHandler(deps.PaymentSvc, deps.Gateway)
	channelHandler := NewChannelHandler(deps.PaymentSvc, deps.Frontend, deps.Logger)

	v1 := r.Group("/api/v1")
	payments := v1.Group("/payments")
	{
		// --- Merchant-facing (API key) ---
		payments.POST("", apiKeyAuth, rl("payments_create"), paymentHandler.Create)
		payments.GET("", apiKeyAuth, paymentHandler.List)
		payments.GET("/status/:reference", apiKeyAuth, rl("payments_status"), paymentHandler.GetStatus)
		payments.GET("/gateway/ping", apiKeyAuth, paymentHandler.GatewayPing)

		// --- Gateway-facing (unauthenticated; the gateway calls these) ---
		payments.GET("/callback", channelHandler.Callback)
		payments.GET("/cancel", channelHandler.Cancel)
		payments.POST("/ipn", channelHandler.IPN)
	}

	return r
}
