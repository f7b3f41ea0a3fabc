package main

import (
	"github.com/calmify/wellness-backend/server/config"
	"github.com/calmify/wellness-backend/server/handlers"
	"github.com/calmify/wellness-backend/server/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type routeHandlers struct {
	emotion   *handlers.EmotionHandler
	stress    *handlers.StressHandler
	chat      *handlers.ChatHandler
	websocket *handlers.WebSocketHandler
}

func newRouter(cfg *config.Config, logger *zap.Logger, rateLimiter *middleware.RateLimiter, h routeHandlers) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Security.AllowedOrigins))
	router.Use(middleware.RequestSizeLimit(cfg.Security.MaxRequestSize))
	router.Use(middleware.InputValidation())
	router.Use(middleware.TimeoutHandler(cfg.Security.RequestTimeout))

	limit := rateLimiter.RateLimit()
	chatLimit := rateLimiter.RateLimitWithConfig(
		max(1, cfg.Security.RateLimitRPS/4),
		max(1, cfg.Security.RateLimitBurst/4),
	)

	router.GET("/health", middleware.HealthCheck())

	router.GET("/ws", limit, h.websocket.HandleWebSocket)

	// Paths the mobile client already calls.
	router.POST("/detect_emotion", limit, h.emotion.DetectEmotion)
	router.POST("/predict", limit, h.stress.PredictStress)
	router.POST("/chat", chatLimit, h.chat.Chat)

	api := router.Group("/api/v1")
	{
		api.GET("/health", middleware.HealthCheck())

		limited := api.Group("/")
		limited.Use(limit)
		{
			limited.POST("/emotion/detect", h.emotion.DetectEmotion)
			limited.GET("/emotion/trend", h.emotion.GetTrend)
			limited.GET("/emotion/history", h.emotion.GetHistory)
			limited.POST("/stress/predict", h.stress.PredictStress)
			limited.GET("/stats", h.emotion.GetStats)
		}

		api.POST("/chat", chatLimit, h.chat.Chat)
	}

	return router
}
